// Package azblob uploads encrypted content files to the Azure block-blob URI
// Intune hands out for a content file. The file is split into fixed-size
// blocks, PUT concurrently under a bounded gate, and finalized with a
// block-list commit that fixes the ordering.
package azblob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brewtune/brewtune/internal/common"
	"github.com/brewtune/brewtune/internal/logging"
)

const (
	maxBlockSize        = 100 * 1024 * 1024
	maxConcurrentBlocks = 4

	// attempts per block (and per block-list commit); only transient
	// network errors are retried.
	maxBlockAttempts = 3
	retryStep        = 2 * time.Second

	requestTimeout = 300 * time.Second
)

// Uploader performs chunked uploads to a block-blob SAS URI.
type Uploader struct {
	hc  *http.Client
	log logging.Logger

	// tuned down in tests
	blockSize   int64
	concurrency int64
	backoffStep time.Duration
}

func NewUploader(log logging.Logger) *Uploader {
	return &Uploader{
		hc:          &http.Client{Timeout: requestTimeout},
		log:         log,
		blockSize:   maxBlockSize,
		concurrency: maxConcurrentBlocks,
		backoffStep: retryStep,
	}
}

// Upload splits the file at path into blocks and PUTs them to blobURI with at
// most four in flight, then commits the block list. progress, if non-nil, is
// called after each completed block with (completed, total); blocks may
// finish in any order, but the committed list is always ascending by index.
func (u *Uploader) Upload(ctx context.Context, path, blobURI string, progress func(completed, total int)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening encrypted file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat encrypted file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return fmt.Errorf("refusing to upload empty file %s", path)
	}

	total := int((size + u.blockSize - 1) / u.blockSize)
	blockIDs := make([]string, total)
	for i := range blockIDs {
		blockIDs[i] = blockID(i)
	}

	u.log.Info(ctx, "starting chunked upload", "size", size, "blocks", total)

	sem := semaphore.NewWeighted(u.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	var completed atomic.Int64

	for i := 0; i < total; i++ {
		if gctx.Err() != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		i := i
		offset := int64(i) * u.blockSize
		length := min(u.blockSize, size-offset)

		g.Go(func() error {
			defer sem.Release(1)
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := u.putBlock(gctx, f, blobURI, blockIDs[i], offset, length); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			done := int(completed.Add(1))
			u.log.Debug(gctx, "block uploaded", "index", i, "completed", done, "total", total)
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.putBlockList(ctx, blobURI, blockIDs); err != nil {
		return fmt.Errorf("committing block list: %w", err)
	}

	u.log.Info(ctx, "chunked upload finished", "blocks", total)
	return nil
}

func (u *Uploader) putBlock(ctx context.Context, f *os.File, blobURI, id string, offset, length int64) error {
	target := blobURI + "&comp=block&blockid=" + url.QueryEscape(id)

	return u.retry(ctx, func() error {
		body := io.NewSectionReader(f, offset, length)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = length
		setBlobHeaders(req)
		return u.doExpectingSuccess(req)
	})
}

func (u *Uploader) putBlockList(ctx context.Context, blobURI string, blockIDs []string) error {
	payload, err := xml.Marshal(blockList{Latest: blockIDs})
	if err != nil {
		return err
	}
	body := append([]byte(xml.Header), payload...)
	target := blobURI + "&comp=blocklist"

	return u.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = int64(len(body))
		req.Header.Set("Content-Type", "application/xml")
		setBlobHeaders(req)
		return u.doExpectingSuccess(req)
	})
}

// doExpectingSuccess issues req and treats any non-2xx status as permanent:
// the storage endpoint rejected the request, so repeating it verbatim cannot
// help. Transport-level failures stay retryable.
func (u *Uploader) doExpectingSuccess(req *http.Request) error {
	resp, err := u.hc.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return backoff.Permanent(req.Context().Err())
		}
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}
	return nil
}

func (u *Uploader) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(newLinearBackOff(u.backoffStep, maxBlockAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isPermanent(err) {
			u.log.Warn(ctx, "transient upload error, will retry", "err", err)
		}
		return err
	}, bo)
}

func isPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

func setBlobHeaders(req *http.Request) {
	req.Header.Set("x-ms-version", common.StorageAPIVersion)
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("x-ms-blob-type", "BlockBlob")
}

// blockID renders the chunk index as a 6-digit zero-padded decimal and
// base64-encodes it. The same ids must appear, ascending, in the block-list
// commit; any mismatch corrupts the assembled blob.
func blockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%06d", index)))
}

type blockList struct {
	XMLName xml.Name `xml:"BlockList"`
	Latest  []string `xml:"Latest"`
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts, up to
// maxWaits waits. Implements backoff.BackOff.
type linearBackOff struct {
	step     time.Duration
	maxWaits int
	n        int
}

func newLinearBackOff(step time.Duration, maxWaits int) *linearBackOff {
	return &linearBackOff{step: step, maxWaits: maxWaits}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	if b.n > b.maxWaits {
		return backoff.Stop
	}
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
