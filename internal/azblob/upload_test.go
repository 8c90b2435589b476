package azblob

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewtune/brewtune/internal/logging"
)

type blobRecorder struct {
	mu        sync.Mutex
	blocks    map[string][]byte // blockid -> body
	blockList []string          // ids from the blocklist commit, in order
	commits   int

	failBlocks int // fail this many block PUTs with a dropped connection
	failStatus int // if non-zero, respond to block PUTs with this status
	attempts   int
}

func (r *blobRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		t.Helper()
		require.Equal(t, http.MethodPut, req.Method)
		assert.NotEmpty(t, req.Header.Get("x-ms-version"))
		assert.NotEmpty(t, req.Header.Get("x-ms-date"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)

		r.mu.Lock()
		defer r.mu.Unlock()

		switch req.URL.Query().Get("comp") {
		case "block":
			r.attempts++
			if r.failBlocks > 0 {
				r.failBlocks--
				hj, ok := w.(http.Hijacker)
				require.True(t, ok)
				conn, _, err := hj.Hijack()
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			if r.failStatus != 0 {
				w.WriteHeader(r.failStatus)
				return
			}
			if r.blocks == nil {
				r.blocks = map[string][]byte{}
			}
			r.blocks[req.URL.Query().Get("blockid")] = body
			w.WriteHeader(http.StatusCreated)
		case "blocklist":
			var bl blockList
			require.NoError(t, xml.Unmarshal(body, &bl))
			r.commits++
			r.blockList = bl.Latest
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected comp value %q", req.URL.Query().Get("comp"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func testUploader(srvURL string) (*Uploader, string) {
	u := NewUploader(logging.NewNop())
	u.blockSize = 10
	u.backoffStep = time.Millisecond
	return u, srvURL + "/container/blob?sig=abc"
}

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestUpload_SplitsAndCommitsInOrder(t *testing.T) {
	rec := &blobRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	content := []byte("0123456789abcdefghijKLMNO") // 25 bytes -> blocks of 10, 10, 5
	u, uri := testUploader(srv.URL)

	var mu sync.Mutex
	var progress [][2]int
	err := u.Upload(context.Background(), writeFile(t, content), uri, func(done, total int) {
		mu.Lock()
		progress = append(progress, [2]int{done, total})
		mu.Unlock()
	})
	require.NoError(t, err)

	wantIDs := []string{
		base64.StdEncoding.EncodeToString([]byte("000000")),
		base64.StdEncoding.EncodeToString([]byte("000001")),
		base64.StdEncoding.EncodeToString([]byte("000002")),
	}
	assert.Equal(t, wantIDs, rec.blockList, "block list must be ascending by index")
	assert.Equal(t, 1, rec.commits)

	// reassemble in committed order and compare
	var got []byte
	for _, id := range rec.blockList {
		got = append(got, rec.blocks[id]...)
	}
	assert.Equal(t, content, got)

	assert.Len(t, progress, 3)
	last := progress[len(progress)-1]
	assert.Equal(t, [2]int{3, 3}, last)
}

func TestUpload_SingleBlock(t *testing.T) {
	rec := &blobRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	u, uri := testUploader(srv.URL)
	err := u.Upload(context.Background(), writeFile(t, []byte("tiny")), uri, nil)
	require.NoError(t, err)

	require.Len(t, rec.blockList, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("000000")), rec.blockList[0])
}

func TestUpload_RetriesTransientErrors(t *testing.T) {
	rec := &blobRecorder{failBlocks: 2}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	u, uri := testUploader(srv.URL)
	err := u.Upload(context.Background(), writeFile(t, []byte("retry me!")), uri, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.attempts, "two dropped connections then success")
	assert.Len(t, rec.blockList, 1)
}

func TestUpload_BadStatusFailsImmediately(t *testing.T) {
	rec := &blobRecorder{failStatus: http.StatusForbidden}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	u, uri := testUploader(srv.URL)
	err := u.Upload(context.Background(), writeFile(t, []byte("nope")), uri, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	assert.Equal(t, 1, rec.attempts, "bad status must not be retried")
	assert.Equal(t, 0, rec.commits, "no block list after failure")
}

func TestUpload_CancelledMidway(t *testing.T) {
	rec := &blobRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	u, uri := testUploader(srv.URL)
	u.concurrency = 1 // serialize so cancellation lands between blocks

	ctx, cancel := context.WithCancel(context.Background())
	content := make([]byte, 55) // 6 blocks
	err := u.Upload(ctx, writeFile(t, content), uri, func(done, total int) {
		if done == 1 {
			cancel()
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rec.commits, "no block-list commit after cancellation")
}

func TestUpload_EmptyFile(t *testing.T) {
	u, _ := testUploader("http://unused")
	err := u.Upload(context.Background(), writeFile(t, nil), "http://unused?sig=a", nil)
	assert.Error(t, err)
}

func TestBlockID(t *testing.T) {
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("000000")), blockID(0))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("000042")), blockID(42))
}
