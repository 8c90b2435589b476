// Package uploader drives the multi-step Intune publish workflow: duplicate
// detection, app creation, envelope encryption, chunked content upload,
// commit and group assignment. One session runs at a time per Uploader.
//
// Cancellation is cooperative through the context and is checked at every
// step boundary, before each chunk dispatch and between poll attempts. A
// cancelled session still removes its local temp files, but server-side
// resources created so far (app entry, content version, content file) are
// left behind; that is a known limitation of the workflow, not hidden.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brewtune/brewtune/internal/cryptox"
	"github.com/brewtune/brewtune/internal/filex"
	"github.com/brewtune/brewtune/internal/intune"
	"github.com/brewtune/brewtune/internal/logging"
)

// Step indices of the workflow.
const (
	StepDuplicateCheck = iota
	StepApp
	StepContentVersion
	StepContentFile
	StepTransfer
	StepAzureProcessing
	StepCommitFile
	StepCommitApp
	StepAssign
)

const (
	transferBase = 0.20
	transferSpan = 0.50
)

// GraphAPI is the slice of the Graph client the orchestrator needs.
type GraphAPI interface {
	FindExistingApp(ctx context.Context, bundleID, localVersion string) (*intune.ExistingApp, error)
	CreateApp(ctx context.Context, cfg *intune.AppConfig, fileName string) (string, error)
	CreateContentVersion(ctx context.Context, appID string) (string, error)
	CreateContentFile(ctx context.Context, appID, versionID, name string, size, sizeEncrypted int64) (fileID, storageURI string, err error)
	WaitForFileReady(ctx context.Context, appID, versionID, fileID string) (alreadyCommitted bool, err error)
	CommitContentFile(ctx context.Context, appID, versionID, fileID string, env *cryptox.FileEncryptionInfo) error
	WaitForCommit(ctx context.Context, appID, versionID, fileID string) error
	CommitApp(ctx context.Context, appID, versionID string, cfg *intune.AppConfig, isUpdate bool) error
	AssignToGroup(ctx context.Context, appID string, ga intune.GroupAssignment) error
	ListAssignments(ctx context.Context, appID string) ([]intune.GroupAssignment, error)
}

// BlobUploader transfers the encrypted payload to the storage URI.
type BlobUploader interface {
	Upload(ctx context.Context, path, blobURI string, progress func(completed, total int)) error
}

// EncryptFunc produces the encrypted sibling file and its envelope.
type EncryptFunc func(path string) (string, *cryptox.FileEncryptionInfo, error)

// Recorder persists terminal results. Failures to record never fail uploads.
type Recorder interface {
	Insert(ctx context.Context, res *intune.UploadResult) error
}

// Event is one discrete progress update. Fraction is monotonically
// non-decreasing over a session's lifetime and reaches 1.0 only on success.
type Event struct {
	Step     int
	Label    string
	Fraction float64
}

// Observer receives progress events. It may be called from the chunk-upload
// goroutines and must be safe for concurrent use.
type Observer func(Event)

type Option func(*Uploader)

func WithObserver(o Observer) Option     { return func(u *Uploader) { u.observe = o } }
func WithEncrypter(e EncryptFunc) Option { return func(u *Uploader) { u.encrypt = e } }
func WithRecorder(r Recorder) Option     { return func(u *Uploader) { u.history = r } }
func WithTempDir(dir string) Option      { return func(u *Uploader) { u.tempDir = dir } }

// Uploader sequences one publish workflow at a time.
type Uploader struct {
	graph   GraphAPI
	blob    BlobUploader
	encrypt EncryptFunc
	history Recorder
	log     logging.Logger
	observe Observer

	// plaintext artifacts are deleted after the session only when they
	// live under this directory
	tempDir string
}

func New(graph GraphAPI, blob BlobUploader, log logging.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		graph:   graph,
		blob:    blob,
		log:     log,
		encrypt: cryptox.EncryptFile,
		tempDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// session tracks per-invocation progress state. The fraction is guarded by a
// mutex because chunk-completion callbacks emit from worker goroutines.
type session struct {
	id string

	mu       sync.Mutex
	step     int
	fraction float64
}

func newSession() *session {
	return &session{id: uuid.NewString()}
}

func (u *Uploader) emit(ctx context.Context, s *session, step int, fraction float64, label string) {
	s.mu.Lock()
	if fraction < s.fraction {
		fraction = s.fraction
	}
	s.step = step
	s.fraction = fraction
	s.mu.Unlock()

	u.log.Debug(ctx, "progress", "session", s.id, "step", step, "fraction", fraction, "label", label)
	if u.observe != nil {
		u.observe(Event{Step: step, Label: label, Fraction: fraction})
	}
}

// stepStart checks for cancellation, then moves the session to the step's
// progress checkpoint.
func (u *Uploader) stepStart(ctx context.Context, s *session, step int, fraction float64, label string) error {
	if err := ctx.Err(); err != nil {
		u.cancelled(ctx, s)
		return err
	}
	u.emit(ctx, s, step, fraction, label)
	return nil
}

func (u *Uploader) cancelled(ctx context.Context, s *session) {
	s.mu.Lock()
	frac := s.fraction
	step := s.step
	s.mu.Unlock()
	u.log.Info(ctx, "upload cancelled", "session", s.id, "step", step)
	if u.observe != nil {
		u.observe(Event{Step: step, Label: "Upload cancelled", Fraction: frac})
	}
}

// Upload publishes the artifact as a new app. When the tenant already holds
// the bundle id, it returns *intune.DuplicateAppVersionError (same version)
// or *intune.VersionUpdateRequiredError (different version) without mutating
// anything; the caller resolves the latter via ConfirmAndProceed.
func (u *Uploader) Upload(ctx context.Context, artifactPath string, cfg *intune.AppConfig) (*intune.UploadResult, error) {
	s := newSession()
	u.emit(ctx, s, StepDuplicateCheck, 0.0, "Starting upload")

	if err := u.stepStart(ctx, s, StepDuplicateCheck, 0.02, "Checking for an existing app"); err != nil {
		return nil, err
	}
	existing, err := u.graph.FindExistingApp(ctx, cfg.BundleID, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("checking for existing app: %w", err)
	}
	if existing != nil {
		if existing.SameVersion {
			return nil, &intune.DuplicateAppVersionError{
				AppID:       existing.ID,
				DisplayName: existing.DisplayName,
				Version:     existing.Version,
			}
		}
		return nil, &intune.VersionUpdateRequiredError{
			AppID:       existing.ID,
			DisplayName: existing.DisplayName,
			OldVersion:  existing.Version,
			NewVersion:  cfg.Version,
		}
	}

	return u.run(ctx, s, artifactPath, cfg, "", false)
}

// ConfirmAndProceed resumes after a VersionUpdateRequiredError: the caller
// confirmed the update, so the workflow reuses the existing app id, skips
// app creation and sends only version-bearing fields in the app commit.
//
// Existing assignments are fetched first and merged into cfg's group lists,
// so the operator sees (and may edit) what will be re-applied. The set is
// re-sent as-is; assignments removed locally are not deleted server-side.
func (u *Uploader) ConfirmAndProceed(ctx context.Context, artifactPath string, cfg *intune.AppConfig, existingAppID string) (*intune.UploadResult, error) {
	s := newSession()
	u.emit(ctx, s, StepDuplicateCheck, 0.0, "Preparing update of existing app")

	if err := ctx.Err(); err != nil {
		u.cancelled(ctx, s)
		return nil, err
	}

	assigned, err := u.graph.ListAssignments(ctx, existingAppID)
	if err != nil {
		u.log.Warn(ctx, "could not fetch existing assignments", "appID", existingAppID, "err", err)
	} else {
		u.mergeAssignments(ctx, cfg, assigned)
	}

	return u.run(ctx, s, artifactPath, cfg, existingAppID, true)
}

func (u *Uploader) run(ctx context.Context, s *session, artifactPath string, cfg *intune.AppConfig, appID string, isUpdate bool) (*intune.UploadResult, error) {
	defer func() {
		if filex.IsInTempDir(artifactPath, u.tempDir) {
			filex.RemoveQuietly(artifactPath)
		}
	}()

	fileName := filepath.Base(artifactPath)
	log := u.log.With("session", s.id, "bundleID", cfg.BundleID, "version", cfg.Version)

	// step 1: app entry
	if isUpdate {
		if err := u.stepStart(ctx, s, StepApp, 0.05, "Updating existing app"); err != nil {
			return nil, err
		}
		log.Info(ctx, "reusing existing app", "appID", appID)
	} else {
		if err := u.stepStart(ctx, s, StepApp, 0.05, "Creating app entry"); err != nil {
			return nil, err
		}
		created, err := u.graph.CreateApp(ctx, cfg, fileName)
		if err != nil {
			return nil, err
		}
		appID = created
	}

	// step 2: content version
	if err := u.stepStart(ctx, s, StepContentVersion, 0.10, "Creating content version"); err != nil {
		return nil, err
	}
	versionID, err := u.graph.CreateContentVersion(ctx, appID)
	if err != nil {
		return nil, err
	}

	// step 3: encryption + content file
	if err := u.stepStart(ctx, s, StepContentFile, 0.15, "Encrypting package"); err != nil {
		return nil, err
	}
	encPath, env, err := u.encrypt(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("encrypting artifact: %w", err)
	}
	removeEncrypted := sync.OnceFunc(func() { filex.RemoveQuietly(encPath) })
	defer removeEncrypted()

	plainSize, err := fileSize(artifactPath)
	if err != nil {
		return nil, err
	}
	encSize, err := fileSize(encPath)
	if err != nil {
		return nil, err
	}

	u.emit(ctx, s, StepContentFile, 0.20, "Registering content file")
	fileID, storageURI, err := u.graph.CreateContentFile(ctx, appID, versionID, fileName, plainSize, encSize)
	if err != nil {
		return nil, err
	}

	// step 4: chunked transfer
	if err := u.stepStart(ctx, s, StepTransfer, transferBase, "Uploading package"); err != nil {
		return nil, err
	}
	uploadErr := u.blob.Upload(ctx, encPath, storageURI, func(done, total int) {
		frac := transferBase + transferSpan*float64(done)/float64(total)
		u.emit(ctx, s, StepTransfer, frac, fmt.Sprintf("Uploading package (%d/%d blocks)", done, total))
	})
	// the encrypted temp goes away right after the transfer, whatever the outcome
	removeEncrypted()
	if uploadErr != nil {
		if ctx.Err() != nil {
			u.cancelled(ctx, s)
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("uploading content: %w", uploadErr)
	}

	// step 5: azure-side processing
	if err := u.stepStart(ctx, s, StepAzureProcessing, 0.75, "Waiting for Azure storage processing"); err != nil {
		return nil, err
	}
	alreadyCommitted, err := u.graph.WaitForFileReady(ctx, appID, versionID, fileID)
	if err != nil {
		return nil, err
	}

	// step 6: commit content file
	if alreadyCommitted {
		log.Info(ctx, "content file already committed, skipping commit")
	} else {
		if err := u.stepStart(ctx, s, StepCommitFile, 0.80, "Committing content file"); err != nil {
			return nil, err
		}
		if err := u.graph.CommitContentFile(ctx, appID, versionID, fileID, env); err != nil {
			return nil, err
		}
		u.emit(ctx, s, StepCommitFile, 0.85, "Waiting for commit confirmation")
		if err := u.graph.WaitForCommit(ctx, appID, versionID, fileID); err != nil {
			return nil, err
		}
	}

	// step 7: commit app
	if err := u.stepStart(ctx, s, StepCommitApp, 0.90, "Committing app"); err != nil {
		return nil, err
	}
	if err := u.graph.CommitApp(ctx, appID, versionID, cfg, isUpdate); err != nil {
		return nil, err
	}

	// step 8: group assignment; individual failures are counted, not raised
	if err := u.stepStart(ctx, s, StepAssign, 0.95, "Assigning groups"); err != nil {
		return nil, err
	}
	requiredOK := u.assignAll(ctx, appID, cfg.RequiredGroups)
	availableOK := u.assignAll(ctx, appID, cfg.AvailableGroups)

	result := &intune.UploadResult{
		AppID:                   appID,
		AppName:                 cfg.DisplayName,
		AppVersion:              cfg.Version,
		BundleID:                cfg.BundleID,
		RequiredGroupsAssigned:  requiredOK,
		AvailableGroupsAssigned: availableOK,
		FinishedAt:              time.Now(),
	}
	if u.history != nil {
		if err := u.history.Insert(ctx, result); err != nil {
			log.Warn(ctx, "could not record upload result", "err", err)
		}
	}

	u.emit(ctx, s, StepAssign, 1.0, "Finished")
	log.Info(ctx, "upload finished", "appID", appID,
		"requiredAssigned", requiredOK, "availableAssigned", availableOK)
	return result, nil
}

func (u *Uploader) assignAll(ctx context.Context, appID string, groups []intune.GroupAssignment) int {
	ok := 0
	for _, ga := range groups {
		if err := u.graph.AssignToGroup(ctx, appID, ga); err != nil {
			u.log.Error(ctx, "group assignment failed", "appID", appID, "groupID", ga.GroupID, "intent", ga.Intent, "err", err)
			continue
		}
		ok++
	}
	return ok
}

// mergeAssignments folds fetched assignments into cfg without duplicating
// entries the operator already listed.
func (u *Uploader) mergeAssignments(ctx context.Context, cfg *intune.AppConfig, fetched []intune.GroupAssignment) {
	have := make(map[string]bool, len(cfg.RequiredGroups)+len(cfg.AvailableGroups))
	for _, ga := range cfg.RequiredGroups {
		have[ga.GroupID+"/"+string(ga.Intent)] = true
	}
	for _, ga := range cfg.AvailableGroups {
		have[ga.GroupID+"/"+string(ga.Intent)] = true
	}

	for _, ga := range fetched {
		if have[ga.GroupID+"/"+string(ga.Intent)] {
			continue
		}
		switch ga.Intent {
		case intune.IntentRequired:
			cfg.RequiredGroups = append(cfg.RequiredGroups, ga)
		case intune.IntentAvailable:
			cfg.AvailableGroups = append(cfg.AvailableGroups, ga)
		default:
			u.log.Debug(ctx, "ignoring fetched assignment with unsupported intent", "groupID", ga.GroupID, "intent", ga.Intent)
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}
