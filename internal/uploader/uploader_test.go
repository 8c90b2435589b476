package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewtune/brewtune/internal/cryptox"
	"github.com/brewtune/brewtune/internal/intune"
	"github.com/brewtune/brewtune/internal/logging"
)

type fakeGraph struct {
	mu    sync.Mutex
	calls []string

	existing         *intune.ExistingApp
	assignments      []intune.GroupAssignment
	failAssign       map[string]error
	alreadyCommitted bool

	committedEnv   *cryptox.FileEncryptionInfo
	commitIsUpdate *bool
	assigned       []intune.GroupAssignment
}

func (g *fakeGraph) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGraph) callList() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGraph) FindExistingApp(ctx context.Context, bundleID, localVersion string) (*intune.ExistingApp, error) {
	g.record("find")
	return g.existing, nil
}

func (g *fakeGraph) CreateApp(ctx context.Context, cfg *intune.AppConfig, fileName string) (string, error) {
	g.record("createApp")
	return "app-1", nil
}

func (g *fakeGraph) CreateContentVersion(ctx context.Context, appID string) (string, error) {
	g.record("createVersion")
	return "1", nil
}

func (g *fakeGraph) CreateContentFile(ctx context.Context, appID, versionID, name string, size, sizeEncrypted int64) (string, string, error) {
	g.record("createFile")
	return "file-1", "https://blob.example/x?sig=s", nil
}

func (g *fakeGraph) WaitForFileReady(ctx context.Context, appID, versionID, fileID string) (bool, error) {
	g.record("waitReady")
	return g.alreadyCommitted, nil
}

func (g *fakeGraph) CommitContentFile(ctx context.Context, appID, versionID, fileID string, env *cryptox.FileEncryptionInfo) error {
	g.record("commitFile")
	g.committedEnv = env
	return nil
}

func (g *fakeGraph) WaitForCommit(ctx context.Context, appID, versionID, fileID string) error {
	g.record("waitCommit")
	return nil
}

func (g *fakeGraph) CommitApp(ctx context.Context, appID, versionID string, cfg *intune.AppConfig, isUpdate bool) error {
	g.record("commitApp")
	g.commitIsUpdate = &isUpdate
	return nil
}

func (g *fakeGraph) AssignToGroup(ctx context.Context, appID string, ga intune.GroupAssignment) error {
	g.record("assign:" + ga.GroupID)
	if err := g.failAssign[ga.GroupID]; err != nil {
		return err
	}
	g.mu.Lock()
	g.assigned = append(g.assigned, ga)
	g.mu.Unlock()
	return nil
}

func (g *fakeGraph) ListAssignments(ctx context.Context, appID string) ([]intune.GroupAssignment, error) {
	g.record("listAssignments")
	return g.assignments, nil
}

type fakeBlob struct {
	mu         sync.Mutex
	uploaded   string // path passed in
	sawFile    bool   // whether the file existed when Upload ran
	blockUntil chan struct{}
	err        error
}

func (b *fakeBlob) Upload(ctx context.Context, path, blobURI string, progress func(int, int)) error {
	b.mu.Lock()
	b.uploaded = path
	_, statErr := os.Stat(path)
	b.sawFile = statErr == nil
	b.mu.Unlock()

	if b.blockUntil != nil {
		select {
		case <-b.blockUntil:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.err != nil {
		return b.err
	}
	if progress != nil {
		progress(1, 2)
		progress(2, 2)
	}
	return nil
}

type fakeRecorder struct {
	results []*intune.UploadResult
}

func (r *fakeRecorder) Insert(ctx context.Context, res *intune.UploadResult) error {
	r.results = append(r.results, res)
	return nil
}

func testArtifact(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "wget-1.3.0.pkg")
	require.NoError(t, os.WriteFile(path, []byte("pkg payload bytes"), 0o600))
	return path
}

func collectEvents(events *[]Event, mu *sync.Mutex) Observer {
	return func(e Event) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	}
}

func testConfig() *intune.AppConfig {
	return &intune.AppConfig{
		DisplayName: "wget",
		Publisher:   "Homebrew",
		BundleID:    "com.homebrew.wget",
		Version:     "1.3.0",
		MinimumOS:   "v13_0",
		RequiredGroups: []intune.GroupAssignment{
			{GroupID: "g-req-1", Intent: intune.IntentRequired},
		},
		AvailableGroups: []intune.GroupAssignment{
			{GroupID: "g-av-1", Intent: intune.IntentAvailable},
		},
	}
}

func TestUpload_NewApp(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	g := &fakeGraph{}
	b := &fakeBlob{}
	rec := &fakeRecorder{}

	var mu sync.Mutex
	var events []Event
	u := New(g, b, logging.NewNop(),
		WithObserver(collectEvents(&events, &mu)),
		WithRecorder(rec),
		WithTempDir(dir))

	res, err := u.Upload(context.Background(), artifact, testConfig())
	require.NoError(t, err)

	assert.Equal(t, "app-1", res.AppID)
	assert.Equal(t, "wget", res.AppName)
	assert.Equal(t, "1.3.0", res.AppVersion)
	assert.Equal(t, 1, res.RequiredGroupsAssigned)
	assert.Equal(t, 1, res.AvailableGroupsAssigned)
	assert.False(t, res.FinishedAt.IsZero())

	assert.Equal(t, []string{
		"find", "createApp", "createVersion", "createFile",
		"waitReady", "commitFile", "waitCommit", "commitApp",
		"assign:g-req-1", "assign:g-av-1",
	}, g.callList())

	require.NotNil(t, g.committedEnv)
	assert.Len(t, g.committedEnv.EncryptionKey, 32)

	// encrypted temp gone, plaintext (in temp location) gone
	assert.True(t, b.sawFile, "blob uploader must see the encrypted file")
	_, statErr := os.Stat(b.uploaded)
	assert.True(t, os.IsNotExist(statErr), "encrypted temp must be removed")
	_, statErr = os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr), "plaintext in temp location must be removed")

	require.Len(t, rec.results, 1)
	assert.Equal(t, "app-1", rec.results[0].AppID)

	assertProgress(t, events, true)
}

func assertProgress(t *testing.T, events []Event, expectComplete bool) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, 0.0, events[0].Fraction, "progress starts at zero")
	prev := 0.0
	for i, e := range events {
		assert.GreaterOrEqual(t, e.Fraction, prev, "event %d went backwards", i)
		prev = e.Fraction
	}
	if expectComplete {
		assert.Equal(t, 1.0, events[len(events)-1].Fraction)
	} else {
		assert.Less(t, events[len(events)-1].Fraction, 1.0, "only full success reaches 1.0")
	}
}

func TestUpload_DuplicateVersion(t *testing.T) {
	g := &fakeGraph{existing: &intune.ExistingApp{
		ID: "app-9", DisplayName: "wget", BundleID: "com.homebrew.wget",
		Version: "1.2.0", SameVersion: true,
	}}
	u := New(g, &fakeBlob{}, logging.NewNop())

	cfg := testConfig()
	cfg.Version = "1.2.0"
	_, err := u.Upload(context.Background(), "/nonexistent.pkg", cfg)

	var dup *intune.DuplicateAppVersionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "app-9", dup.AppID)
	assert.Equal(t, "1.2.0", dup.Version)

	assert.Equal(t, []string{"find"}, g.callList(), "no calls beyond the lookup")
}

func TestUpload_VersionUpdateRequired_ThenConfirm(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	g := &fakeGraph{
		existing: &intune.ExistingApp{
			ID: "app-9", DisplayName: "wget", BundleID: "com.homebrew.wget",
			Version: "1.2.0", SameVersion: false,
		},
		assignments: []intune.GroupAssignment{
			{GroupID: "g-old", DisplayName: "Legacy Group", Intent: intune.IntentRequired},
		},
	}
	u := New(g, &fakeBlob{}, logging.NewNop(), WithTempDir(dir))

	cfg := testConfig()
	_, err := u.Upload(context.Background(), artifact, cfg)

	var vur *intune.VersionUpdateRequiredError
	require.ErrorAs(t, err, &vur)
	assert.Equal(t, "1.2.0", vur.OldVersion)
	assert.Equal(t, "1.3.0", vur.NewVersion)
	assert.Equal(t, []string{"find"}, g.callList(), "no mutation before confirmation")

	res, err := u.ConfirmAndProceed(context.Background(), artifact, cfg, vur.AppID)
	require.NoError(t, err)

	calls := g.callList()
	assert.NotContains(t, calls, "createApp", "update flow must not create an app")
	assert.Contains(t, calls, "assign:g-old", "prefetched assignments are re-applied")
	require.NotNil(t, g.commitIsUpdate)
	assert.True(t, *g.commitIsUpdate)

	// fetched assignment was merged into the caller's config
	ids := make([]string, 0, len(cfg.RequiredGroups))
	for _, ga := range cfg.RequiredGroups {
		ids = append(ids, ga.GroupID)
	}
	assert.Contains(t, ids, "g-old")

	assert.Equal(t, "app-9", res.AppID)
	assert.Equal(t, 2, res.RequiredGroupsAssigned)
}

func TestUpload_PartialAssignmentFailure(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	g := &fakeGraph{failAssign: map[string]error{
		"g-req-2": fmt.Errorf("assign: unexpected status 403"),
	}}
	u := New(g, &fakeBlob{}, logging.NewNop(), WithTempDir(dir))

	cfg := testConfig()
	cfg.RequiredGroups = append(cfg.RequiredGroups, intune.GroupAssignment{
		GroupID: "g-req-2", Intent: intune.IntentRequired,
	})

	res, err := u.Upload(context.Background(), artifact, cfg)
	require.NoError(t, err, "partial assignment is still a successful upload")
	assert.Equal(t, 1, res.RequiredGroupsAssigned)
	assert.Equal(t, 1, res.AvailableGroupsAssigned)
}

func TestUpload_SkipsCommitWhenAlreadyCommitted(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	g := &fakeGraph{alreadyCommitted: true}
	u := New(g, &fakeBlob{}, logging.NewNop(), WithTempDir(dir))

	_, err := u.Upload(context.Background(), artifact, testConfig())
	require.NoError(t, err)

	calls := g.callList()
	assert.NotContains(t, calls, "commitFile")
	assert.NotContains(t, calls, "waitCommit")
	assert.Contains(t, calls, "commitApp")
}

func TestUpload_CancelledDuringTransfer(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	g := &fakeGraph{}
	b := &fakeBlob{blockUntil: make(chan struct{})} // never closed: transfer hangs until cancel

	var mu sync.Mutex
	var events []Event
	u := New(g, b, logging.NewNop(),
		WithObserver(collectEvents(&events, &mu)),
		WithTempDir(dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := u.Upload(ctx, artifact, testConfig())
		done <- err
	}()

	// wait until the transfer started, then cancel
	for {
		b.mu.Lock()
		started := b.uploaded != ""
		b.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	err := <-done

	require.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, g.callList(), "waitReady", "no steps after a cancelled transfer")

	_, statErr := os.Stat(b.uploaded)
	assert.True(t, os.IsNotExist(statErr), "encrypted temp removed on cancellation")

	mu.Lock()
	defer mu.Unlock()
	assertProgress(t, events, false)
	assert.Equal(t, "Upload cancelled", events[len(events)-1].Label)
}

func TestUpload_PlaintextOutsideTempIsKept(t *testing.T) {
	artifactDir := t.TempDir()
	otherTemp := t.TempDir()
	artifact := testArtifact(t, artifactDir)

	g := &fakeGraph{}
	u := New(g, &fakeBlob{}, logging.NewNop(), WithTempDir(otherTemp))

	_, err := u.Upload(context.Background(), artifact, testConfig())
	require.NoError(t, err)

	_, statErr := os.Stat(artifact)
	assert.NoError(t, statErr, "plaintext outside the temp location must never be deleted")
}

func TestUpload_EncrypterFailure(t *testing.T) {
	dir := t.TempDir()
	artifact := testArtifact(t, dir)

	boom := errors.New("cipher broke")
	u := New(&fakeGraph{}, &fakeBlob{}, logging.NewNop(),
		WithTempDir(dir),
		WithEncrypter(func(path string) (string, *cryptox.FileEncryptionInfo, error) {
			return "", nil, boom
		}))

	_, err := u.Upload(context.Background(), artifact, testConfig())
	assert.ErrorIs(t, err, boom)
}
