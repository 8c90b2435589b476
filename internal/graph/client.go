// Package graph is a typed Microsoft Graph client for the Intune mobileApps
// resources involved in publishing a macOS installer package: app lookup and
// creation, content versions and files, the encryption-info commit and group
// assignments.
//
// Every call acquires a fresh bearer token from the token provider; the
// provider owns caching, so this layer stays stateless.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brewtune/brewtune/internal/auth"
	"github.com/brewtune/brewtune/internal/cryptox"
	"github.com/brewtune/brewtune/internal/intune"
	"github.com/brewtune/brewtune/internal/logging"
	"github.com/brewtune/brewtune/internal/pollx"
)

const (
	mobileAppsPath = "/beta/deviceAppManagement/mobileApps"

	// content versions hang off the concrete app type in the resource path
	contentPath = "microsoft.graph.macOSPkgApp"

	requestTimeout = 300 * time.Second

	storageURIAttempts  = 60
	fileReadyAttempts   = 120
	commitDoneAttempts  = 180
	duplicateSearchTop  = 100
	profileIdentifier   = "ProfileVersion1"
	fileDigestAlgorithm = "SHA256"
)

// Protocol/state errors. Unexpected statuses are wrapped around these so
// callers can match the failing operation with errors.Is.
var (
	ErrCreateApp            = errors.New("failed to create app")
	ErrCreateContentVersion = errors.New("failed to create content version")
	ErrCreateContentFile    = errors.New("failed to create content file")
	ErrCommitFile           = errors.New("failed to commit content file")
	ErrCommitApp            = errors.New("failed to commit app")
	ErrAssignGroup          = errors.New("failed to assign group")
)

type Client struct {
	baseURL string
	hc      *http.Client
	tokens  auth.TokenProvider
	log     logging.Logger

	pollInterval time.Duration
}

// New returns a client rooted at baseURL (normally common.GraphBaseURL).
func New(baseURL string, tokens auth.TokenProvider, log logging.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		hc:           &http.Client{Timeout: requestTimeout},
		tokens:       tokens,
		log:          log,
		pollInterval: time.Second,
	}
}

// FindExistingApp looks for a macOS pkg app with the given bundle id in the
// first page of the tenant's catalog. A non-200 response is logged and
// treated as "not found" so a flaky listing cannot abort an upload.
func (c *Client) FindExistingApp(ctx context.Context, bundleID, localVersion string) (*intune.ExistingApp, error) {
	var list mobileAppList
	status, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s?$top=%d", mobileAppsPath, duplicateSearchTop), nil, &list)
	if err != nil || status != http.StatusOK {
		c.log.Warn(ctx, "existing-app lookup failed, assuming not found", "status", status, "err", err)
		return nil, nil
	}

	if len(list.Value) == duplicateSearchTop {
		c.log.Debug(ctx, "app listing page is full; duplicates beyond the first page are not detected",
			"top", duplicateSearchTop)
	}

	for _, app := range list.Value {
		if app.ODataType != odataTypeMacOSPkgApp || app.PrimaryBundleID != bundleID {
			continue
		}
		return &intune.ExistingApp{
			ID:          app.ID,
			DisplayName: app.DisplayName,
			BundleID:    app.PrimaryBundleID,
			Version:     app.PrimaryBundleVersion,
			SameVersion: app.PrimaryBundleVersion == localVersion,
		}, nil
	}
	return nil, nil
}

// CreateApp creates the app entry and returns its id. Optional fields that
// are empty are omitted entirely rather than sent as empty strings.
func (c *Client) CreateApp(ctx context.Context, cfg *intune.AppConfig, fileName string) (string, error) {
	app := mobileApp{
		ODataType:            odataTypeMacOSPkgApp,
		DisplayName:          cfg.DisplayName,
		Description:          cfg.Description,
		Publisher:            cfg.Publisher,
		FileName:             fileName,
		PrimaryBundleID:      cfg.BundleID,
		PrimaryBundleVersion: cfg.Version,
		IncludedApps: []includedApp{
			{BundleID: cfg.BundleID, BundleVersion: cfg.Version},
		},
		MinimumSupportedOperatingSystem: minimumOSMap(cfg.MinimumOS),
	}
	if cfg.PreInstallScript != "" {
		app.PreInstallScript = &scriptContent{ScriptContent: base64.StdEncoding.EncodeToString([]byte(cfg.PreInstallScript))}
	}
	if cfg.PostInstallScript != "" {
		app.PostInstallScript = &scriptContent{ScriptContent: base64.StdEncoding.EncodeToString([]byte(cfg.PostInstallScript))}
	}

	var created mobileApp
	status, err := c.doJSON(ctx, http.MethodPost, mobileAppsPath, app, &created)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateApp, err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status %d", ErrCreateApp, status)
	}

	c.log.Info(ctx, "app created", "appID", created.ID, "displayName", cfg.DisplayName)
	return created.ID, nil
}

// CreateContentVersion creates a fresh content version under the app.
func (c *Client) CreateContentVersion(ctx context.Context, appID string) (string, error) {
	path := fmt.Sprintf("%s/%s/%s/contentVersions", mobileAppsPath, appID, contentPath)

	var created contentVersion
	status, err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, &created)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateContentVersion, err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status %d", ErrCreateContentVersion, status)
	}
	return created.ID, nil
}

// CreateContentFile registers the encrypted payload under the content version
// and waits until Graph reports the Azure storage URI to upload it to. The
// returned values are the file id and that URI.
func (c *Client) CreateContentFile(ctx context.Context, appID, versionID, name string, size, sizeEncrypted int64) (string, string, error) {
	path := fmt.Sprintf("%s/%s/%s/contentVersions/%s/files", mobileAppsPath, appID, contentPath, versionID)

	file := contentFile{
		Name:          name,
		Size:          size,
		SizeEncrypted: sizeEncrypted,
		IsDependency:  false,
	}
	var created contentFile
	status, err := c.doJSON(ctx, http.MethodPost, path, file, &created)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrCreateContentFile, err)
	}
	if status != http.StatusCreated {
		return "", "", fmt.Errorf("%w: unexpected status %d", ErrCreateContentFile, status)
	}

	storageURI := ""
	_, err = pollx.Poll(ctx, "azure storage uri", c.pollInterval, storageURIAttempts, func(ctx context.Context) (pollx.Verdict, error) {
		f, err := c.getContentFile(ctx, appID, versionID, created.ID)
		if err != nil {
			return pollx.Failed, err
		}
		if f.AzureStorageURI == "" {
			return pollx.Continue, nil
		}
		storageURI = f.AzureStorageURI
		return pollx.Done, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("waiting for azure storage uri: %w", err)
	}
	return created.ID, storageURI, nil
}

// WaitForFileReady blocks until the content file is ready for commit. It
// returns alreadyCommitted=true when the file reports commitFileSuccess,
// meaning the commit step can be skipped.
func (c *Client) WaitForFileReady(ctx context.Context, appID, versionID, fileID string) (bool, error) {
	v, err := pollx.Poll(ctx, "content file readiness", c.pollInterval, fileReadyAttempts, func(ctx context.Context) (pollx.Verdict, error) {
		f, err := c.getContentFile(ctx, appID, versionID, fileID)
		if err != nil {
			return pollx.Failed, err
		}
		switch {
		case f.UploadState == stateStorageURISuccess || f.UploadState == stateSuccess:
			return pollx.Done, nil
		case f.UploadState == stateCommitSuccess:
			return pollx.Skip, nil
		case isFailedState(f.UploadState):
			return pollx.Failed, fmt.Errorf("content file entered state %q", f.UploadState)
		default:
			return pollx.Continue, nil
		}
	})
	if err != nil {
		return false, err
	}
	return v == pollx.Skip, nil
}

// CommitContentFile posts the encryption envelope to the file's commit
// endpoint. Confirmation is separate: call WaitForCommit afterwards.
func (c *Client) CommitContentFile(ctx context.Context, appID, versionID, fileID string, env *cryptox.FileEncryptionInfo) error {
	path := fmt.Sprintf("%s/%s/%s/contentVersions/%s/files/%s/commit", mobileAppsPath, appID, contentPath, versionID, fileID)

	req := commitRequest{FileEncryptionInfo: fileEncryptionInfo{
		EncryptionKey:        base64.StdEncoding.EncodeToString(env.EncryptionKey),
		MacKey:               base64.StdEncoding.EncodeToString(env.MacKey),
		InitializationVector: base64.StdEncoding.EncodeToString(env.IV),
		Mac:                  base64.StdEncoding.EncodeToString(env.Mac),
		ProfileIdentifier:    profileIdentifier,
		FileDigest:           base64.StdEncoding.EncodeToString(env.Digest),
		FileDigestAlgorithm:  fileDigestAlgorithm,
	}}

	status, err := c.doJSON(ctx, http.MethodPost, path, req, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFile, err)
	}
	if status < 200 || status > 204 {
		return fmt.Errorf("%w: unexpected status %d", ErrCommitFile, status)
	}
	return nil
}

// WaitForCommit polls until the content file confirms the commit.
func (c *Client) WaitForCommit(ctx context.Context, appID, versionID, fileID string) error {
	_, err := pollx.Poll(ctx, "content file commit", c.pollInterval, commitDoneAttempts, func(ctx context.Context) (pollx.Verdict, error) {
		f, err := c.getContentFile(ctx, appID, versionID, fileID)
		if err != nil {
			return pollx.Failed, err
		}
		switch {
		case f.UploadState == stateCommitSuccess:
			return pollx.Done, nil
		case isFailedState(f.UploadState):
			return pollx.Failed, fmt.Errorf("content file entered state %q", f.UploadState)
		default:
			return pollx.Continue, nil
		}
	})
	return err
}

// CommitApp points the app at the committed content version. For a new app
// the full metadata is sent; for an update only version-bearing fields go
// out, so metadata maintained by other tooling is not clobbered.
func (c *Client) CommitApp(ctx context.Context, appID, versionID string, cfg *intune.AppConfig, isUpdate bool) error {
	app := mobileApp{
		ODataType:               odataTypeMacOSPkgApp,
		CommittedContentVersion: versionID,
		PrimaryBundleVersion:    cfg.Version,
		IncludedApps: []includedApp{
			{BundleID: cfg.BundleID, BundleVersion: cfg.Version},
		},
	}
	if !isUpdate {
		app.DisplayName = cfg.DisplayName
		app.Description = cfg.Description
		app.Publisher = cfg.Publisher
		app.PrimaryBundleID = cfg.BundleID
		app.MinimumSupportedOperatingSystem = minimumOSMap(cfg.MinimumOS)
	}

	status, err := c.doJSON(ctx, http.MethodPatch, mobileAppsPath+"/"+appID, app, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitApp, err)
	}
	if status < 200 || status > 204 {
		return fmt.Errorf("%w: unexpected status %d", ErrCommitApp, status)
	}
	return nil
}

// AssignToGroup posts a single assignment for the group and intent, then
// reads the assignments back to verify. Verification failure is a warning,
// not an error.
func (c *Client) AssignToGroup(ctx context.Context, appID string, ga intune.GroupAssignment) error {
	req := assignRequest{MobileAppAssignments: []mobileAppAssignment{{
		Intent: string(ga.Intent),
		Target: targetFor(ga.GroupID),
	}}}

	status, err := c.doJSON(ctx, http.MethodPost, mobileAppsPath+"/"+appID+"/assign", req, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssignGroup, err)
	}
	if status < 200 || status > 204 {
		return fmt.Errorf("%w: group %s: unexpected status %d", ErrAssignGroup, ga.GroupID, status)
	}

	assigned, err := c.ListAssignments(ctx, appID)
	if err != nil {
		c.log.Warn(ctx, "assignment verification failed", "groupID", ga.GroupID, "err", err)
		return nil
	}
	for _, a := range assigned {
		if a.GroupID == ga.GroupID && a.Intent == ga.Intent {
			return nil
		}
	}
	c.log.Warn(ctx, "assignment not visible on read-back", "groupID", ga.GroupID, "intent", ga.Intent)
	return nil
}

// ListAssignments returns the app's current assignments mapped into the
// group-assignment model. Explicit group display names are resolved with a
// secondary call when possible.
func (c *Client) ListAssignments(ctx context.Context, appID string) ([]intune.GroupAssignment, error) {
	var list assignmentList
	status, err := c.doJSON(ctx, http.MethodGet, mobileAppsPath+"/"+appID+"/assignments", nil, &list)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("listing assignments: unexpected status %d", status)
	}

	result := make([]intune.GroupAssignment, 0, len(list.Value))
	for _, a := range list.Value {
		ga := intune.GroupAssignment{Intent: intune.AssignmentIntent(a.Intent)}
		switch a.Target.ODataType {
		case odataTypeGroupTarget:
			ga.GroupID = a.Target.GroupID
			ga.DisplayName = c.groupDisplayName(ctx, a.Target.GroupID)
		case odataTypeAllUsersTarget:
			ga.GroupID = intune.AllUsersGroupID
			ga.DisplayName = "All Users"
		case odataTypeAllDevicesTarget:
			ga.GroupID = intune.AllDevicesGroupID
			ga.DisplayName = "All Devices"
		default:
			c.log.Debug(ctx, "skipping assignment with unknown target", "type", a.Target.ODataType)
			continue
		}
		result = append(result, ga)
	}
	return result, nil
}

func (c *Client) groupDisplayName(ctx context.Context, groupID string) string {
	var g directoryGroup
	status, err := c.doJSON(ctx, http.MethodGet, "/v1.0/groups/"+groupID, nil, &g)
	if err != nil || status != http.StatusOK {
		c.log.Debug(ctx, "group display name lookup failed", "groupID", groupID, "status", status, "err", err)
		return ""
	}
	return g.DisplayName
}

func (c *Client) getContentFile(ctx context.Context, appID, versionID, fileID string) (*contentFile, error) {
	path := fmt.Sprintf("%s/%s/%s/contentVersions/%s/files/%s", mobileAppsPath, appID, contentPath, versionID, fileID)

	var f contentFile
	status, err := c.doJSON(ctx, http.MethodGet, path, nil, &f)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetching content file: unexpected status %d", status)
	}
	return &f, nil
}

// doJSON performs one authenticated request. A token is acquired per call;
// body and out may be nil. The response status is returned even on 4xx/5xx
// so callers decide what is acceptable.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring token: %w", err)
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}
	return resp.StatusCode, nil
}

func targetFor(groupID string) assignmentTarget {
	switch groupID {
	case intune.AllUsersGroupID:
		return assignmentTarget{ODataType: odataTypeAllUsersTarget}
	case intune.AllDevicesGroupID:
		return assignmentTarget{ODataType: odataTypeAllDevicesTarget}
	default:
		return assignmentTarget{ODataType: odataTypeGroupTarget, GroupID: groupID}
	}
}

func isFailedState(state string) bool {
	return state == stateFailed || strings.HasSuffix(state, "Failed")
}
