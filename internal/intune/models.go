// Package intune holds the domain model shared by the uploader, the Graph
// client and the CLI: app configuration, group assignments and results.
package intune

import "time"

// AssignmentIntent is the deployment semantics Intune applies when pushing
// an app to a group's members or devices.
type AssignmentIntent string

const (
	IntentRequired  AssignmentIntent = "required"
	IntentAvailable AssignmentIntent = "available"
	IntentUninstall AssignmentIntent = "uninstall"
)

// Well-known virtual group ids Intune uses for the built-in targets.
const (
	AllUsersGroupID   = "acacacac-9df4-4c7d-9d50-4ef0226f57a9"
	AllDevicesGroupID = "adadadad-808e-44e2-905a-0b7873a8a531"
)

// GroupAssignment pairs an Entra group with an assignment intent.
// DisplayName is informational and may be empty.
type GroupAssignment struct {
	GroupID     string
	DisplayName string
	Intent      AssignmentIntent
}

// AppConfig describes the app to publish. The uploader treats it as
// read-only, with one exception: during an update flow the existing
// assignments are fetched and written back into RequiredGroups and
// AvailableGroups so the operator can review what will be re-applied.
type AppConfig struct {
	DisplayName string
	Description string
	Publisher   string

	BundleID string
	Version  string

	// MinimumOS is a macOS version key in Graph form, e.g. "v13_0".
	MinimumOS string

	// Script bodies, sent base64-encoded when non-empty.
	PreInstallScript  string
	PostInstallScript string

	RequiredGroups  []GroupAssignment
	AvailableGroups []GroupAssignment
}

// ExistingApp is the result of the duplicate-check query against the tenant's
// app catalog. SameVersion is derived by comparing the remote version with
// the version about to be uploaded.
type ExistingApp struct {
	ID          string
	DisplayName string
	BundleID    string
	Version     string
	SameVersion bool
}

// UploadResult is the terminal success record of one upload session.
type UploadResult struct {
	AppID      string
	AppName    string
	AppVersion string
	BundleID   string

	// Counts of assignments that actually succeeded, which may be lower
	// than the number requested.
	RequiredGroupsAssigned  int
	AvailableGroupsAssigned int

	FinishedAt time.Time
}
