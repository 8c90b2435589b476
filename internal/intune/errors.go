package intune

import "fmt"

// DuplicateAppVersionError is a policy rejection: the tenant already holds
// this bundle id at this exact version. The caller must pick a new version;
// the existing app is not touched.
type DuplicateAppVersionError struct {
	AppID       string
	DisplayName string
	Version     string
}

func (e *DuplicateAppVersionError) Error() string {
	return fmt.Sprintf("app %q version %s already exists in Intune (id %s)", e.DisplayName, e.Version, e.AppID)
}

// VersionUpdateRequiredError is a policy rejection requiring a caller
// decision: the bundle exists at a different version, so proceeding would be
// an update of the existing app rather than a fresh creation.
type VersionUpdateRequiredError struct {
	AppID       string
	DisplayName string
	OldVersion  string
	NewVersion  string
}

func (e *VersionUpdateRequiredError) Error() string {
	return fmt.Sprintf("app %q exists at version %s; confirm to update it to %s (id %s)",
		e.DisplayName, e.OldVersion, e.NewVersion, e.AppID)
}
