package graph

// Wire models for the Graph resources the uploader touches. Shapes are
// validated here at the boundary instead of optional-casting at use sites.

const (
	odataTypeMacOSPkgApp = "#microsoft.graph.macOSPkgApp"

	odataTypeGroupTarget      = "#microsoft.graph.groupAssignmentTarget"
	odataTypeAllUsersTarget   = "#microsoft.graph.allLicensedUsersAssignmentTarget"
	odataTypeAllDevicesTarget = "#microsoft.graph.allDevicesAssignmentTarget"
)

type mobileApp struct {
	ODataType            string `json:"@odata.type,omitempty"`
	ID                   string `json:"id,omitempty"`
	DisplayName          string `json:"displayName,omitempty"`
	Description          string `json:"description,omitempty"`
	Publisher            string `json:"publisher,omitempty"`
	FileName             string `json:"fileName,omitempty"`
	PrimaryBundleID      string `json:"primaryBundleId,omitempty"`
	PrimaryBundleVersion string `json:"primaryBundleVersion,omitempty"`

	CommittedContentVersion string `json:"committedContentVersion,omitempty"`

	IncludedApps []includedApp `json:"includedApps,omitempty"`

	MinimumSupportedOperatingSystem map[string]bool `json:"minimumSupportedOperatingSystem,omitempty"`

	PreInstallScript  *scriptContent `json:"preInstallScript,omitempty"`
	PostInstallScript *scriptContent `json:"postInstallScript,omitempty"`
}

type includedApp struct {
	BundleID      string `json:"bundleId"`
	BundleVersion string `json:"bundleVersion"`
}

type scriptContent struct {
	ScriptContent string `json:"scriptContent"`
}

type mobileAppList struct {
	Value []mobileApp `json:"value"`
}

type contentVersion struct {
	ID string `json:"id"`
}

type contentFile struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name,omitempty"`
	Size            int64  `json:"size,omitempty"`
	SizeEncrypted   int64  `json:"sizeEncrypted,omitempty"`
	IsDependency    bool   `json:"isDependency"`
	AzureStorageURI string `json:"azureStorageUri,omitempty"`
	IsCommitted     bool   `json:"isCommitted,omitempty"`
	UploadState     string `json:"uploadState,omitempty"`
}

// Content-file upload states observed while waiting for Azure storage and
// for commit confirmation.
const (
	stateStorageURISuccess = "azureStorageUriRequestSuccess"
	stateSuccess           = "success"
	stateCommitSuccess     = "commitFileSuccess"
	stateFailed            = "failed"
)

type fileEncryptionInfo struct {
	EncryptionKey        string `json:"encryptionKey"`
	MacKey               string `json:"macKey"`
	InitializationVector string `json:"initializationVector"`
	Mac                  string `json:"mac"`
	ProfileIdentifier    string `json:"profileIdentifier"`
	FileDigest           string `json:"fileDigest"`
	FileDigestAlgorithm  string `json:"fileDigestAlgorithm"`
}

type commitRequest struct {
	FileEncryptionInfo fileEncryptionInfo `json:"fileEncryptionInfo"`
}

type assignmentTarget struct {
	ODataType string `json:"@odata.type"`
	GroupID   string `json:"groupId,omitempty"`
}

type mobileAppAssignment struct {
	ID     string           `json:"id,omitempty"`
	Intent string           `json:"intent"`
	Target assignmentTarget `json:"target"`
}

type assignRequest struct {
	MobileAppAssignments []mobileAppAssignment `json:"mobileAppAssignments"`
}

type assignmentList struct {
	Value []mobileAppAssignment `json:"value"`
}

type directoryGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// macOSVersionKeys lists the minimum-OS selector keys Graph knows, oldest
// first. The app payload sets true for every key up to and including the
// selected minimum.
var macOSVersionKeys = []string{
	"v10_13", "v10_14", "v10_15",
	"v11_0", "v12_0", "v13_0", "v14_0", "v15_0",
}

func minimumOSMap(selected string) map[string]bool {
	m := make(map[string]bool, len(macOSVersionKeys))
	reached := false
	for _, k := range macOSVersionKeys {
		m[k] = !reached
		if k == selected {
			reached = true
		}
	}
	if !reached {
		// unknown key: require only the newest version rather than all
		for _, k := range macOSVersionKeys {
			m[k] = false
		}
		m[macOSVersionKeys[len(macOSVersionKeys)-1]] = true
	}
	return m
}
