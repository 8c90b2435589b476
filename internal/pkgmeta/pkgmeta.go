// Package pkgmeta extracts bundle identity from installer property lists.
package pkgmeta

import (
	"fmt"
	"os"

	"howett.net/plist"

	"github.com/brewtune/brewtune/internal/common"
)

// BundleInfo identifies the primary app a package installs.
type BundleInfo struct {
	BundleID string
	Version  string
}

type infoPlist struct {
	BundleIdentifier   string `plist:"CFBundleIdentifier"`
	ShortVersionString string `plist:"CFBundleShortVersionString"`
	BundleVersion      string `plist:"CFBundleVersion"`
}

// Parse reads bundle id and version from Info.plist-shaped data. XML and
// binary plists are both accepted. CFBundleShortVersionString wins over
// CFBundleVersion when both are present.
func Parse(data []byte) (*BundleInfo, error) {
	var info infoPlist
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse plist: %w", err)
	}

	if info.BundleIdentifier == "" {
		return nil, fmt.Errorf("plist has no CFBundleIdentifier: %w", common.ErrorNotFound)
	}

	version := info.ShortVersionString
	if version == "" {
		version = info.BundleVersion
	}
	if version == "" {
		return nil, fmt.Errorf("plist has no version for %s: %w", info.BundleIdentifier, common.ErrorNotFound)
	}

	return &BundleInfo{BundleID: info.BundleIdentifier, Version: version}, nil
}

// ParseFile is Parse over the contents of path.
func ParseFile(path string) (*BundleInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plist %s: %w", path, err)
	}
	return Parse(data)
}
