package types

import (
	"fmt"
	"strings"
	"time"
)

// MountOptions describes a file system offered by a provider.
type MountOptions struct {
	FileSystemID      string `json:"fileSystemId" yaml:"fileSystemId" toml:"fileSystemId"`
	DisplayName       string `json:"displayName" yaml:"displayName" toml:"displayName"`
	Writable          bool   `json:"writable" yaml:"writable" toml:"writable"`
	Watchable         bool   `json:"watchable" yaml:"watchable" toml:"watchable"`
	OpenedFilesLimit  int    `json:"openedFilesLimit" yaml:"openedFilesLimit" toml:"openedFilesLimit"`
	SupportsNotifyTag bool   `json:"supportsNotifyTag" yaml:"supportsNotifyTag" toml:"supportsNotifyTag"`
	Persistent        bool   `json:"persistent" yaml:"persistent" toml:"persistent"`
}

// OpenMode is the access mode of an opened file.
type OpenMode string

const (
	OpenModeRead  OpenMode = "READ"
	OpenModeWrite OpenMode = "WRITE"
)

// Valid reports whether m is a known mode.
func (m OpenMode) Valid() bool {
	return m == OpenModeRead || m == OpenModeWrite
}

// ParseOpenMode accepts "read"/"write" in any case.
func ParseOpenMode(s string) (OpenMode, error) {
	mode := OpenMode(strings.ToUpper(strings.TrimSpace(s)))
	if !mode.Valid() {
		return "", fmt.Errorf("%w: open mode %q", ErrInvalidArgument, s)
	}
	return mode, nil
}

// OpenedFile is a handle tracked for a mounted file system.
type OpenedFile struct {
	OpenRequestID RequestID `json:"openRequestId"`
	FilePath      string    `json:"filePath"`
	Mode          OpenMode  `json:"mode"`
	// Confirmed is false while the provider has not yet acknowledged the open.
	Confirmed bool `json:"confirmed"`
}

// WatcherInfo is a registered interest in changes under a path.
type WatcherInfo struct {
	EntryPath string `json:"entryPath"`
	Recursive bool   `json:"recursive"`
	LastTag   string `json:"lastTag,omitempty"`
}

// FileSystemInfo is the introspection view of a mounted file system.
type FileSystemInfo struct {
	MountOptions
	MountID     string        `json:"mountId"`
	MountedAt   time.Time     `json:"mountedAt"`
	OpenedFiles []OpenedFile  `json:"openedFiles"`
	Watchers    []WatcherInfo `json:"watchers"`
}

// MountRecord is the persisted form of a persistent mount.
type MountRecord struct {
	Options  MountOptions  `json:"options"`
	Watchers []WatcherInfo `json:"watchers,omitempty"`
	SavedAt  time.Time     `json:"savedAt"`
}
