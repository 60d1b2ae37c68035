package types

import (
	"fmt"
	"strings"
	"time"
)

// ChangeType classifies a reported change.
type ChangeType string

const (
	ChangeChanged ChangeType = "CHANGED"
	ChangeDeleted ChangeType = "DELETED"
)

// ParseChangeType accepts "changed"/"deleted" in any case.
func ParseChangeType(s string) (ChangeType, error) {
	ct := ChangeType(strings.ToUpper(strings.TrimSpace(s)))
	if ct != ChangeChanged && ct != ChangeDeleted {
		return "", fmt.Errorf("%w: change type %q", ErrInvalidArgument, s)
	}
	return ct, nil
}

// Change is one child entry affected by a notification.
type Change struct {
	EntryPath  string     `json:"entryPath"`
	ChangeType ChangeType `json:"changeType"`
}

// NotifyOptions is the batch a provider reports for one watched entry.
type NotifyOptions struct {
	FileSystemID string     `json:"fileSystemId"`
	ObservedPath string     `json:"observedPath"`
	Recursive    bool       `json:"recursive"`
	ChangeType   ChangeType `json:"changeType"`
	Changes      []Change   `json:"changes,omitempty"`
	Tag          string     `json:"tag,omitempty"`
}

// ChangeEvent is what subscribers of the bridge receive for an accepted notification.
type ChangeEvent struct {
	FileSystemID string     `json:"fileSystemId"`
	ObservedPath string     `json:"observedPath"`
	Recursive    bool       `json:"recursive"`
	ChangeType   ChangeType `json:"changeType"`
	Changes      []Change   `json:"changes,omitempty"`
	Tag          string     `json:"tag,omitempty"`
	ReceivedAt   time.Time  `json:"receivedAt"`
}
