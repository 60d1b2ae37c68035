package types

import (
	"fmt"
	"time"
)

// Payload is the closed set of success reply records.
type Payload interface {
	payload()
}

// EntryMetadata answers get-metadata and is the element of directory pages.
type EntryMetadata struct {
	IsDirectory      bool      `json:"isDirectory"`
	Name             string    `json:"name"`
	Size             int64     `json:"size"`
	ModificationTime time.Time `json:"modificationTime"`
	MimeType         string    `json:"mimeType,omitempty"`
	Thumbnail        string    `json:"thumbnail,omitempty"`
}

// DirectoryPage is one page of a read-directory stream.
type DirectoryPage struct {
	Entries []EntryMetadata `json:"entries"`
}

// FileChunk is one page of a read-file stream.
type FileChunk struct {
	Data []byte `json:"data"`
}

// Action is a provider-defined action applicable to entries.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// ActionList answers get-actions.
type ActionList struct {
	Actions []Action `json:"actions"`
}

func (*EntryMetadata) payload() {}
func (*DirectoryPage) payload() {}
func (*FileChunk) payload()     {}
func (*ActionList) payload()    {}

// NewPayload returns an empty reply record for kind. Operations without a
// reply body return (nil, true).
func NewPayload(kind OperationKind) (Payload, bool) {
	switch kind {
	case OpGetMetadata:
		return &EntryMetadata{}, true
	case OpReadDirectory:
		return &DirectoryPage{}, true
	case OpReadFile:
		return &FileChunk{}, true
	case OpGetActions:
		return &ActionList{}, true
	}
	for _, k := range AllOperationKinds {
		if k == kind {
			return nil, true
		}
	}
	return nil, false
}

// CheckPayload verifies that p has the shape kind expects. A nil payload is
// accepted for every kind; an empty page or chunk is legal.
func CheckPayload(kind OperationKind, p Payload) error {
	if p == nil {
		return nil
	}
	var ok bool
	switch kind {
	case OpGetMetadata:
		_, ok = p.(*EntryMetadata)
	case OpReadDirectory:
		_, ok = p.(*DirectoryPage)
	case OpReadFile:
		_, ok = p.(*FileChunk)
	case OpGetActions:
		_, ok = p.(*ActionList)
	}
	if !ok {
		return fmt.Errorf("%w: %T for %s", ErrUnexpectedReply, p, kind)
	}
	return nil
}
