package types

import "strconv"

// RequestID identifies a dispatched request within one mounted file system.
// Open file handles use the same representation but a separate sequence.
type RequestID uint64

// String formats the id in decimal.
func (id RequestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// OperationKind names one provider-facing operation.
type OperationKind string

const (
	OpUnmount         OperationKind = "unmount"
	OpGetMetadata     OperationKind = "get_metadata"
	OpGetActions      OperationKind = "get_actions"
	OpReadDirectory   OperationKind = "read_directory"
	OpOpenFile        OperationKind = "open_file"
	OpCloseFile       OperationKind = "close_file"
	OpReadFile        OperationKind = "read_file"
	OpCreateDirectory OperationKind = "create_directory"
	OpDeleteEntry     OperationKind = "delete_entry"
	OpCreateFile      OperationKind = "create_file"
	OpCopyEntry       OperationKind = "copy_entry"
	OpMoveEntry       OperationKind = "move_entry"
	OpTruncate        OperationKind = "truncate"
	OpWriteFile       OperationKind = "write_file"
	OpAbort           OperationKind = "abort"
	OpConfigure       OperationKind = "configure"
	OpMount           OperationKind = "mount"
	OpAddWatcher      OperationKind = "add_watcher"
	OpRemoveWatcher   OperationKind = "remove_watcher"
	OpExecuteAction   OperationKind = "execute_action"
)

// AllOperationKinds lists every kind in a stable order.
var AllOperationKinds = []OperationKind{
	OpUnmount, OpGetMetadata, OpGetActions, OpReadDirectory, OpOpenFile,
	OpCloseFile, OpReadFile, OpCreateDirectory, OpDeleteEntry, OpCreateFile,
	OpCopyEntry, OpMoveEntry, OpTruncate, OpWriteFile, OpAbort, OpConfigure,
	OpMount, OpAddWatcher, OpRemoveWatcher, OpExecuteAction,
}

// Paginated reports whether replies to the kind may carry hasMore=true.
func (k OperationKind) Paginated() bool {
	return k == OpReadDirectory || k == OpReadFile
}

// Mutating reports whether the kind requires a writable file system.
func (k OperationKind) Mutating() bool {
	switch k {
	case OpCreateDirectory, OpDeleteEntry, OpCreateFile, OpCopyEntry,
		OpMoveEntry, OpTruncate, OpWriteFile:
		return true
	}
	return false
}

// Operation is the closed set of provider-facing request records.
type Operation interface {
	Kind() OperationKind
}

// ProviderRequest is the envelope delivered to the provider. FileSystemID is
// empty for provider-scoped requests (OpMount).
type ProviderRequest struct {
	FileSystemID string
	RequestID    RequestID
	Operation    Operation
}

// Kind returns the operation kind.
func (r ProviderRequest) Kind() OperationKind {
	if r.Operation == nil {
		return ""
	}
	return r.Operation.Kind()
}

// MetadataFields selects the metadata fields a caller is interested in.
type MetadataFields struct {
	IsDirectory      bool `json:"isDirectory,omitempty"`
	Name             bool `json:"name,omitempty"`
	Size             bool `json:"size,omitempty"`
	ModificationTime bool `json:"modificationTime,omitempty"`
	MimeType         bool `json:"mimeType,omitempty"`
	Thumbnail        bool `json:"thumbnail,omitempty"`
}

// AllMetadataFields requests everything except thumbnails.
func AllMetadataFields() MetadataFields {
	return MetadataFields{IsDirectory: true, Name: true, Size: true, ModificationTime: true, MimeType: true}
}

type UnmountRequest struct{}

type GetMetadataRequest struct {
	EntryPath string         `json:"entryPath"`
	Fields    MetadataFields `json:"fields"`
}

type GetActionsRequest struct {
	EntryPaths []string `json:"entryPaths"`
}

type ReadDirectoryRequest struct {
	DirectoryPath string         `json:"directoryPath"`
	Fields        MetadataFields `json:"fields"`
}

// OpenFileRequest carries the handle id the provider must use to correlate
// later read, write and close requests.
type OpenFileRequest struct {
	OpenRequestID RequestID `json:"openRequestId"`
	FilePath      string    `json:"filePath"`
	Mode          OpenMode  `json:"mode"`
}

type CloseFileRequest struct {
	OpenRequestID RequestID `json:"openRequestId"`
}

type ReadFileRequest struct {
	OpenRequestID RequestID `json:"openRequestId"`
	Offset        int64     `json:"offset"`
	Length        int64     `json:"length"`
}

type CreateDirectoryRequest struct {
	DirectoryPath string `json:"directoryPath"`
	Recursive     bool   `json:"recursive"`
}

type DeleteEntryRequest struct {
	EntryPath string `json:"entryPath"`
	Recursive bool   `json:"recursive"`
}

type CreateFileRequest struct {
	FilePath string `json:"filePath"`
}

type CopyEntryRequest struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
}

type MoveEntryRequest struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
}

type TruncateRequest struct {
	FilePath string `json:"filePath"`
	Length   int64  `json:"length"`
}

type WriteFileRequest struct {
	OpenRequestID RequestID `json:"openRequestId"`
	Offset        int64     `json:"offset"`
	Data          []byte    `json:"data"`
}

type AbortRequest struct {
	OperationRequestID RequestID `json:"operationRequestId"`
}

type ConfigureRequest struct{}

type MountRequest struct{}

type AddWatcherRequest struct {
	EntryPath string `json:"entryPath"`
	Recursive bool   `json:"recursive"`
}

type RemoveWatcherRequest struct {
	EntryPath string `json:"entryPath"`
	Recursive bool   `json:"recursive"`
}

type ExecuteActionRequest struct {
	EntryPaths []string `json:"entryPaths"`
	ActionID   string   `json:"actionId"`
}

func (*UnmountRequest) Kind() OperationKind         { return OpUnmount }
func (*GetMetadataRequest) Kind() OperationKind     { return OpGetMetadata }
func (*GetActionsRequest) Kind() OperationKind      { return OpGetActions }
func (*ReadDirectoryRequest) Kind() OperationKind   { return OpReadDirectory }
func (*OpenFileRequest) Kind() OperationKind        { return OpOpenFile }
func (*CloseFileRequest) Kind() OperationKind       { return OpCloseFile }
func (*ReadFileRequest) Kind() OperationKind        { return OpReadFile }
func (*CreateDirectoryRequest) Kind() OperationKind { return OpCreateDirectory }
func (*DeleteEntryRequest) Kind() OperationKind     { return OpDeleteEntry }
func (*CreateFileRequest) Kind() OperationKind      { return OpCreateFile }
func (*CopyEntryRequest) Kind() OperationKind       { return OpCopyEntry }
func (*MoveEntryRequest) Kind() OperationKind       { return OpMoveEntry }
func (*TruncateRequest) Kind() OperationKind        { return OpTruncate }
func (*WriteFileRequest) Kind() OperationKind       { return OpWriteFile }
func (*AbortRequest) Kind() OperationKind           { return OpAbort }
func (*ConfigureRequest) Kind() OperationKind       { return OpConfigure }
func (*MountRequest) Kind() OperationKind           { return OpMount }
func (*AddWatcherRequest) Kind() OperationKind      { return OpAddWatcher }
func (*RemoveWatcherRequest) Kind() OperationKind   { return OpRemoveWatcher }
func (*ExecuteActionRequest) Kind() OperationKind   { return OpExecuteAction }

// NewOperation returns an empty record for kind, suitable for decoding.
func NewOperation(kind OperationKind) (Operation, bool) {
	switch kind {
	case OpUnmount:
		return &UnmountRequest{}, true
	case OpGetMetadata:
		return &GetMetadataRequest{}, true
	case OpGetActions:
		return &GetActionsRequest{}, true
	case OpReadDirectory:
		return &ReadDirectoryRequest{}, true
	case OpOpenFile:
		return &OpenFileRequest{}, true
	case OpCloseFile:
		return &CloseFileRequest{}, true
	case OpReadFile:
		return &ReadFileRequest{}, true
	case OpCreateDirectory:
		return &CreateDirectoryRequest{}, true
	case OpDeleteEntry:
		return &DeleteEntryRequest{}, true
	case OpCreateFile:
		return &CreateFileRequest{}, true
	case OpCopyEntry:
		return &CopyEntryRequest{}, true
	case OpMoveEntry:
		return &MoveEntryRequest{}, true
	case OpTruncate:
		return &TruncateRequest{}, true
	case OpWriteFile:
		return &WriteFileRequest{}, true
	case OpAbort:
		return &AbortRequest{}, true
	case OpConfigure:
		return &ConfigureRequest{}, true
	case OpMount:
		return &MountRequest{}, true
	case OpAddWatcher:
		return &AddWatcherRequest{}, true
	case OpRemoveWatcher:
		return &RemoveWatcherRequest{}, true
	case OpExecuteAction:
		return &ExecuteActionRequest{}, true
	}
	return nil, false
}
