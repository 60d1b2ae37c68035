package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/mount"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

// providerScope is the request id space of requests addressed to the
// provider rather than to a mounted file system.
const providerScope = ""

// request describes one dispatch before it gets an id
type request struct {
	fsID      string
	op        types.Operation
	writable  bool
	watchable bool
	// reserve runs under the bridge lock once capability checks passed. The
	// hook it returns runs when the request is terminal.
	reserve func(fs mount.Filesystem) (dispatch.FinalFunc, error)
}

// send validates, registers and delivers a request. Synchronous failures
// return an error and allocate no id.
func (b *Bridge) send(ctx context.Context, r request) (*dispatch.Completion, error) {
	b.mu.Lock()

	var fs mount.Filesystem
	if r.fsID != providerScope {
		var ok bool
		fs, ok = b.mounts.Get(r.fsID)
		if !ok {
			b.mu.Unlock()
			return nil, fmt.Errorf("%s on %s: %w", r.op.Kind(), r.fsID, types.ErrNotMounted)
		}
		if r.writable && !fs.Options.Writable {
			b.mu.Unlock()
			return nil, fmt.Errorf("%s on %s: %w", r.op.Kind(), r.fsID, types.ErrReadOnly)
		}
		if r.watchable && !fs.Options.Watchable {
			b.mu.Unlock()
			return nil, fmt.Errorf("%s on %s: %w", r.op.Kind(), r.fsID, types.ErrNotWatchable)
		}
	}

	var onFinal dispatch.FinalFunc
	if r.reserve != nil {
		var err error
		if onFinal, err = r.reserve(fs); err != nil {
			b.mu.Unlock()
			return nil, err
		}
	}

	c := b.dispatcher.Dispatch(r.fsID, r.op.Kind(), onFinal)
	provider := b.provider
	b.updateGaugesLocked()
	b.mu.Unlock()

	b.deliver(ctx, provider, types.ProviderRequest{
		FileSystemID: r.fsID,
		RequestID:    c.ID,
		Operation:    r.op,
	})
	return c, nil
}

func normalize(field, p string) (string, error) {
	n, err := paths.Normalize(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrInvalidArgument, field, err)
	}
	return n, nil
}

func normalizeAll(field string, ps []string) ([]string, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: %s must not be empty", types.ErrInvalidArgument, field)
	}
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		n, err := normalize(field, p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func unary[T any](c *dispatch.Completion, err error) (*dispatch.Future[T], error) {
	if err != nil {
		return nil, err
	}
	return dispatch.NewFuture[T](c), nil
}

func paged[T any](c *dispatch.Completion, err error) (*dispatch.Stream[T], error) {
	if err != nil {
		return nil, err
	}
	return dispatch.NewStream[T](c), nil
}

// RequestUnmount asks the provider to unmount a file system. On success the
// bridge unmounts it if the provider has not done so already; an ABORT
// caused by that unmount is reported as success.
func (b *Bridge) RequestUnmount(ctx context.Context, fileSystemID string) (*dispatch.Future[struct{}], error) {
	f, err := unary[struct{}](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.UnmountRequest{},
		reserve: func(mount.Filesystem) (dispatch.FinalFunc, error) {
			return func(c *dispatch.Completion) {
				if c.State() != dispatch.StateSucceeded {
					return
				}
				if err := b.unmountLocked(fileSystemID); err != nil && !errors.Is(err, types.ErrNotMounted) {
					b.logger.Warn("Unmount after provider request failed",
						zap.String("file_system_id", fileSystemID), zap.Error(err))
				}
			}, nil
		},
	}))
	if err != nil {
		return nil, err
	}
	return f.Then(func(v struct{}, err error) (struct{}, error) {
		if errors.Is(err, types.CodeAbort) && !b.mounts.Has(fileSystemID) {
			return v, nil
		}
		return v, err
	}), nil
}

// GetMetadata fetches metadata of one entry
func (b *Bridge) GetMetadata(ctx context.Context, fileSystemID, entryPath string, fields types.MetadataFields) (*dispatch.Future[*types.EntryMetadata], error) {
	p, err := normalize("entryPath", entryPath)
	if err != nil {
		return nil, err
	}
	return unary[*types.EntryMetadata](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.GetMetadataRequest{EntryPath: p, Fields: fields},
	}))
}

// GetActions lists provider actions applicable to every given entry
func (b *Bridge) GetActions(ctx context.Context, fileSystemID string, entryPaths []string) (*dispatch.Future[*types.ActionList], error) {
	ps, err := normalizeAll("entryPaths", entryPaths)
	if err != nil {
		return nil, err
	}
	return unary[*types.ActionList](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.GetActionsRequest{EntryPaths: ps},
	}))
}

// ReadDirectory lists a directory page by page
func (b *Bridge) ReadDirectory(ctx context.Context, fileSystemID, directoryPath string, fields types.MetadataFields) (*dispatch.Stream[*types.DirectoryPage], error) {
	p, err := normalize("directoryPath", directoryPath)
	if err != nil {
		return nil, err
	}
	return paged[*types.DirectoryPage](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.ReadDirectoryRequest{DirectoryPath: p, Fields: fields},
	}))
}

// OpenFile reserves a handle and asks the provider to open a file. The
// handle counts against the mount's limit from this call on and becomes
// usable when the future succeeds.
func (b *Bridge) OpenFile(ctx context.Context, fileSystemID, filePath string, mode types.OpenMode) (*dispatch.Future[types.OpenedFile], error) {
	p, err := normalize("filePath", filePath)
	if err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: open mode %q", types.ErrInvalidArgument, mode)
	}

	op := &types.OpenFileRequest{FilePath: p, Mode: mode}
	f, err := unary[types.OpenedFile](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       op,
		writable: mode == types.OpenModeWrite,
		reserve: func(fs mount.Filesystem) (dispatch.FinalFunc, error) {
			handle, err := b.files.Open(fileSystemID, p, mode, fs.Options.OpenedFilesLimit)
			if err != nil {
				return nil, err
			}
			op.OpenRequestID = handle
			return func(c *dispatch.Completion) {
				if c.State() == dispatch.StateSucceeded {
					b.files.Confirm(fileSystemID, handle)
				} else {
					b.files.Release(fileSystemID, handle)
				}
				b.updateGaugesLocked()
			}, nil
		},
	}))
	if err != nil {
		return nil, err
	}
	return f.Then(func(_ types.OpenedFile, err error) (types.OpenedFile, error) {
		if err != nil {
			return types.OpenedFile{}, err
		}
		return types.OpenedFile{OpenRequestID: op.OpenRequestID, FilePath: p, Mode: mode, Confirmed: true}, nil
	}), nil
}

// CloseFile closes a handle. The handle is gone as soon as this returns,
// whatever the provider answers.
func (b *Bridge) CloseFile(ctx context.Context, fileSystemID string, openRequestID types.RequestID) (*dispatch.Future[struct{}], error) {
	return unary[struct{}](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.CloseFileRequest{OpenRequestID: openRequestID},
		reserve: func(mount.Filesystem) (dispatch.FinalFunc, error) {
			if _, err := b.files.Close(fileSystemID, openRequestID); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}))
}

// ReadFile reads length bytes at offset from a handle opened for reading
func (b *Bridge) ReadFile(ctx context.Context, fileSystemID string, openRequestID types.RequestID, offset, length int64) (*dispatch.Stream[*types.FileChunk], error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset and length must not be negative", types.ErrInvalidArgument)
	}
	return paged[*types.FileChunk](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.ReadFileRequest{OpenRequestID: openRequestID, Offset: offset, Length: length},
		reserve: func(mount.Filesystem) (dispatch.FinalFunc, error) {
			_, err := b.files.Lookup(fileSystemID, openRequestID, types.OpenModeRead)
			return nil, err
		},
	}))
}

// CreateDirectory creates a directory, with its parents when recursive
func (b *Bridge) CreateDirectory(ctx context.Context, fileSystemID, directoryPath string, recursive bool) (*dispatch.Future[struct{}], error) {
	p, err := normalize("directoryPath", directoryPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.CreateDirectoryRequest{DirectoryPath: p, Recursive: recursive},
		writable: true,
	}))
}

// DeleteEntry deletes a file or directory
func (b *Bridge) DeleteEntry(ctx context.Context, fileSystemID, entryPath string, recursive bool) (*dispatch.Future[struct{}], error) {
	p, err := normalize("entryPath", entryPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.DeleteEntryRequest{EntryPath: p, Recursive: recursive},
		writable: true,
	}))
}

// CreateFile creates an empty file
func (b *Bridge) CreateFile(ctx context.Context, fileSystemID, filePath string) (*dispatch.Future[struct{}], error) {
	p, err := normalize("filePath", filePath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.CreateFileRequest{FilePath: p},
		writable: true,
	}))
}

// CopyEntry copies an entry, recursively for directories
func (b *Bridge) CopyEntry(ctx context.Context, fileSystemID, sourcePath, targetPath string) (*dispatch.Future[struct{}], error) {
	src, dst, err := normalizePair(sourcePath, targetPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.CopyEntryRequest{SourcePath: src, TargetPath: dst},
		writable: true,
	}))
}

// MoveEntry moves or renames an entry
func (b *Bridge) MoveEntry(ctx context.Context, fileSystemID, sourcePath, targetPath string) (*dispatch.Future[struct{}], error) {
	src, dst, err := normalizePair(sourcePath, targetPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.MoveEntryRequest{SourcePath: src, TargetPath: dst},
		writable: true,
	}))
}

func normalizePair(sourcePath, targetPath string) (string, string, error) {
	src, err := normalize("sourcePath", sourcePath)
	if err != nil {
		return "", "", err
	}
	dst, err := normalize("targetPath", targetPath)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// Truncate sets a file's length
func (b *Bridge) Truncate(ctx context.Context, fileSystemID, filePath string, length int64) (*dispatch.Future[struct{}], error) {
	p, err := normalize("filePath", filePath)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: length must not be negative", types.ErrInvalidArgument)
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.TruncateRequest{FilePath: p, Length: length},
		writable: true,
	}))
}

// WriteFile writes data at offset through a handle opened for writing
func (b *Bridge) WriteFile(ctx context.Context, fileSystemID string, openRequestID types.RequestID, offset int64, data []byte) (*dispatch.Future[struct{}], error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", types.ErrInvalidArgument)
	}
	if err := utils.ValidateSize(data, utils.MaxFrameSize); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:     fileSystemID,
		op:       &types.WriteFileRequest{OpenRequestID: openRequestID, Offset: offset, Data: data},
		writable: true,
		reserve: func(mount.Filesystem) (dispatch.FinalFunc, error) {
			_, err := b.files.Lookup(fileSystemID, openRequestID, types.OpenModeWrite)
			return nil, err
		},
	}))
}

// Abort cancels an in-flight request. The target resolves with ABORT once
// the provider answers the abort, whatever that answer is. Aborting a
// request that already finished succeeds without contacting the provider.
func (b *Bridge) Abort(ctx context.Context, fileSystemID string, target types.RequestID) (*dispatch.Future[struct{}], error) {
	var settled bool
	c, err := b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.AbortRequest{OperationRequestID: target},
		reserve: func(mount.Filesystem) (dispatch.FinalFunc, error) {
			if _, pending := b.dispatcher.Get(fileSystemID, target); pending {
				return func(*dispatch.Completion) {
					if b.dispatcher.MarkAborted(fileSystemID, target) {
						b.logger.Debug("Request aborted",
							zap.String("file_system_id", fileSystemID),
							zap.Uint64("request_id", uint64(target)))
					}
				}, nil
			}
			if b.dispatcher.Issued(fileSystemID, target) {
				settled = true
				return nil, errSettled
			}
			return nil, fmt.Errorf("abort %d on %s: %w", target, fileSystemID, types.ErrRequestNotFound)
		},
	})
	if settled {
		return dispatch.Resolved[struct{}](types.OpAbort, nil), nil
	}
	return unary[struct{}](c, err)
}

// errSettled stops a dispatch whose answer is already known
var errSettled = errors.New("request already settled")

// Configure asks the provider to show its configuration for a file system
func (b *Bridge) Configure(ctx context.Context, fileSystemID string) (*dispatch.Future[struct{}], error) {
	return unary[struct{}](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.ConfigureRequest{},
	}))
}

// RequestMount asks the provider to offer a new file system. It is not tied
// to any mount and uses the provider's own request id space.
func (b *Bridge) RequestMount(ctx context.Context) (*dispatch.Future[struct{}], error) {
	return unary[struct{}](b.send(ctx, request{
		fsID: providerScope,
		op:   &types.MountRequest{},
	}))
}

// AddWatcher registers a watcher and asks the provider to start observing.
// The watcher is dropped again if the provider refuses.
func (b *Bridge) AddWatcher(ctx context.Context, fileSystemID, entryPath string, recursive bool) (*dispatch.Future[struct{}], error) {
	p, err := normalize("entryPath", entryPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:      fileSystemID,
		op:        &types.AddWatcherRequest{EntryPath: p, Recursive: recursive},
		watchable: true,
		reserve: func(fs mount.Filesystem) (dispatch.FinalFunc, error) {
			if err := b.watchers.Add(fileSystemID, p, recursive); err != nil {
				return nil, err
			}
			return func(c *dispatch.Completion) {
				if c.State() != dispatch.StateSucceeded {
					if _, err := b.watchers.Remove(fileSystemID, p); err != nil {
						b.logger.Debug("Watcher already gone", zap.String("entry_path", p), zap.Error(err))
					}
				}
				if fs.Options.Persistent && b.mounts.Has(fileSystemID) {
					b.persistLocked()
				}
				b.updateGaugesLocked()
			}, nil
		},
	}))
}

// RemoveWatcher drops a watcher and tells the provider to stop observing.
// The watcher is gone whatever the provider answers.
func (b *Bridge) RemoveWatcher(ctx context.Context, fileSystemID, entryPath string, recursive bool) (*dispatch.Future[struct{}], error) {
	p, err := normalize("entryPath", entryPath)
	if err != nil {
		return nil, err
	}
	return unary[struct{}](b.send(ctx, request{
		fsID:      fileSystemID,
		op:        &types.RemoveWatcherRequest{EntryPath: p, Recursive: recursive},
		watchable: true,
		reserve: func(fs mount.Filesystem) (dispatch.FinalFunc, error) {
			if _, err := b.watchers.Remove(fileSystemID, p); err != nil {
				return nil, err
			}
			if fs.Options.Persistent {
				b.persistLocked()
			}
			return nil, nil
		},
	}))
}

// ExecuteAction runs a provider action on entries
func (b *Bridge) ExecuteAction(ctx context.Context, fileSystemID string, entryPaths []string, actionID string) (*dispatch.Future[struct{}], error) {
	ps, err := normalizeAll("entryPaths", entryPaths)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateActionID(actionID); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	return unary[struct{}](b.send(ctx, request{
		fsID: fileSystemID,
		op:   &types.ExecuteActionRequest{EntryPaths: ps, ActionID: actionID},
	}))
}
