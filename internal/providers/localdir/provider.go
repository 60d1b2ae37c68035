package localdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Bridge is the part of the bridge a provider talks back to
type Bridge interface {
	Mount(opts types.MountOptions) (types.FileSystemInfo, error)
	Get(fileSystemID string) (types.FileSystemInfo, error)
	Respond(fileSystemID string, requestID types.RequestID, payload types.Payload, hasMore bool) error
	Fail(fileSystemID string, requestID types.RequestID, code types.ProviderError) error
	Notify(opts types.NotifyOptions) error
}

// Root is a host directory served as one file system
type Root struct {
	Options types.MountOptions
	Dir     string
	// Ignore holds doublestar patterns of entries hidden from clients
	Ignore []string
}

// Options configures a Provider
type Options struct {
	Logger    *zap.Logger
	PageSize  int
	ReadChunk int
	// Debounce batches watcher changes; zero reports every event at once
	Debounce time.Duration
}

const (
	defaultPageSize  = 64
	defaultReadChunk = 64 * 1024
)

// Provider serves host directories to the bridge
type Provider struct {
	bridge    Bridge
	logger    *zap.Logger
	pageSize  int
	readChunk int
	watches   *watchSet

	mu      sync.Mutex
	roots   map[string]*root
	order   []string
	running map[opKey]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

type opKey struct {
	fsID string
	id   types.RequestID
}

type root struct {
	Root
	dir   string
	real  string
	files map[types.RequestID]*os.File
}

// New prepares a provider for roots. Nothing is mounted until Start.
func New(b Bridge, roots []Root, opts Options) (*Provider, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = defaultReadChunk
	}

	p := &Provider{
		bridge:    b,
		logger:    opts.Logger.Named("localdir"),
		pageSize:  opts.PageSize,
		readChunk: opts.ReadChunk,
		roots:     make(map[string]*root, len(roots)),
		running:   make(map[opKey]context.CancelFunc),
	}

	for _, r := range roots {
		if _, dup := p.roots[r.Options.FileSystemID]; dup {
			return nil, fmt.Errorf("duplicate file system %q", r.Options.FileSystemID)
		}
		served, err := newRoot(r)
		if err != nil {
			return nil, err
		}
		p.roots[r.Options.FileSystemID] = served
		p.order = append(p.order, r.Options.FileSystemID)
	}

	watches, err := newWatchSet(p.logger, opts.Debounce, p.emit)
	if err != nil {
		return nil, err
	}
	p.watches = watches
	return p, nil
}

func newRoot(r Root) (*root, error) {
	abs, err := filepath.Abs(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", r.Options.FileSystemID, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", r.Options.FileSystemID, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", r.Options.FileSystemID, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s: %s is not a directory", r.Options.FileSystemID, r.Dir)
	}
	for _, pattern := range r.Ignore {
		if err := paths.ValidatePattern(pattern); err != nil {
			return nil, fmt.Errorf("root %s: %w", r.Options.FileSystemID, err)
		}
	}
	return &root{
		Root:  r,
		dir:   abs,
		real:  real,
		files: make(map[types.RequestID]*os.File),
	}, nil
}

// Start mounts every root the bridge does not know yet. Roots restored
// from saved state get their watchers back instead.
func (p *Provider) Start() error {
	var errs []error
	for _, fsID := range p.order {
		r := p.roots[fsID]
		if info, err := p.bridge.Get(fsID); err == nil {
			p.rewatch(r, info.Watchers)
			continue
		}
		if _, err := p.bridge.Mount(r.Options); err != nil {
			errs = append(errs, fmt.Errorf("mount %s: %w", fsID, err))
			continue
		}
		p.logger.Info("Serving directory",
			zap.String("file_system_id", fsID),
			zap.String("dir", r.dir))
	}
	return errors.Join(errs...)
}

func (p *Provider) rewatch(r *root, watchers []types.WatcherInfo) {
	for _, w := range watchers {
		full, err := r.resolve(w.EntryPath)
		if err == nil {
			err = p.watches.add(r, w.EntryPath, w.Recursive, full)
		}
		if err != nil {
			p.logger.Warn("Watcher not restored",
				zap.String("file_system_id", r.Options.FileSystemID),
				zap.String("entry_path", w.EntryPath),
				zap.Error(err))
		}
	}
}

// Deliver runs req in the background. Replies go through the bridge.
func (p *Provider) Deliver(_ context.Context, req types.ProviderRequest) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	key := opKey{fsID: req.FileSystemID, id: req.RequestID}
	p.running[key] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, key)
			p.mu.Unlock()
			cancel()
		}()
		p.handle(ctx, req)
	}()
	return nil
}

// Close stops watching, cancels running operations and closes open files
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, cancel := range p.running {
		cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	err := p.watches.close()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.roots {
		r.closeFiles()
	}
	return err
}

func (p *Provider) handle(ctx context.Context, req types.ProviderRequest) {
	if req.Kind() == types.OpMount {
		p.finish(ctx, req, nil, p.mountNext())
		return
	}

	r, ok := p.roots[req.FileSystemID]
	if !ok {
		p.finish(ctx, req, nil, errUnknownMount)
		return
	}

	var (
		reply types.Payload
		err   error
	)
	switch op := req.Operation.(type) {
	case *types.UnmountRequest:
		p.release(r)
	case *types.GetMetadataRequest:
		reply, err = p.getMetadata(r, op)
	case *types.GetActionsRequest:
		reply, err = p.getActions(r, op)
	case *types.ReadDirectoryRequest:
		err = p.readDirectory(ctx, req, r, op)
		if err == nil {
			return
		}
	case *types.OpenFileRequest:
		err = p.openFile(r, op)
	case *types.CloseFileRequest:
		err = p.closeFile(r, op)
	case *types.ReadFileRequest:
		err = p.readFile(ctx, req, r, op)
		if err == nil {
			return
		}
	case *types.CreateDirectoryRequest:
		err = p.createDirectory(r, op)
	case *types.DeleteEntryRequest:
		err = p.deleteEntry(r, op)
	case *types.CreateFileRequest:
		err = p.createFile(r, op)
	case *types.CopyEntryRequest:
		err = p.copyEntry(ctx, r, op)
	case *types.MoveEntryRequest:
		err = p.moveEntry(r, op)
	case *types.TruncateRequest:
		err = p.truncate(r, op)
	case *types.WriteFileRequest:
		err = p.writeFile(r, op)
	case *types.AbortRequest:
		p.abort(req.FileSystemID, op.OperationRequestID)
	case *types.ConfigureRequest:
		err = errNotConfigurable
	case *types.AddWatcherRequest:
		err = p.addWatcher(r, op)
	case *types.RemoveWatcherRequest:
		p.watches.remove(req.FileSystemID, op.EntryPath)
	case *types.ExecuteActionRequest:
		err = p.executeAction(r, op)
	default:
		err = fmt.Errorf("%w: %s", types.ErrInvalidArgument, req.Kind())
	}
	p.finish(ctx, req, reply, err)
}

// finish sends the final reply. Nothing is sent once the request was
// aborted: the bridge has already settled it.
func (p *Provider) finish(ctx context.Context, req types.ProviderRequest, reply types.Payload, err error) {
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		code := codeFor(err)
		p.logger.Debug("Operation failed",
			zap.String("file_system_id", req.FileSystemID),
			zap.Uint64("request_id", uint64(req.RequestID)),
			zap.String("kind", string(req.Kind())),
			zap.String("code", code.String()),
			zap.Error(err))
		if ferr := p.bridge.Fail(req.FileSystemID, req.RequestID, code); ferr != nil {
			p.logger.Debug("Failure not accepted", zap.Error(ferr))
		}
		return
	}
	p.respond(req, reply, false)
}

func (p *Provider) respond(req types.ProviderRequest, reply types.Payload, hasMore bool) bool {
	if err := p.bridge.Respond(req.FileSystemID, req.RequestID, reply, hasMore); err != nil {
		p.logger.Debug("Reply not accepted",
			zap.String("file_system_id", req.FileSystemID),
			zap.Uint64("request_id", uint64(req.RequestID)),
			zap.Error(err))
		return false
	}
	return true
}

func (p *Provider) abort(fsID string, target types.RequestID) {
	p.mu.Lock()
	cancel, ok := p.running[opKey{fsID: fsID, id: target}]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// mountNext offers the first declared root the bridge does not have
func (p *Provider) mountNext() error {
	for _, fsID := range p.order {
		if _, err := p.bridge.Get(fsID); err == nil {
			continue
		}
		r := p.roots[fsID]
		p.release(r)
		_, err := p.bridge.Mount(r.Options)
		return err
	}
	return errNothingToMount
}

// release drops the state kept for a file system that goes away
func (p *Provider) release(r *root) {
	p.watches.drop(r.Options.FileSystemID)
	p.mu.Lock()
	r.closeFiles()
	p.mu.Unlock()
}

func (p *Provider) emit(r *root, opts types.NotifyOptions) {
	if r.Options.SupportsNotifyTag {
		opts.Tag = id.Default().GenerateString()
	}
	if err := p.bridge.Notify(opts); err != nil {
		p.logger.Debug("Change notification rejected",
			zap.String("file_system_id", opts.FileSystemID),
			zap.String("observed_path", opts.ObservedPath),
			zap.Error(err))
	}
}

func (r *root) closeFiles() {
	for openID, f := range r.files {
		_ = f.Close()
		delete(r.files, openID)
	}
}

// resolve maps an entry path to a host path inside the root
func (r *root) resolve(entryPath string) (string, error) {
	clean := path.Clean("/" + entryPath)
	if r.ignored(clean) {
		return "", errIgnored
	}
	full := filepath.Join(r.dir, filepath.FromSlash(clean))
	if !within(r.dir, full) {
		return "", errOutsideRoot
	}
	if real, err := filepath.EvalSymlinks(full); err == nil && !within(r.real, real) {
		return "", errOutsideRoot
	}
	return full, nil
}

// entryPath maps a host path back to an entry path
func (r *root) entryPath(full string) (string, bool) {
	rel, err := filepath.Rel(r.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return paths.Root, true
	}
	return "/" + filepath.ToSlash(rel), true
}

// ignored matches entries against the ignore patterns. Patterns without a
// slash match the base name at any depth.
func (r *root) ignored(entryPath string) bool {
	if entryPath == paths.Root {
		return false
	}
	rel := strings.TrimPrefix(entryPath, "/")
	for _, pattern := range r.Ignore {
		if strings.Contains(pattern, "/") {
			if paths.Match(strings.TrimPrefix(pattern, "/"), rel) {
				return true
			}
			continue
		}
		for _, part := range strings.Split(rel, "/") {
			if paths.Match(pattern, part) {
				return true
			}
		}
	}
	return false
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
