package localdir

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// ActionTouch sets the modification time of entries to now
const ActionTouch = "touch"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

func (p *Provider) getMetadata(r *root, op *types.GetMetadataRequest) (*types.EntryMetadata, error) {
	full, err := r.resolve(op.EntryPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return metadata(full, op.EntryPath, info, op.Fields), nil
}

func metadata(full, entryPath string, info fs.FileInfo, fields types.MetadataFields) *types.EntryMetadata {
	md := &types.EntryMetadata{}
	if fields.IsDirectory {
		md.IsDirectory = info.IsDir()
	}
	if fields.Name {
		md.Name = paths.Base(entryPath)
	}
	if fields.Size && !info.IsDir() {
		md.Size = info.Size()
	}
	if fields.ModificationTime {
		md.ModificationTime = info.ModTime().UTC()
	}
	if fields.MimeType && info.Mode().IsRegular() {
		if mt, err := mimetype.DetectFile(full); err == nil {
			md.MimeType = mt.String()
		}
	}
	return md
}

func (p *Provider) getActions(r *root, op *types.GetActionsRequest) (*types.ActionList, error) {
	for _, entryPath := range op.EntryPaths {
		full, err := r.resolve(entryPath)
		if err != nil {
			return nil, err
		}
		if _, err := os.Lstat(full); err != nil {
			return nil, err
		}
	}
	list := &types.ActionList{Actions: []types.Action{}}
	if r.Options.Writable {
		list.Actions = append(list.Actions, types.Action{ID: ActionTouch, Title: "Update modification time"})
	}
	return list, nil
}

func (p *Provider) executeAction(r *root, op *types.ExecuteActionRequest) error {
	if op.ActionID != ActionTouch {
		return errUnknownAction
	}
	if !r.Options.Writable {
		return errReadOnly
	}
	now := time.Now()
	for _, entryPath := range op.EntryPaths {
		full, err := r.resolve(entryPath)
		if err != nil {
			return err
		}
		if err := os.Chtimes(full, now, now); err != nil {
			return err
		}
	}
	return nil
}

// readDirectory sends the listing in pages of pageSize entries. An empty
// directory yields one empty final page.
func (p *Provider) readDirectory(ctx context.Context, req types.ProviderRequest, r *root, op *types.ReadDirectoryRequest) error {
	full, err := r.resolve(op.DirectoryPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotADirectory
	}
	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return err
	}

	entries := make([]types.EntryMetadata, 0, len(dirEntries))
	for _, e := range dirEntries {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := path.Join(op.DirectoryPath, e.Name())
		if r.ignored(child) {
			continue
		}
		childFull := filepath.Join(full, e.Name())
		childInfo, err := os.Stat(childFull)
		if err != nil {
			// dangling symlink or a racing delete
			continue
		}
		entries = append(entries, *metadata(childFull, child, childInfo, op.Fields))
	}

	for start := 0; ; start += p.pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+p.pageSize, len(entries))
		hasMore := end < len(entries)
		page := &types.DirectoryPage{Entries: entries[start:end]}
		if !p.respond(req, page, hasMore) || !hasMore {
			return nil
		}
	}
}

func (p *Provider) openFile(r *root, op *types.OpenFileRequest) error {
	full, err := r.resolve(op.FilePath)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errNotAFile
	}

	flag := os.O_RDONLY
	if op.Mode == types.OpenModeWrite {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(full, flag, 0)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := r.files[op.OpenRequestID]; ok {
		_ = old.Close()
	}
	r.files[op.OpenRequestID] = f
	return nil
}

func (p *Provider) file(r *root, openID types.RequestID) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := r.files[openID]
	if !ok {
		return nil, errHandleNotFound
	}
	return f, nil
}

func (p *Provider) closeFile(r *root, op *types.CloseFileRequest) error {
	p.mu.Lock()
	f, ok := r.files[op.OpenRequestID]
	delete(r.files, op.OpenRequestID)
	p.mu.Unlock()
	if !ok {
		return errHandleNotFound
	}
	return f.Close()
}

// readFile sends up to Length bytes from Offset in chunks of readChunk.
// The stream ends early at end of file.
func (p *Provider) readFile(ctx context.Context, req types.ProviderRequest, r *root, op *types.ReadFileRequest) error {
	f, err := p.file(r, op.OpenRequestID)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	buf := make([]byte, p.readChunk)
	offset, remaining := op.Offset, op.Length
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := f.ReadAt(buf[:want], offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		offset += int64(n)
		remaining -= int64(n)
		done := int64(n) < want || remaining <= 0 || offset >= size

		chunk := &types.FileChunk{Data: append([]byte(nil), buf[:n]...)}
		if !p.respond(req, chunk, !done) || done {
			return nil
		}
	}
}

func (p *Provider) writeFile(r *root, op *types.WriteFileRequest) error {
	f, err := p.file(r, op.OpenRequestID)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(op.Data, op.Offset)
	return err
}

func (p *Provider) createDirectory(r *root, op *types.CreateDirectoryRequest) error {
	full, err := r.resolve(op.DirectoryPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(full); err == nil {
		return errExists
	}
	if op.Recursive {
		return os.MkdirAll(full, dirPerm)
	}
	return os.Mkdir(full, dirPerm)
}

func (p *Provider) deleteEntry(r *root, op *types.DeleteEntryRequest) error {
	if op.EntryPath == paths.Root {
		return errRootEntry
	}
	full, err := r.resolve(op.EntryPath)
	if err != nil {
		return err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}
	if info.IsDir() && op.Recursive {
		return os.RemoveAll(full)
	}
	return os.Remove(full)
}

func (p *Provider) createFile(r *root, op *types.CreateFileRequest) error {
	full, err := r.resolve(op.FilePath)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

func (p *Provider) truncate(r *root, op *types.TruncateRequest) error {
	full, err := r.resolve(op.FilePath)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errNotAFile
	}
	return os.Truncate(full, op.Length)
}

// transfer resolves both ends of a copy or move
func (r *root) transfer(source, target string) (string, string, fs.FileInfo, error) {
	if source == paths.Root || target == paths.Root {
		return "", "", nil, errRootEntry
	}
	if paths.IsAncestor(source, target) {
		return "", "", nil, errInsideSource
	}
	src, err := r.resolve(source)
	if err != nil {
		return "", "", nil, err
	}
	dst, err := r.resolve(target)
	if err != nil {
		return "", "", nil, err
	}
	info, err := os.Lstat(src)
	if err != nil {
		return "", "", nil, err
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", "", nil, errExists
	}
	if _, err := os.Stat(filepath.Dir(dst)); err != nil {
		return "", "", nil, err
	}
	return src, dst, info, nil
}

func (p *Provider) moveEntry(r *root, op *types.MoveEntryRequest) error {
	src, dst, _, err := r.transfer(op.SourcePath, op.TargetPath)
	if err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (p *Provider) copyEntry(ctx context.Context, r *root, op *types.CopyEntryRequest) error {
	src, dst, info, err := r.transfer(op.SourcePath, op.TargetPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(ctx, src, dst, info)
	}
	return r.copyTree(ctx, op.SourcePath, src, dst)
}

// copyTree walks src and recreates it under dst. Ignored entries are
// left behind.
func (r *root) copyTree(ctx context.Context, sourcePath, src, dst string) error {
	var (
		mu    sync.Mutex
		dirs  []string
		files []string
		links []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil || rel == "." {
			return err
		}
		if r.ignored(path.Join(sourcePath, filepath.ToSlash(rel))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		switch {
		case d.IsDir():
			dirs = append(dirs, rel)
		case d.Type()&fs.ModeSymlink != 0:
			links = append(links, rel)
		case d.Type().IsRegular():
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := os.Mkdir(dst, dirPerm); err != nil {
		return err
	}
	// parents sort before their children
	sort.Strings(dirs)
	for _, rel := range dirs {
		if err := os.Mkdir(filepath.Join(dst, rel), dirPerm); err != nil {
			return err
		}
	}
	for _, rel := range files {
		from := filepath.Join(src, rel)
		info, err := os.Lstat(from)
		if err != nil {
			return err
		}
		if err := copyFile(ctx, from, filepath.Join(dst, rel), info); err != nil {
			return err
		}
	}
	for _, rel := range links {
		target, err := os.Readlink(filepath.Join(src, rel))
		if err != nil {
			return err
		}
		if err := os.Symlink(target, filepath.Join(dst, rel)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string, info fs.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// contextReader stops a copy once its context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

func (p *Provider) addWatcher(r *root, op *types.AddWatcherRequest) error {
	full, err := r.resolve(op.EntryPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		return err
	}
	return p.watches.add(r, op.EntryPath, op.Recursive, full)
}
