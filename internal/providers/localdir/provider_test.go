package localdir

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

const fsID = "docs"

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

type fixture struct {
	bridge *bridge.Bridge
	p      *Provider
	dir    string
}

func newFixture(t *testing.T, opts Options, configure func(*Root)) *fixture {
	t.Helper()
	dir := t.TempDir()
	b := bridge.New(bridge.Options{EventHistory: 64})
	t.Cleanup(b.Close)

	root := Root{
		Options: types.MountOptions{
			FileSystemID:      fsID,
			DisplayName:       "Docs",
			Writable:          true,
			Watchable:         true,
			SupportsNotifyTag: true,
		},
		Dir: dir,
	}
	if configure != nil {
		configure(&root)
	}

	p, err := New(b, []Root{root}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, b.AttachProvider(p))
	require.NoError(t, p.Start())
	return &fixture{bridge: b, p: p, dir: dir}
}

func (f *fixture) list(t *testing.T, dir string) []string {
	t.Helper()
	ctx := waitCtx(t)
	s, err := f.bridge.ReadDirectory(ctx, fsID, dir, types.MetadataFields{Name: true})
	require.NoError(t, err)
	pages, err := s.Collect(ctx)
	require.NoError(t, err)
	var names []string
	for _, page := range pages {
		for _, e := range page.Entries {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestStartMountsRoots(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	info, err := f.bridge.Get(fsID)
	require.NoError(t, err)
	assert.Equal(t, "Docs", info.DisplayName)

	// a second start leaves the mount alone
	require.NoError(t, f.p.Start())
	assert.Len(t, f.bridge.List(), 1)
}

func TestNewRejectsBadRoots(t *testing.T) {
	b := bridge.New(bridge.Options{})
	defer b.Close()

	_, err := New(b, []Root{{Options: types.MountOptions{FileSystemID: "x"}, Dir: filepath.Join(t.TempDir(), "missing")}}, Options{})
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = New(b, []Root{
		{Options: types.MountOptions{FileSystemID: "x"}, Dir: dir},
		{Options: types.MountOptions{FileSystemID: "x"}, Dir: dir},
	}, Options{})
	assert.Error(t, err)

	_, err = New(b, []Root{{Options: types.MountOptions{FileSystemID: "x"}, Dir: dir, Ignore: []string{"[bad"}}}, Options{})
	assert.Error(t, err)
}

func TestGetMetadata(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	writeFile(t, f.dir, "notes/readme.txt", "hello world")
	ctx := waitCtx(t)

	fut, err := f.bridge.GetMetadata(ctx, fsID, "/notes/readme.txt", types.AllMetadataFields())
	require.NoError(t, err)
	md, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "readme.txt", md.Name)
	assert.False(t, md.IsDirectory)
	assert.Equal(t, int64(11), md.Size)
	assert.Contains(t, md.MimeType, "text/plain")
	assert.False(t, md.ModificationTime.IsZero())

	fut, err = f.bridge.GetMetadata(ctx, fsID, "/", types.AllMetadataFields())
	require.NoError(t, err)
	md, err = fut.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, md.IsDirectory)
	assert.Empty(t, md.Name)

	fut, err = f.bridge.GetMetadata(ctx, fsID, "/missing", types.AllMetadataFields())
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestReadDirectoryPages(t *testing.T) {
	f := newFixture(t, Options{PageSize: 2}, nil)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, f.dir, name, name)
	}
	ctx := waitCtx(t)

	s, err := f.bridge.ReadDirectory(ctx, fsID, "/", types.MetadataFields{Name: true})
	require.NoError(t, err)
	pages, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Len(t, pages[2].Entries, 1)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, f.list(t, "/"))
}

func TestReadDirectoryEdgeCases(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "empty"), 0o755))
	writeFile(t, f.dir, "file", "x")
	ctx := waitCtx(t)

	s, err := f.bridge.ReadDirectory(ctx, fsID, "/empty", types.MetadataFields{Name: true})
	require.NoError(t, err)
	pages, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Empty(t, pages[0].Entries)

	s, err = f.bridge.ReadDirectory(ctx, fsID, "/file", types.MetadataFields{Name: true})
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	assert.Equal(t, types.CodeNotADirectory, types.CodeOf(err))
}

func TestIgnorePatterns(t *testing.T) {
	f := newFixture(t, Options{}, func(r *Root) {
		r.Ignore = []string{".git", "build/*.bin", "*.tmp"}
	})
	writeFile(t, f.dir, ".git/HEAD", "ref")
	writeFile(t, f.dir, "build/out.bin", "bin")
	writeFile(t, f.dir, "src/scratch.tmp", "tmp")
	writeFile(t, f.dir, "src/main.go", "package main")
	ctx := waitCtx(t)

	assert.Equal(t, []string{"build", "src"}, f.list(t, "/"))
	assert.Equal(t, []string{"main.go"}, f.list(t, "/src"))
	assert.Empty(t, f.list(t, "/build"))

	fut, err := f.bridge.GetMetadata(ctx, fsID, "/.git/HEAD", types.AllMetadataFields())
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	assert.Equal(t, types.CodeAccessDenied, types.CodeOf(err))
}

func TestSymlinkOutsideRootIsRefused(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	outside := t.TempDir()
	writeFile(t, outside, "secret", "s")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(f.dir, "link")))
	ctx := waitCtx(t)

	fut, err := f.bridge.GetMetadata(ctx, fsID, "/link", types.AllMetadataFields())
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	assert.Equal(t, types.CodeSecurity, types.CodeOf(err))
}

func TestOpenReadWriteClose(t *testing.T) {
	f := newFixture(t, Options{ReadChunk: 4}, nil)
	writeFile(t, f.dir, "data.txt", "0123456789")
	ctx := waitCtx(t)

	open, err := f.bridge.OpenFile(ctx, fsID, "/data.txt", types.OpenModeRead)
	require.NoError(t, err)
	handle, err := open.Wait(ctx)
	require.NoError(t, err)

	s, err := f.bridge.ReadFile(ctx, fsID, handle.OpenRequestID, 2, 100)
	require.NoError(t, err)
	chunks, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	var got bytes.Buffer
	for _, c := range chunks {
		got.Write(c.Data)
	}
	assert.Equal(t, "23456789", got.String())

	closed, err := f.bridge.CloseFile(ctx, fsID, handle.OpenRequestID)
	require.NoError(t, err)
	_, err = closed.Wait(ctx)
	require.NoError(t, err)

	open, err = f.bridge.OpenFile(ctx, fsID, "/data.txt", types.OpenModeWrite)
	require.NoError(t, err)
	handle, err = open.Wait(ctx)
	require.NoError(t, err)
	write, err := f.bridge.WriteFile(ctx, fsID, handle.OpenRequestID, 8, []byte("XYZ"))
	require.NoError(t, err)
	_, err = write.Wait(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "01234567XYZ", string(data))
}

func TestReadFileZeroLength(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	writeFile(t, f.dir, "data.txt", "abc")
	ctx := waitCtx(t)

	open, err := f.bridge.OpenFile(ctx, fsID, "/data.txt", types.OpenModeRead)
	require.NoError(t, err)
	handle, err := open.Wait(ctx)
	require.NoError(t, err)

	s, err := f.bridge.ReadFile(ctx, fsID, handle.OpenRequestID, 0, 0)
	require.NoError(t, err)
	chunks, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Data)
}

func TestOpenDirectoryIsNotAFile(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "sub"), 0o755))
	ctx := waitCtx(t)

	open, err := f.bridge.OpenFile(ctx, fsID, "/sub", types.OpenModeRead)
	require.NoError(t, err)
	_, err = open.Wait(ctx)
	assert.Equal(t, types.CodeNotAFile, types.CodeOf(err))
}

func TestMutations(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := waitCtx(t)
	wait := func(fut interface {
		Wait(context.Context) (struct{}, error)
	}, err error) error {
		require.NoError(t, err)
		_, err = fut.Wait(ctx)
		return err
	}

	require.NoError(t, wait(f.bridge.CreateDirectory(ctx, fsID, "/a/b", true)))
	assert.DirExists(t, filepath.Join(f.dir, "a", "b"))
	assert.Equal(t, types.CodeExists, types.CodeOf(wait(f.bridge.CreateDirectory(ctx, fsID, "/a", false))))
	assert.Equal(t, types.CodeNotFound, types.CodeOf(wait(f.bridge.CreateDirectory(ctx, fsID, "/x/y", false))))

	require.NoError(t, wait(f.bridge.CreateFile(ctx, fsID, "/a/b/file.txt")))
	assert.Equal(t, types.CodeExists, types.CodeOf(wait(f.bridge.CreateFile(ctx, fsID, "/a/b/file.txt"))))
	writeFile(t, f.dir, "a/b/file.txt", "content")

	require.NoError(t, wait(f.bridge.Truncate(ctx, fsID, "/a/b/file.txt", 3)))
	data, err := os.ReadFile(filepath.Join(f.dir, "a", "b", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "con", string(data))
	assert.Equal(t, types.CodeNotAFile, types.CodeOf(wait(f.bridge.Truncate(ctx, fsID, "/a", 0))))

	require.NoError(t, wait(f.bridge.CopyEntry(ctx, fsID, "/a", "/copy")))
	data, err = os.ReadFile(filepath.Join(f.dir, "copy", "b", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "con", string(data))
	assert.Equal(t, types.CodeExists, types.CodeOf(wait(f.bridge.CopyEntry(ctx, fsID, "/a", "/copy"))))
	assert.Equal(t, types.CodeInvalidOperation, types.CodeOf(wait(f.bridge.CopyEntry(ctx, fsID, "/a", "/a/b/inner"))))

	require.NoError(t, wait(f.bridge.MoveEntry(ctx, fsID, "/copy/b/file.txt", "/moved.txt")))
	assert.FileExists(t, filepath.Join(f.dir, "moved.txt"))
	assert.NoFileExists(t, filepath.Join(f.dir, "copy", "b", "file.txt"))

	assert.Equal(t, types.CodeNotEmpty, types.CodeOf(wait(f.bridge.DeleteEntry(ctx, fsID, "/a", false))))
	require.NoError(t, wait(f.bridge.DeleteEntry(ctx, fsID, "/a", true)))
	assert.NoDirExists(t, filepath.Join(f.dir, "a"))
	assert.Equal(t, types.CodeNotFound, types.CodeOf(wait(f.bridge.DeleteEntry(ctx, fsID, "/a", true))))
	assert.Equal(t, types.CodeInvalidOperation, types.CodeOf(wait(f.bridge.DeleteEntry(ctx, fsID, "/", true))))
}

func TestActions(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	writeFile(t, f.dir, "old.txt", "x")
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, "old.txt"), past, past))
	ctx := waitCtx(t)

	fut, err := f.bridge.GetActions(ctx, fsID, []string{"/old.txt"})
	require.NoError(t, err)
	list, err := fut.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, list.Actions, 1)
	assert.Equal(t, ActionTouch, list.Actions[0].ID)

	run, err := f.bridge.ExecuteAction(ctx, fsID, []string{"/old.txt"}, ActionTouch)
	require.NoError(t, err)
	_, err = run.Wait(ctx)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(f.dir, "old.txt"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)

	run, err = f.bridge.ExecuteAction(ctx, fsID, []string{"/old.txt"}, "share")
	require.NoError(t, err)
	_, err = run.Wait(ctx)
	assert.Equal(t, types.CodeInvalidOperation, types.CodeOf(err))
}

func TestConfigureIsRefused(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := waitCtx(t)

	fut, err := f.bridge.Configure(ctx, fsID)
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	assert.Equal(t, types.CodeInvalidOperation, types.CodeOf(err))
}

func TestUnmountAndMountRequest(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := waitCtx(t)

	unmount, err := f.bridge.RequestUnmount(ctx, fsID)
	require.NoError(t, err)
	_, err = unmount.Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.bridge.List())

	mount, err := f.bridge.RequestMount(ctx)
	require.NoError(t, err)
	_, err = mount.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, f.bridge.List(), 1)

	mount, err = f.bridge.RequestMount(ctx)
	require.NoError(t, err)
	_, err = mount.Wait(ctx)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestAbortCancelsRunningOperation(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := waitCtx(t)

	// a request the provider is still working on
	runCtx, cancel := context.WithCancel(context.Background())
	key := opKey{fsID: fsID, id: 999}
	f.p.mu.Lock()
	f.p.running[key] = cancel
	f.p.mu.Unlock()

	f.p.abort(fsID, 999)
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)

	// nothing is sent for a cancelled request
	f.p.finish(runCtx, types.ProviderRequest{FileSystemID: fsID, RequestID: 999, Operation: &types.ConfigureRequest{}}, nil, nil)

	fut, err := f.bridge.GetMetadata(ctx, fsID, "/", types.AllMetadataFields())
	require.NoError(t, err)
	abort, err := f.bridge.Abort(ctx, fsID, fut.ID())
	require.NoError(t, err)
	_, err = abort.Wait(ctx)
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	// the metadata reply may win the race against the abort
	if err != nil {
		assert.Equal(t, types.CodeAbort, types.CodeOf(err))
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	f := newFixture(t, Options{Debounce: 20 * time.Millisecond}, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "watched"), 0o755))
	ctx := waitCtx(t)

	events, cancel, err := f.bridge.Subscribe(fsID, "")
	require.NoError(t, err)
	defer cancel()

	add, err := f.bridge.AddWatcher(ctx, fsID, "/watched", false)
	require.NoError(t, err)
	_, err = add.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.p.watches.count())

	writeFile(t, f.dir, "watched/new.txt", "x")

	select {
	case ev := <-events:
		assert.Equal(t, "/watched", ev.ObservedPath)
		assert.Equal(t, types.ChangeChanged, ev.ChangeType)
		assert.NotEmpty(t, ev.Tag)
		require.NotEmpty(t, ev.Changes)
		assert.Equal(t, "/watched/new.txt", ev.Changes[0].EntryPath)
	case <-ctx.Done():
		t.Fatal("no change event")
	}

	remove, err := f.bridge.RemoveWatcher(ctx, fsID, "/watched", false)
	require.NoError(t, err)
	_, err = remove.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.p.watches.count())
}

func TestRecursiveWatcherFollowsNewDirectories(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "tree", "deep"), 0o755))
	ctx := waitCtx(t)

	events, cancel, err := f.bridge.Subscribe(fsID, "")
	require.NoError(t, err)
	defer cancel()

	add, err := f.bridge.AddWatcher(ctx, fsID, "/tree", true)
	require.NoError(t, err)
	_, err = add.Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "tree", "deep", "fresh"), 0o755))
	// the new directory is watched before its first file shows up
	require.Eventually(t, func() bool {
		f.p.watches.mu.Lock()
		defer f.p.watches.mu.Unlock()
		return f.p.watches.refs[filepath.Join(f.p.roots[fsID].dir, "tree", "deep", "fresh")] > 0
	}, 2*time.Second, 10*time.Millisecond)
	writeFile(t, f.dir, "tree/deep/fresh/leaf.txt", "x")

	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				for _, c := range ev.Changes {
					seen[c.EntryPath] = true
				}
			default:
				return seen["/tree/deep/fresh/leaf.txt"]
			}
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDeletedWatchedEntryEndsWatch(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "gone"), 0o755))
	ctx := waitCtx(t)

	events, cancel, err := f.bridge.Subscribe(fsID, "")
	require.NoError(t, err)
	defer cancel()

	add, err := f.bridge.AddWatcher(ctx, fsID, "/gone", false)
	require.NoError(t, err)
	_, err = add.Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "gone")))

	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			return ev.ObservedPath == "/gone" && ev.ChangeType == types.ChangeDeleted
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.p.watches.count())
}

func TestCloseRefusesDelivery(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, f.p.Close())
	require.NoError(t, f.p.Close())

	err := f.p.Deliver(context.Background(), types.ProviderRequest{FileSystemID: fsID, RequestID: 1, Operation: &types.ConfigureRequest{}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCodeFor(t *testing.T) {
	tests := map[string]struct {
		err  error
		want types.ProviderError
	}{
		"not exist":  {err: &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, want: types.CodeNotFound},
		"exists":     {err: &os.PathError{Op: "mkdir", Path: "x", Err: os.ErrExist}, want: types.CodeExists},
		"not empty":  {err: &os.PathError{Op: "remove", Path: "x", Err: syscall.ENOTEMPTY}, want: types.CodeNotEmpty},
		"not dir":    {err: &os.PathError{Op: "open", Path: "x", Err: syscall.ENOTDIR}, want: types.CodeNotADirectory},
		"permission": {err: &os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}, want: types.CodeAccessDenied},
		"coded":      {err: errNotAFile, want: types.CodeNotAFile},
		"canceled":   {err: context.Canceled, want: types.CodeAbort},
		"other path": {err: &os.PathError{Op: "read", Path: "x", Err: os.ErrClosed}, want: types.CodeIO},
		"plain":      {err: assert.AnError, want: types.CodeFailed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, codeFor(tt.err))
		})
	}
}
