package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// mockProvider records every delivered request
type mockProvider struct {
	mock.Mock
	mu       sync.Mutex
	requests []types.ProviderRequest
}

func (m *mockProvider) Deliver(ctx context.Context, req types.ProviderRequest) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.Called(req.Kind()).Error(0)
}

func (m *mockProvider) delivered() []types.ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ProviderRequest(nil), m.requests...)
}

func (m *mockProvider) last(t *testing.T) types.ProviderRequest {
	t.Helper()
	reqs := m.delivered()
	require.NotEmpty(t, reqs, "no request delivered")
	return reqs[len(reqs)-1]
}

type memStore struct {
	mu      sync.Mutex
	saved   []types.MountRecord
	saves   int
	loadErr error
}

func (s *memStore) Save(records []types.MountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = records
	s.saves++
}

func (s *memStore) Load(context.Context) ([]types.MountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, s.loadErr
}

func (s *memStore) snapshot() []types.MountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func newTestBridge(t *testing.T, opts Options) (*Bridge, *mockProvider) {
	t.Helper()
	b := New(opts)
	t.Cleanup(b.Close)

	p := &mockProvider{}
	p.On("Deliver", mock.Anything).Return(nil)
	require.NoError(t, b.AttachProvider(p))
	return b, p
}

func mustMount(t *testing.T, b *Bridge, opts types.MountOptions) {
	t.Helper()
	if opts.DisplayName == "" {
		opts.DisplayName = "Test " + opts.FileSystemID
	}
	_, err := b.Mount(opts)
	require.NoError(t, err)
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func openConfirmed(t *testing.T, b *Bridge, p *mockProvider, fsID, path string, mode types.OpenMode) types.OpenedFile {
	t.Helper()
	f, err := b.OpenFile(ctxT(t), fsID, path, mode)
	require.NoError(t, err)
	require.NoError(t, b.Respond(fsID, p.last(t).RequestID, nil, false))
	opened, err := f.Wait(ctxT(t))
	require.NoError(t, err)
	return opened
}

func TestMountGetRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t, Options{})

	_, err := b.Mount(types.MountOptions{FileSystemID: "fs1", DisplayName: "D", Writable: true})
	require.NoError(t, err)

	info, err := b.Get("fs1")
	require.NoError(t, err)
	assert.True(t, info.Writable)
	assert.Empty(t, info.OpenedFiles)
	assert.Empty(t, info.Watchers)
	assert.NotEmpty(t, info.MountID)

	_, err = b.Mount(types.MountOptions{FileSystemID: "fs1", DisplayName: "Again"})
	assert.ErrorIs(t, err, types.ErrAlreadyMounted)

	require.Len(t, b.List(), 1)
}

func TestUnmountResolvesPendingWithAbort(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	md, err := b.GetMetadata(ctxT(t), "fs1", "/a", types.AllMetadataFields())
	require.NoError(t, err)
	dir, err := b.ReadDirectory(ctxT(t), "fs1", "/", types.AllMetadataFields())
	require.NoError(t, err)

	require.NoError(t, b.Unmount("fs1"))

	_, err = b.Get("fs1")
	assert.ErrorIs(t, err, types.ErrNotMounted)

	_, err = md.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeAbort)
	_, err = dir.Collect(ctxT(t))
	assert.ErrorIs(t, err, types.CodeAbort)
	assert.Empty(t, b.Pending("fs1"))

	// Late replies for the gone mount are refused
	err = b.Respond("fs1", p.last(t).RequestID, &types.DirectoryPage{}, false)
	assert.ErrorIs(t, err, types.ErrNotMounted)

	assert.ErrorIs(t, b.Unmount("fs1"), types.ErrNotMounted)
}

func TestDispatchToUnknownFileSystemAllocatesNothing(t *testing.T) {
	b, p := newTestBridge(t, Options{})

	_, err := b.GetMetadata(ctxT(t), "nope", "/a", types.MetadataFields{})
	assert.ErrorIs(t, err, types.ErrNotMounted)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
	assert.Empty(t, p.delivered())

	mustMount(t, b, types.MountOptions{FileSystemID: "nope"})
	f, err := b.GetMetadata(ctxT(t), "nope", "/a", types.MetadataFields{})
	require.NoError(t, err)
	assert.Equal(t, types.RequestID(1), f.ID())
}

func TestRequestIDsAreUniquePerFileSystem(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.GetMetadata(context.Background(), "fs1", "/a", types.MetadataFields{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[types.RequestID]bool{}
	for _, req := range p.delivered() {
		assert.False(t, seen[req.RequestID])
		seen[req.RequestID] = true
	}
	assert.Len(t, seen, n)
}

func TestOpenFileLimitScenario(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", OpenedFilesLimit: 1})

	first := openConfirmed(t, b, p, "fs1", "/a", types.OpenModeRead)
	assert.True(t, first.Confirmed)

	_, err := b.OpenFile(ctxT(t), "fs1", "/b", types.OpenModeRead)
	assert.ErrorIs(t, err, types.ErrTooManyOpened)
	assert.Equal(t, types.CodeTooManyOpened, types.CodeOf(err))

	info, err := b.Get("fs1")
	require.NoError(t, err)
	assert.Len(t, info.OpenedFiles, 1)

	closeFuture, err := b.CloseFile(ctxT(t), "fs1", first.OpenRequestID)
	require.NoError(t, err)
	require.NoError(t, b.Respond("fs1", closeFuture.ID(), nil, false))

	second := openConfirmed(t, b, p, "fs1", "/b", types.OpenModeRead)
	assert.Greater(t, second.OpenRequestID, first.OpenRequestID)
}

func TestOpenFileCarriesIndependentHandleID(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	_, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)

	f, err := b.OpenFile(ctxT(t), "fs1", "/a", types.OpenModeRead)
	require.NoError(t, err)

	req := p.last(t)
	op, ok := req.Operation.(*types.OpenFileRequest)
	require.True(t, ok)
	assert.Equal(t, types.RequestID(2), req.RequestID)
	assert.Equal(t, types.RequestID(1), op.OpenRequestID)
	assert.Equal(t, types.RequestID(2), f.ID())
}

func TestOpenFileFailureReleasesReservation(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", OpenedFilesLimit: 1})

	f, err := b.OpenFile(ctxT(t), "fs1", "/missing", types.OpenModeRead)
	require.NoError(t, err)

	info, _ := b.Get("fs1")
	require.Len(t, info.OpenedFiles, 1)
	assert.False(t, info.OpenedFiles[0].Confirmed)

	require.NoError(t, b.Fail("fs1", p.last(t).RequestID, types.CodeNotFound))
	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeNotFound)

	info, _ = b.Get("fs1")
	assert.Empty(t, info.OpenedFiles)

	openConfirmed(t, b, p, "fs1", "/a", types.OpenModeRead)
}

func TestReadOnlyMountRejectsMutations(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "ro"})

	ctx := ctxT(t)
	calls := []func() error{
		func() error { _, err := b.CreateFile(ctx, "ro", "/a"); return err },
		func() error { _, err := b.CreateDirectory(ctx, "ro", "/d", true); return err },
		func() error { _, err := b.DeleteEntry(ctx, "ro", "/a", false); return err },
		func() error { _, err := b.CopyEntry(ctx, "ro", "/a", "/b"); return err },
		func() error { _, err := b.MoveEntry(ctx, "ro", "/a", "/b"); return err },
		func() error { _, err := b.Truncate(ctx, "ro", "/a", 0); return err },
		func() error { _, err := b.OpenFile(ctx, "ro", "/a", types.OpenModeWrite); return err },
		func() error { _, err := b.WriteFile(ctx, "ro", 1, 0, []byte("x")); return err },
	}
	for i, call := range calls {
		err := call()
		assert.ErrorIs(t, err, types.ErrReadOnly, "call %d", i)
		assert.Equal(t, types.CodeAccessDenied, types.CodeOf(err))
	}
	assert.Empty(t, p.delivered())

	_, err := b.OpenFile(ctx, "ro", "/a", types.OpenModeRead)
	assert.NoError(t, err)
}

func TestHandleChecks(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", Writable: true})
	ctx := ctxT(t)

	_, err := b.ReadFile(ctx, "fs1", 42, 0, 10)
	assert.ErrorIs(t, err, types.ErrInvalidHandle)

	pending, err := b.OpenFile(ctx, "fs1", "/a", types.OpenModeRead)
	require.NoError(t, err)
	_, err = b.ReadFile(ctx, "fs1", 1, 0, 10)
	assert.ErrorIs(t, err, types.ErrInvalidHandle, "unconfirmed handle")

	require.NoError(t, b.Respond("fs1", pending.ID(), nil, false))
	opened, err := pending.Wait(ctx)
	require.NoError(t, err)

	_, err = b.WriteFile(ctx, "fs1", opened.OpenRequestID, 0, []byte("x"))
	assert.ErrorIs(t, err, types.ErrWrongMode)

	_, err = b.ReadFile(ctx, "fs1", opened.OpenRequestID, -1, 10)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	writer := openConfirmed(t, b, p, "fs1", "/b", types.OpenModeWrite)
	w, err := b.WriteFile(ctx, "fs1", writer.OpenRequestID, 0, []byte("hello"))
	require.NoError(t, err)
	op := p.last(t).Operation.(*types.WriteFileRequest)
	assert.Equal(t, []byte("hello"), op.Data)
	require.NoError(t, b.Respond("fs1", w.ID(), nil, false))

	_, err = b.CloseFile(ctx, "fs1", 99)
	assert.ErrorIs(t, err, types.ErrHandleNotFound)
}

func TestCloseRemovesHandleWhateverTheReply(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	opened := openConfirmed(t, b, p, "fs1", "/a", types.OpenModeRead)
	f, err := b.CloseFile(ctxT(t), "fs1", opened.OpenRequestID)
	require.NoError(t, err)

	info, _ := b.Get("fs1")
	assert.Empty(t, info.OpenedFiles)

	require.NoError(t, b.Fail("fs1", f.ID(), types.CodeIO))
	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeIO)

	_, err = b.ReadFile(ctxT(t), "fs1", opened.OpenRequestID, 0, 1)
	assert.ErrorIs(t, err, types.ErrInvalidHandle)
}

func TestReadDirectoryPagination(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	stream, err := b.ReadDirectory(ctxT(t), "fs1", "/docs/", types.AllMetadataFields())
	require.NoError(t, err)

	req := p.last(t)
	assert.Equal(t, "/docs", req.Operation.(*types.ReadDirectoryRequest).DirectoryPath)

	page := func(names ...string) *types.DirectoryPage {
		out := &types.DirectoryPage{}
		for _, n := range names {
			out.Entries = append(out.Entries, types.EntryMetadata{Name: n})
		}
		return out
	}
	require.NoError(t, b.Respond("fs1", req.RequestID, page("a", "b"), true))
	require.NoError(t, b.Respond("fs1", req.RequestID, page("c"), true))
	require.NoError(t, b.Respond("fs1", req.RequestID, page("d"), false))

	pages, err := stream.Collect(ctxT(t))
	require.NoError(t, err)

	var names []string
	for _, pg := range pages {
		for _, e := range pg.Entries {
			names = append(names, e.Name)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	err = b.Respond("fs1", req.RequestID, page("e"), false)
	assert.ErrorIs(t, err, types.ErrAlreadyResolved)
}

func TestReadFileErrorEndsStream(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})
	opened := openConfirmed(t, b, p, "fs1", "/a", types.OpenModeRead)

	stream, err := b.ReadFile(ctxT(t), "fs1", opened.OpenRequestID, 0, 100)
	require.NoError(t, err)

	require.NoError(t, b.Respond("fs1", stream.ID(), &types.FileChunk{Data: []byte("ab")}, true))
	require.NoError(t, b.Fail("fs1", stream.ID(), types.CodeIO))

	_, err = stream.Collect(ctxT(t))
	assert.ErrorIs(t, err, types.CodeIO)

	err = b.Respond("fs1", stream.ID(), &types.FileChunk{}, false)
	assert.ErrorIs(t, err, types.ErrAlreadyResolved)
}

func TestAbortOpenFileScenario(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", OpenedFilesLimit: 1})
	ctx := ctxT(t)

	for i := 0; i < 4; i++ {
		_, err := b.GetMetadata(ctx, "fs1", "/x", types.MetadataFields{})
		require.NoError(t, err)
	}
	open, err := b.OpenFile(ctx, "fs1", "/a", types.OpenModeRead)
	require.NoError(t, err)
	require.Equal(t, types.RequestID(5), open.ID())

	abort, err := b.Abort(ctx, "fs1", 5)
	require.NoError(t, err)
	abortReq := p.last(t)
	assert.Equal(t, types.OpAbort, abortReq.Kind())
	assert.Equal(t, types.RequestID(5), abortReq.Operation.(*types.AbortRequest).OperationRequestID)

	require.NoError(t, b.Respond("fs1", abortReq.RequestID, nil, false))
	_, err = abort.Wait(ctx)
	require.NoError(t, err)

	_, err = open.Wait(ctx)
	assert.ErrorIs(t, err, types.CodeAbort)
	assert.Equal(t, types.CodeAbort, types.CodeOf(err))

	// The delayed success is discarded without error
	assert.NoError(t, b.Respond("fs1", 5, nil, false))

	info, _ := b.Get("fs1")
	assert.Empty(t, info.OpenedFiles, "aborted open releases its reservation")
	openConfirmed(t, b, p, "fs1", "/b", types.OpenModeRead)
}

func TestAbortFailureStillAbortsTarget(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})
	ctx := ctxT(t)

	target, err := b.GetMetadata(ctx, "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)
	abort, err := b.Abort(ctx, "fs1", target.ID())
	require.NoError(t, err)

	require.NoError(t, b.Fail("fs1", abort.ID(), types.CodeFailed))
	_, err = abort.Wait(ctx)
	assert.ErrorIs(t, err, types.CodeFailed)

	_, err = target.Wait(ctx)
	assert.ErrorIs(t, err, types.CodeAbort)
}

func TestAbortResolvedAndUnknownRequests(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})
	ctx := ctxT(t)

	f, err := b.GetMetadata(ctx, "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)
	require.NoError(t, b.Respond("fs1", f.ID(), &types.EntryMetadata{Name: "x"}, false))

	before := len(p.delivered())
	abort, err := b.Abort(ctx, "fs1", f.ID())
	require.NoError(t, err)
	_, err = abort.Wait(ctx)
	assert.NoError(t, err)
	assert.Len(t, p.delivered(), before, "provider not contacted")

	_, err = b.Abort(ctx, "fs1", 1000)
	assert.ErrorIs(t, err, types.ErrRequestNotFound)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestDoubleResolutionIsNotPropagated(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.AllMetadataFields())
	require.NoError(t, err)

	require.NoError(t, b.Respond("fs1", f.ID(), &types.EntryMetadata{Name: "first"}, false))
	assert.ErrorIs(t, b.Respond("fs1", f.ID(), &types.EntryMetadata{Name: "second"}, false), types.ErrAlreadyResolved)
	assert.ErrorIs(t, b.Fail("fs1", f.ID(), types.CodeIO), types.ErrAlreadyResolved)

	md, err := f.Wait(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, "first", md.Name)
}

func TestMalformedReplyFailsRequest(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.AllMetadataFields())
	require.NoError(t, err)

	err = b.Respond("fs1", f.ID(), nil, false)
	assert.ErrorIs(t, err, types.ErrUnexpectedReply)

	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeFailed)

	g, err := b.GetActions(ctxT(t), "fs1", []string{"/x"})
	require.NoError(t, err)
	err = b.Respond("fs1", g.ID(), &types.FileChunk{}, false)
	assert.ErrorIs(t, err, types.ErrUnexpectedReply)
}

func TestWatchers(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", Watchable: true})
	mustMount(t, b, types.MountOptions{FileSystemID: "plain"})
	ctx := ctxT(t)

	_, err := b.AddWatcher(ctx, "plain", "/", false)
	assert.ErrorIs(t, err, types.ErrNotWatchable)

	add, err := b.AddWatcher(ctx, "fs1", "/dir", true)
	require.NoError(t, err)
	_, err = b.AddWatcher(ctx, "fs1", "/dir", false)
	assert.ErrorIs(t, err, types.ErrWatcherExists)
	require.NoError(t, b.Respond("fs1", add.ID(), nil, false))

	rm, err := b.RemoveWatcher(ctx, "fs1", "/dir", true)
	require.NoError(t, err)
	require.NoError(t, b.Fail("fs1", rm.ID(), types.CodeFailed))

	info, _ := b.Get("fs1")
	assert.Empty(t, info.Watchers, "removed whatever the provider answered")

	_, err = b.RemoveWatcher(ctx, "fs1", "/dir", true)
	assert.ErrorIs(t, err, types.ErrWatcherNotFound)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))

	rejected, err := b.AddWatcher(ctx, "fs1", "/other", false)
	require.NoError(t, err)
	require.NoError(t, b.Fail("fs1", p.last(t).RequestID, types.CodeAccessDenied))
	_, err = rejected.Wait(ctx)
	assert.ErrorIs(t, err, types.CodeAccessDenied)

	info, _ = b.Get("fs1")
	assert.Empty(t, info.Watchers)
}

func TestNotifyDeletedScenario(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", Watchable: true, SupportsNotifyTag: true})

	add, err := b.AddWatcher(ctxT(t), "fs1", "/dir", false)
	require.NoError(t, err)
	require.NoError(t, b.Respond("fs1", add.ID(), nil, false))

	events, cancel, err := b.Subscribe("fs1", "")
	require.NoError(t, err)
	defer cancel()

	deleted := types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/dir",
		ChangeType:   types.ChangeDeleted,
		Tag:          "t1",
	}
	require.NoError(t, b.Notify(deleted))

	select {
	case ev := <-events:
		assert.Equal(t, types.ChangeDeleted, ev.ChangeType)
		assert.Equal(t, "t1", ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}

	info, _ := b.Get("fs1")
	assert.Empty(t, info.Watchers)

	deleted.Tag = "t2"
	require.NoError(t, b.Notify(deleted))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNotifyTagRules(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "tagged", Watchable: true, SupportsNotifyTag: true})

	err := b.Notify(types.NotifyOptions{FileSystemID: "tagged", ObservedPath: "/", ChangeType: types.ChangeChanged})
	assert.ErrorIs(t, err, types.ErrMissingTag)

	err = b.Notify(types.NotifyOptions{FileSystemID: "missing", ObservedPath: "/", ChangeType: types.ChangeChanged})
	assert.ErrorIs(t, err, types.ErrNotMounted)

	add, err := b.AddWatcher(ctxT(t), "tagged", "/", true)
	require.NoError(t, err)
	require.NoError(t, b.Respond("tagged", add.ID(), nil, false))

	require.NoError(t, b.Notify(types.NotifyOptions{
		FileSystemID: "tagged", ObservedPath: "/", Recursive: true, ChangeType: types.ChangeChanged, Tag: "t7",
	}))
	info, _ := b.Get("tagged")
	require.Len(t, info.Watchers, 1)
	assert.Equal(t, "t7", info.Watchers[0].LastTag)
}

func TestRequestUnmount(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})
	ctx := ctxT(t)

	f, err := b.RequestUnmount(ctx, "fs1")
	require.NoError(t, err)
	assert.Equal(t, types.OpUnmount, p.last(t).Kind())

	require.NoError(t, b.Respond("fs1", f.ID(), nil, false))
	_, err = f.Wait(ctx)
	require.NoError(t, err)

	_, err = b.Get("fs1")
	assert.ErrorIs(t, err, types.ErrNotMounted)
}

func TestRequestUnmountWhenProviderUnmountsFirst(t *testing.T) {
	b, _ := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.RequestUnmount(ctxT(t), "fs1")
	require.NoError(t, err)

	// Provider handles the request by unmounting directly
	require.NoError(t, b.Unmount("fs1"))

	_, err = f.Wait(ctxT(t))
	assert.NoError(t, err)
}

func TestRequestMountUsesProviderScope(t *testing.T) {
	b, p := newTestBridge(t, Options{})

	f, err := b.RequestMount(ctxT(t))
	require.NoError(t, err)

	req := p.last(t)
	assert.Equal(t, types.OpMount, req.Kind())
	assert.Empty(t, req.FileSystemID)
	require.Len(t, b.Pending(""), 1)

	require.NoError(t, b.Respond("", req.RequestID, nil, false))
	_, err = f.Wait(ctxT(t))
	assert.NoError(t, err)
}

func TestOtherOperationsReachProvider(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1", Writable: true})
	ctx := ctxT(t)

	tests := []struct {
		kind types.OperationKind
		call func() (types.RequestID, error)
	}{
		{types.OpConfigure, func() (types.RequestID, error) { f, err := b.Configure(ctx, "fs1"); return idOf(f, err) }},
		{types.OpCreateDirectory, func() (types.RequestID, error) { f, err := b.CreateDirectory(ctx, "fs1", "/d", true); return idOf(f, err) }},
		{types.OpDeleteEntry, func() (types.RequestID, error) { f, err := b.DeleteEntry(ctx, "fs1", "/d", true); return idOf(f, err) }},
		{types.OpCreateFile, func() (types.RequestID, error) { f, err := b.CreateFile(ctx, "fs1", "/f"); return idOf(f, err) }},
		{types.OpCopyEntry, func() (types.RequestID, error) { f, err := b.CopyEntry(ctx, "fs1", "/f", "/g"); return idOf(f, err) }},
		{types.OpMoveEntry, func() (types.RequestID, error) { f, err := b.MoveEntry(ctx, "fs1", "/g", "/h"); return idOf(f, err) }},
		{types.OpTruncate, func() (types.RequestID, error) { f, err := b.Truncate(ctx, "fs1", "/h", 3); return idOf(f, err) }},
		{types.OpExecuteAction, func() (types.RequestID, error) {
			f, err := b.ExecuteAction(ctx, "fs1", []string{"/h"}, "share")
			return idOf(f, err)
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			reqID, err := tt.call()
			require.NoError(t, err)
			req := p.last(t)
			assert.Equal(t, tt.kind, req.Kind())
			assert.Equal(t, reqID, req.RequestID)
			require.NoError(t, b.Respond("fs1", reqID, nil, false))
		})
	}

	actions, err := b.GetActions(ctx, "fs1", []string{"/h"})
	require.NoError(t, err)
	require.NoError(t, b.Respond("fs1", actions.ID(), &types.ActionList{Actions: []types.Action{{ID: "share"}}}, false))
	list, err := actions.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "share", list.Actions[0].ID)

	_, err = b.ExecuteAction(ctx, "fs1", nil, "share")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = b.CreateFile(ctx, "fs1", "relative")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Empty(t, b.Pending("fs1"))
}

func idOf(f *dispatch.Future[struct{}], err error) (types.RequestID, error) {
	if err != nil {
		return 0, err
	}
	return f.ID(), nil
}

func TestNoProviderFailsRequests(t *testing.T) {
	b := New(Options{})
	t.Cleanup(b.Close)
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)
	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeFailed)
	assert.ErrorIs(t, err, types.ErrNoProvider)
	assert.Equal(t, types.CodeFailed, types.CodeOf(err))
	assert.Empty(t, b.Pending("fs1"))
}

func TestDeliveryErrorFailsRequest(t *testing.T) {
	b := New(Options{})
	t.Cleanup(b.Close)
	p := &mockProvider{}
	p.On("Deliver", types.OpGetMetadata).Return(errors.New("socket closed"))
	require.NoError(t, b.AttachProvider(p))
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)
	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeFailed)
	assert.ErrorContains(t, err, "socket closed")
	assert.NotErrorIs(t, err, types.ErrNoProvider)
	p.AssertExpectations(t)
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	breaker := resilience.New("provider", resilience.Settings{
		Timeout:     time.Hour,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	b := New(Options{Breaker: breaker})
	t.Cleanup(b.Close)
	p := &mockProvider{}
	p.On("Deliver", mock.Anything).Return(errors.New("down")).Once()
	require.NoError(t, b.AttachProvider(p))
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	_, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.MetadataFields{})
	require.NoError(t, err)
	require.Equal(t, resilience.StateOpen, breaker.State())

	f, err := b.GetMetadata(ctxT(t), "fs1", "/y", types.MetadataFields{})
	require.NoError(t, err)
	_, err = f.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeFailed)
	assert.ErrorIs(t, err, types.ErrProviderDegraded)
	assert.Len(t, p.delivered(), 1, "second request never reached the provider")
}

// syncProvider answers inside Deliver
type syncProvider struct {
	b *Bridge
}

func (s *syncProvider) Deliver(_ context.Context, req types.ProviderRequest) error {
	if req.Kind() == types.OpGetMetadata {
		return s.b.Respond(req.FileSystemID, req.RequestID, &types.EntryMetadata{Name: "sync"}, false)
	}
	return s.b.Fail(req.FileSystemID, req.RequestID, types.CodeInvalidOperation)
}

func TestSynchronousProviderReply(t *testing.T) {
	b := New(Options{})
	t.Cleanup(b.Close)
	require.NoError(t, b.AttachProvider(&syncProvider{b: b}))
	mustMount(t, b, types.MountOptions{FileSystemID: "fs1"})

	f, err := b.GetMetadata(ctxT(t), "fs1", "/x", types.AllMetadataFields())
	require.NoError(t, err)
	md, err := f.Wait(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, "sync", md.Name)

	g, err := b.Configure(ctxT(t), "fs1")
	require.NoError(t, err)
	_, err = g.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeInvalidOperation)
}

func TestDetachProvider(t *testing.T) {
	b, p := newTestBridge(t, Options{})
	mustMount(t, b, types.MountOptions{FileSystemID: "temp"})
	mustMount(t, b, types.MountOptions{FileSystemID: "keep", Persistent: true})

	pending, err := b.GetMetadata(ctxT(t), "keep", "/x", types.MetadataFields{})
	require.NoError(t, err)

	assert.ErrorIs(t, b.AttachProvider(&mockProvider{}), types.ErrProviderAttached)
	b.DetachProvider(&mockProvider{})
	assert.True(t, b.HasProvider(), "detaching a different provider is ignored")

	b.DetachProvider(p)
	assert.False(t, b.HasProvider())

	_, err = b.Get("temp")
	assert.ErrorIs(t, err, types.ErrNotMounted)
	_, err = b.Get("keep")
	assert.NoError(t, err)

	_, err = pending.Wait(ctxT(t))
	assert.ErrorIs(t, err, types.CodeAbort)
}

func TestPersistenceAndRestore(t *testing.T) {
	store := &memStore{}
	b, _ := newTestBridge(t, Options{Store: store})

	mustMount(t, b, types.MountOptions{FileSystemID: "keep", Watchable: true, SupportsNotifyTag: true, Persistent: true})
	mustMount(t, b, types.MountOptions{FileSystemID: "temp"})

	add, err := b.AddWatcher(ctxT(t), "keep", "/docs", true)
	require.NoError(t, err)
	require.NoError(t, b.Respond("keep", add.ID(), nil, false))
	require.NoError(t, b.Notify(types.NotifyOptions{
		FileSystemID: "keep", ObservedPath: "/docs", Recursive: true, ChangeType: types.ChangeChanged, Tag: "42",
	}))

	saved := store.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, "keep", saved[0].Options.FileSystemID)
	require.Len(t, saved[0].Watchers, 1)
	assert.Equal(t, "42", saved[0].Watchers[0].LastTag)

	// A fresh bridge comes back with the persistent mount and its watcher
	restarted := New(Options{Store: store})
	t.Cleanup(restarted.Close)
	n, err := restarted.Restore(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := restarted.Get("keep")
	require.NoError(t, err)
	require.Len(t, info.Watchers, 1)
	assert.Equal(t, "42", info.Watchers[0].LastTag)
	_, err = restarted.Get("temp")
	assert.ErrorIs(t, err, types.ErrNotMounted)

	// Restoring twice keeps a single copy
	n, err = restarted.Restore(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, b.Unmount("keep"))
	assert.Empty(t, store.snapshot())
}

func TestRestoreLoadError(t *testing.T) {
	b := New(Options{Store: &memStore{loadErr: errors.New("corrupt")}})
	t.Cleanup(b.Close)

	_, err := b.Restore(ctxT(t))
	assert.Error(t, err)
}
