package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/watcher"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

func newTestNotifier(t *testing.T) (*Notifier, *watcher.Registry) {
	t.Helper()
	reg := watcher.NewRegistry()
	bus := NewBus[types.ChangeEvent](BusOptions{Name: "test"})
	t.Cleanup(bus.Close)
	return NewNotifier(reg, bus, nil), reg
}

func receive(t *testing.T, ch <-chan types.ChangeEvent) types.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return types.ChangeEvent{}
}

func TestNotifyFansOutAndAdvancesTag(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", false))

	ch, cancel, err := n.Subscribe("fs1", "")
	require.NoError(t, err)
	defer cancel()

	res, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		ChangeType:   types.ChangeChanged,
		Changes:      []types.Change{{EntryPath: "/docs/a.txt", ChangeType: types.ChangeChanged}},
		Tag:          "t1",
	}, true)
	require.NoError(t, err)
	assert.True(t, res.Delivered)

	ev := receive(t, ch)
	assert.Equal(t, "/docs", ev.ObservedPath)
	assert.Equal(t, "t1", ev.Tag)
	require.Len(t, ev.Changes, 1)

	w, _ := reg.Get("fs1", "/docs")
	assert.Equal(t, "t1", w.LastTag)
}

func TestNotifyMissingTag(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", false))

	_, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		ChangeType:   types.ChangeChanged,
	}, true)
	assert.ErrorIs(t, err, types.ErrMissingTag)
	assert.Equal(t, types.CodeInvalidOperation, types.CodeOf(err))
}

func TestNotifyIgnoresTagWhenUnsupported(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", false))

	res, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		ChangeType:   types.ChangeChanged,
		Tag:          "ignored",
	}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Event.Tag)

	w, _ := reg.Get("fs1", "/docs")
	assert.Empty(t, w.LastTag)
}

func TestNotifyWithoutWatcherIsAcceptedSilently(t *testing.T) {
	n, _ := newTestNotifier(t)
	ch, cancel := n.Bus().Subscribe()
	defer cancel()

	res, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/nowhere",
		ChangeType:   types.ChangeChanged,
	}, false)
	require.NoError(t, err)
	assert.False(t, res.Delivered)

	select {
	case <-ch:
		t.Fatal("no event expected")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNotifyRecursiveMismatchAccepted(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", true))

	res, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		Recursive:    false,
		ChangeType:   types.ChangeChanged,
	}, false)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
}

func TestNotifyDeletedDropsWatchers(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", true))
	require.NoError(t, reg.Add("fs1", "/docs/sub", false))
	require.NoError(t, reg.Add("fs1", "/other", false))

	ch, cancel, err := n.Subscribe("", "/docs/**")
	require.NoError(t, err)
	defer cancel()

	res, err := n.Notify(types.NotifyOptions{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		Recursive:    true,
		ChangeType:   types.ChangeDeleted,
		Changes:      []types.Change{{EntryPath: "/docs/sub", ChangeType: types.ChangeDeleted}},
	}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/docs", "/docs/sub"}, res.Removed)

	ev := receive(t, ch)
	assert.Equal(t, types.ChangeDeleted, ev.ChangeType)

	_, ok := reg.Get("fs1", "/docs")
	assert.False(t, ok)
	_, ok = reg.Get("fs1", "/other")
	assert.True(t, ok)
}

func TestNotifyPreservesOrderPerPath(t *testing.T) {
	n, reg := newTestNotifier(t)
	require.NoError(t, reg.Add("fs1", "/docs", false))

	ch, cancel, err := n.Subscribe("fs1", "")
	require.NoError(t, err)
	defer cancel()

	for _, tag := range []string{"1", "2", "3"} {
		_, err := n.Notify(types.NotifyOptions{
			FileSystemID: "fs1", ObservedPath: "/docs", ChangeType: types.ChangeChanged, Tag: tag,
		}, true)
		require.NoError(t, err)
	}
	for _, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, receive(t, ch).Tag)
	}
}

func TestNotifyValidation(t *testing.T) {
	n, _ := newTestNotifier(t)

	_, err := n.Notify(types.NotifyOptions{FileSystemID: "fs1", ObservedPath: "docs", ChangeType: types.ChangeChanged}, false)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = n.Notify(types.NotifyOptions{FileSystemID: "fs1", ObservedPath: "/docs", ChangeType: "MOVED"}, false)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, _, err = n.Subscribe("", "/docs/[")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestMatches(t *testing.T) {
	ev := types.ChangeEvent{
		FileSystemID: "fs1",
		ObservedPath: "/docs",
		Changes:      []types.Change{{EntryPath: "/docs/a.md"}},
	}
	assert.True(t, Matches(ev, "", ""))
	assert.False(t, Matches(ev, "fs2", ""))
	assert.True(t, Matches(ev, "fs1", "/docs/*.md"))
	assert.False(t, Matches(ev, "fs1", "/music/**"))
}
