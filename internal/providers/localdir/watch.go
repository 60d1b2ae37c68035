package localdir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

type watchKey struct {
	fsID      string
	entryPath string
}

// watch is one watcher of the bridge and the host directories it needs
type watch struct {
	root      *root
	entryPath string
	recursive bool
	dirs      []string

	changed bool
	deleted bool
	pending map[string]types.ChangeType
	timer   *time.Timer
}

// watchSet shares one fsnotify watcher between every watch. Host paths are
// reference counted since watches may overlap.
type watchSet struct {
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration
	emit     func(*root, types.NotifyOptions)

	mu      sync.Mutex
	refs    map[string]int
	watches map[watchKey]*watch
	closed  bool
	done    chan struct{}
	stopped chan struct{}
}

func newWatchSet(logger *zap.Logger, debounce time.Duration, emit func(*root, types.NotifyOptions)) (*watchSet, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &watchSet{
		fsw:      fsw,
		logger:   logger,
		debounce: debounce,
		emit:     emit,
		refs:     make(map[string]int),
		watches:  make(map[watchKey]*watch),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *watchSet) run() {
	defer close(s.stopped)
	for {
		select {
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Watch error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

// add starts observing full for the watcher at entryPath. A recursive watch
// on a directory covers every directory below it.
func (s *watchSet) add(r *root, entryPath string, recursive bool, full string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	key := watchKey{fsID: r.Options.FileSystemID, entryPath: entryPath}
	if old, ok := s.watches[key]; ok {
		s.releaseLocked(old)
	}

	w := &watch{root: r, entryPath: entryPath, recursive: recursive}
	if err := s.watchLocked(w, full); err != nil {
		s.releaseLocked(w)
		return err
	}
	s.watches[key] = w
	s.logger.Debug("Watching",
		zap.String("file_system_id", key.fsID),
		zap.String("entry_path", entryPath),
		zap.Bool("recursive", recursive),
		zap.Int("dirs", len(w.dirs)))
	return nil
}

func (s *watchSet) watchLocked(w *watch, full string) error {
	dirs := []string{full}
	if w.recursive {
		subdirs, err := collectDirs(w.root, full)
		if err != nil {
			return err
		}
		dirs = append(dirs, subdirs...)
	}
	for _, dir := range dirs {
		if err := s.refLocked(dir); err != nil {
			return err
		}
		w.dirs = append(w.dirs, dir)
	}
	return nil
}

// collectDirs lists the directories below full, skipping ignored ones
func collectDirs(r *root, full string) ([]string, error) {
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return nil, err
	}

	var (
		mu   sync.Mutex
		dirs []string
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// vanished while walking
			return nil
		}
		if !d.IsDir() || p == full {
			return nil
		}
		if entryPath, ok := r.entryPath(p); ok && r.ignored(entryPath) {
			return filepath.SkipDir
		}
		mu.Lock()
		dirs = append(dirs, p)
		mu.Unlock()
		return nil
	})
	sort.Strings(dirs)
	return dirs, err
}

func (s *watchSet) refLocked(dir string) error {
	if s.refs[dir] > 0 {
		s.refs[dir]++
		return nil
	}
	if err := s.fsw.Add(dir); err != nil {
		return err
	}
	s.refs[dir] = 1
	return nil
}

func (s *watchSet) unrefLocked(dir string) {
	switch n := s.refs[dir]; {
	case n > 1:
		s.refs[dir] = n - 1
	case n == 1:
		delete(s.refs, dir)
		if err := s.fsw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			s.logger.Debug("Watch removal failed", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (s *watchSet) releaseLocked(w *watch) {
	if w.timer != nil {
		w.timer.Stop()
	}
	for _, dir := range w.dirs {
		s.unrefLocked(dir)
	}
	w.dirs = nil
}

// remove stops a watch. Unknown watches are ignored.
func (s *watchSet) remove(fsID, entryPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := watchKey{fsID: fsID, entryPath: entryPath}
	if w, ok := s.watches[key]; ok {
		s.releaseLocked(w)
		delete(s.watches, key)
	}
}

// drop stops every watch of a file system
func (s *watchSet) drop(fsID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.watches {
		if key.fsID == fsID {
			s.releaseLocked(w)
			delete(s.watches, key)
		}
	}
}

func (s *watchSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *watchSet) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, w := range s.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(s.watches, key)
	}
	s.mu.Unlock()

	close(s.done)
	err := s.fsw.Close()
	<-s.stopped
	return err
}

func (s *watchSet) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	gone := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if gone {
		// fsnotify forgets a removed directory on its own
		delete(s.refs, event.Name)
	}

	var ready []*watch
	for _, w := range s.watches {
		entryPath, ok := w.root.entryPath(event.Name)
		if !ok || w.root.ignored(entryPath) || !paths.Covers(w.entryPath, w.recursive, entryPath) {
			continue
		}

		switch {
		case entryPath == w.entryPath && gone:
			w.deleted = true
		case entryPath == w.entryPath:
			w.changed = true
		case gone:
			w.record(entryPath, types.ChangeDeleted)
		default:
			w.record(entryPath, types.ChangeChanged)
			if w.recursive && event.Has(fsnotify.Create) {
				s.extendLocked(w, event.Name)
			}
		}

		if s.debounce <= 0 {
			ready = append(ready, w)
		} else if w.timer == nil {
			w.timer = time.AfterFunc(s.debounce, func() { s.flush(w) })
		}
	}
	s.mu.Unlock()

	for _, w := range ready {
		s.flush(w)
	}
}

// extendLocked adds a directory created inside a recursive watch
func (s *watchSet) extendLocked(w *watch, full string) {
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return
	}
	subdirs, err := collectDirs(w.root, full)
	if err != nil {
		s.logger.Debug("Walking new directory failed", zap.String("dir", full), zap.Error(err))
	}
	for _, dir := range append([]string{full}, subdirs...) {
		if err := s.refLocked(dir); err != nil {
			s.logger.Debug("Watching new directory failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.dirs = append(w.dirs, dir)
	}
}

func (w *watch) record(entryPath string, change types.ChangeType) {
	if w.pending == nil {
		w.pending = make(map[string]types.ChangeType)
	}
	w.pending[entryPath] = change
}

// flush reports what a watch collected. A deleted entry ends its watch.
func (s *watchSet) flush(w *watch) {
	s.mu.Lock()
	w.timer = nil
	key := watchKey{fsID: w.root.Options.FileSystemID, entryPath: w.entryPath}
	if s.closed || s.watches[key] != w {
		s.mu.Unlock()
		return
	}
	if !w.deleted && !w.changed && len(w.pending) == 0 {
		s.mu.Unlock()
		return
	}

	opts := types.NotifyOptions{
		FileSystemID: key.fsID,
		ObservedPath: w.entryPath,
		Recursive:    w.recursive,
		ChangeType:   types.ChangeChanged,
	}
	if w.deleted {
		opts.ChangeType = types.ChangeDeleted
		s.releaseLocked(w)
		delete(s.watches, key)
	} else {
		for entryPath, change := range w.pending {
			opts.Changes = append(opts.Changes, types.Change{EntryPath: entryPath, ChangeType: change})
		}
		sort.Slice(opts.Changes, func(i, j int) bool {
			return opts.Changes[i].EntryPath < opts.Changes[j].EntryPath
		})
	}
	w.changed, w.pending = false, nil
	s.mu.Unlock()

	s.emit(w.root, opts)
}
