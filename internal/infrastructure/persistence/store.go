package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// FormatVersion is the state file layout version
const FormatVersion = 1

// ErrClosed is returned by Flush after Close
var ErrClosed = errors.New("state store closed")

// document is the on-disk layout of the state file
type document struct {
	Version int                 `json:"version"`
	Mounts  []types.MountRecord `json:"mounts"`
}

// FileStore persists mount records to a JSON file. Save only records the
// latest snapshot; a background writer coalesces snapshots and writes them
// with a temp file and rename, rotating older copies into numbered backups.
type FileStore struct {
	path    string
	backups int
	logger  *zap.Logger

	mu      sync.Mutex
	pending []types.MountRecord
	dirty   bool
	lastErr error

	wake    chan struct{}
	flushes chan chan error
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewFileStore creates a store writing to path and starts its writer
func NewFileStore(path string, backups int, logger *zap.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path required")
	}
	if backups < 0 {
		backups = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &FileStore{
		path:    path,
		backups: backups,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Path returns the state file location
func (s *FileStore) Path() string {
	return s.path
}

// Save replaces the pending snapshot. It never blocks on I/O.
func (s *FileStore) Save(records []types.MountRecord) {
	snapshot := make([]types.MountRecord, len(records))
	copy(snapshot, records)

	s.mu.Lock()
	s.pending = snapshot
	s.dirty = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush writes the pending snapshot, if any, and waits for it
func (s *FileStore) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flushes <- reply:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the pending snapshot and stops the writer
func (s *FileStore) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *FileStore) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.wake:
			s.writePending()
		case reply := <-s.flushes:
			reply <- s.writePending()
		case <-s.done:
			s.writePending()
			return
		}
	}
}

func (s *FileStore) writePending() error {
	s.mu.Lock()
	if !s.dirty {
		err := s.lastErr
		s.mu.Unlock()
		return err
	}
	records := s.pending
	s.dirty = false
	s.mu.Unlock()

	err := s.write(records)
	if err != nil {
		s.logger.Error("Failed to write state file", zap.String("path", s.path), zap.Error(err))
	} else {
		s.logger.Debug("State file written", zap.String("path", s.path), zap.Int("mounts", len(records)))
	}

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *FileStore) write(records []types.MountRecord) error {
	if records == nil {
		records = []types.MountRecord{}
	}
	payload, err := sonic.ConfigStd.MarshalIndent(document{Version: FormatVersion, Mounts: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(payload); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	s.rotate()
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}

// rotate shifts path.N-1 to path.N down to path to path.1
func (s *FileStore) rotate() {
	if s.backups == 0 {
		return
	}
	for i := s.backups - 1; i >= 1; i-- {
		from := s.backupPath(i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, s.backupPath(i+1))
		}
	}
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath(1)); err != nil {
			s.logger.Warn("State backup failed", zap.String("path", s.path), zap.Error(err))
		}
	}
}

func (s *FileStore) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", s.path, n)
}

// Load reads the newest readable snapshot. A corrupt state file falls back
// to its backups in order; a missing file yields no records.
func (s *FileStore) Load(ctx context.Context) ([]types.MountRecord, error) {
	candidates := []string{s.path}
	for i := 1; i <= s.backups; i++ {
		candidates = append(candidates, s.backupPath(i))
	}

	var firstErr error
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readDocument(path)
		if err == nil {
			if path != s.path {
				s.logger.Warn("Restored state from backup", zap.String("backup", path))
			}
			return records, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		s.logger.Warn("Unreadable state file", zap.String("path", path), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func readDocument(path string) ([]types.MountRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("decode %s: unsupported version %d", filepath.Base(path), doc.Version)
	}
	return doc.Mounts, nil
}
