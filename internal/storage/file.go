package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "reposter/pkg/logx"
)

// fileStore keeps the whole table in one JSON document.
// Writes go to <path>.tmp first and are renamed over the target.
type fileStore struct {
	log  logx.Logger
	path string
	loc  *time.Location

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &fileStore{log: log, path: path, loc: loc}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) *Jobs {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("loading jobs", logx.String("path", s.path))
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("jobs file unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return NewJobs()
	}
	js, skipped, err := DecodeJobs(b, s.loc)
	if err != nil {
		s.log.Warn("jobs file corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
		return NewJobs()
	}
	for _, problem := range skipped {
		s.log.Warn("malformed job record", logx.String("path", s.path), logx.Err(problem))
	}
	return js
}

func (s *fileStore) Save(ctx context.Context, jobs *Jobs) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("saving jobs", logx.String("path", s.path), logx.Int("count", jobs.Len()))
	if err := s.writeLocked(jobs); err != nil {
		s.log.Error("failed to save jobs file", logx.String("path", s.path), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

func (s *fileStore) writeLocked(jobs *Jobs) error {
	b, err := EncodeJobs(jobs, s.loc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
