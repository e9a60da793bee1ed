package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/defect-detect/internal/upload"
	"github.com/lehigh-university-libraries/defect-detect/internal/utils"
	"github.com/lehigh-university-libraries/defect-detect/pkg/metrics"
)

const AnnotatedPrefix = "annotated_"

// FileStore keeps uploads and annotated copies side by side in one flat
// directory. Modification time is the only bookkeeping.
type FileStore struct {
	dir     string
	maxSize int64
	now     func() time.Time

	mu       sync.Mutex
	closed   bool
	sweeping atomic.Bool
	wg       sync.WaitGroup
}

func New(dir string, maxSize int64) *FileStore {
	return &FileStore{
		dir:     dir,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Save writes r under a fresh random name. Content larger than the store's
// limit is rejected with an *upload.Error before any file is created.
func (s *FileStore) Save(r io.Reader, filename string) (string, error) {
	name := uuid.NewString() + "." + upload.Extension(filename)
	path := filepath.Join(s.dir, name)

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return "", upload.TooLarge(s.maxSize)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	metrics.UploadBytes.Observe(float64(len(data)))
	slog.Info("Image saved", "filename", name, "original", filename, "size", len(data), "md5", utils.CalculateDataMD5(data))
	return path, nil
}

// AnnotatedPath is where the annotated copy of an upload is written.
func (s *FileStore) AnnotatedPath(uploadPath string) string {
	return filepath.Join(s.dir, AnnotatedPrefix+filepath.Base(uploadPath))
}

// Cleanup removes regular files directly inside the store directory whose
// age exceeds maxAge. It never fails; problems are logged. It returns the
// number of files removed.
func (s *FileStore) Cleanup(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Unable to list upload directory", "dir", s.dir, "err", err)
		}
		return 0
	}

	now := s.now()
	deleted := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			metrics.CleanupFailures.Inc()
			slog.Error("Error deleting old file", "path", path, "err", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		metrics.CleanupDeleted.Add(float64(deleted))
		slog.Info("Cleaned up old files", "dir", s.dir, "deleted", deleted, "max_age", maxAge)
	}
	return deleted
}

// CleanupAsync runs Cleanup on its own goroutine. Only one sweep runs at a
// time; a trigger that arrives while one is in flight, or after Close, is
// dropped.
func (s *FileStore) CleanupAsync(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sweeping.Store(false)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Cleanup sweep panicked", "panic", r)
			}
		}()
		s.Cleanup(maxAge)
	}()
}

// Close stops new detached sweeps and waits for the one in flight.
func (s *FileStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (s *FileStore) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Upload janitor started", "interval", interval, "max_age", maxAge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupAsync(maxAge)
		}
	}
}
