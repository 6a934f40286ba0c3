package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// archiveStamp orders archive files lexicographically by creation time.
const archiveStamp = "20060102T150405.000"

// auditWriter appends to a single audit log file and, once it grows past
// the size limit, renames it to a timestamped archive and starts a fresh
// file. Archives are pruned by count and by age so the submission trail
// stays bounded without ever truncating the live file.
type auditWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
	now        func() time.Time
}

func newAuditWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *auditWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rotate archives the live file under a timestamped name and reopens a
// fresh one. A rename collision within the same millisecond appends a
// numeric suffix instead of overwriting the earlier archive.
func (w *auditWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
		w.size = 0
	}

	stamp := w.now().UTC().Format(archiveStamp)
	archive := fmt.Sprintf("%s.%s", w.path, stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(archive); os.IsNotExist(err) {
			break
		}
		archive = fmt.Sprintf("%s.%s-%d", w.path, stamp, i)
	}
	if err := os.Rename(w.path, archive); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive audit log: %w", err)
	}

	w.prune()
	return w.open()
}

// prune drops archives beyond the backup count and archives older than
// the retention window. The live file is never removed.
func (w *auditWriter) prune() {
	archives, err := filepath.Glob(w.path + ".*")
	if err != nil || len(archives) == 0 {
		return
	}
	// Timestamped names sort by age, newest first after the reverse.
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))

	cutoff := w.now().Add(-w.maxAge)
	for i, archive := range archives {
		if w.maxBackups > 0 && i >= w.maxBackups {
			_ = os.Remove(archive)
			continue
		}
		if w.maxAge > 0 {
			if info, err := os.Stat(archive); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(archive)
			}
		}
	}
}
