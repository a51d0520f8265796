// Package mediastore prunes bridge-downloaded media files once they
// outlive the configured retention window.
package mediastore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type Store struct {
	root string
	log  *slog.Logger
}

func New(root string, log *slog.Logger) *Store {
	return &Store{root: root, log: log}
}

// Sweep removes regular files last modified before now minus retention
// and prunes directories left empty. A missing root is not an error.
func (s *Store) Sweep(now time.Time, retention time.Duration) (int, error) {
	if retention <= 0 || s.root == "" {
		return 0, nil
	}
	cutoff := now.Add(-retention)
	removed := 0
	var dirs []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	// Deepest directories first; Remove only succeeds on empty ones.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		_ = os.Remove(dir)
	}
	return removed, nil
}

// Run sweeps on a fixed interval until ctx ends.
func (s *Store) Run(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(time.Now(), retention)
			if err != nil {
				s.log.Warn("media_sweep_failed", "root", s.root, "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("media_swept", "removed", n, "root", s.root)
			}
		}
	}
}
