package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ema-price-alerts/internal/signal"
)

// File keeps each job's state in its own JSON file under a directory.
type File struct {
	dir string
}

// NewFile returns a file-backed state store rooted at dir.
func NewFile(dir string) *File {
	if dir == "" {
		dir = "."
	}
	return &File{dir: dir}
}

// Path returns the state file used for job.
func (f *File) Path(job string) string {
	return filepath.Join(f.dir, fmt.Sprintf("last_post_data_%s.json", fileStem(job)))
}

// Load reads the job's state, falling back to the default state.
func (f *File) Load(_ context.Context, job string) (signal.AlertState, error) {
	data, err := os.ReadFile(f.Path(job))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return signal.DefaultState(), nil
		}
		return signal.DefaultState(), fmt.Errorf("%w: %v", ErrStateUnreadable, err)
	}
	return decodeState(data)
}

// Save writes the state to a temp file and renames it over the old record.
func (f *File) Save(_ context.Context, job string, state signal.AlertState) error {
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, f.Path(job)); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// fileStem maps a job name to a file-safe stem. Names that needed rewriting
// carry a hash of the raw name so distinct jobs never share a file.
func fileStem(job string) string {
	stem := sanitizeJob(job)
	if stem == job {
		return stem
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(job))
	return fmt.Sprintf("%s_%08x", stem, h.Sum32())
}

func sanitizeJob(job string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, job)
}

var _ StateStore = (*File)(nil)
