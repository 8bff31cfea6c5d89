package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

const (
	fileMode = 0o644
	dirMode  = 0o755
)

var _ store.LogStore = (*Store)(nil)

// Store appends access records to a CSV file. It holds no open handle
// between calls: every Append opens, writes one row, syncs and closes, so a
// crash between events cannot damage rows already on disk.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// EnsureInitialized creates the file with its header row if it does not
// exist yet. An existing file is left untouched, whatever its contents.
func (s *Store) EnsureInitialized(_ context.Context) error {
	if s.path == "" {
		return errors.New("csvfile: path is empty")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("csvfile: mkdir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("csvfile: create %s: %w", s.path, err)
	}

	if err := writeRow(f, store.Header); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvfile: write header: %w", err)
	}
	return f.Close()
}

// Append writes rec as a single CRLF-terminated row, matching files written
// by earlier versions of the logger.
func (s *Store) Append(_ context.Context, rec types.LogRecord) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, fileMode)
	if err != nil {
		return fmt.Errorf("csvfile: open %s: %w", s.path, err)
	}

	if err := writeRow(f, rec.Fields()); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvfile: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csvfile: close: %w", err)
	}
	return nil
}

func writeRow(f *os.File, fields []string) error {
	w := csv.NewWriter(f)
	w.UseCRLF = true
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
