// Package fsutil provides filesystem helpers.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes the data produced by write to path.
// The data is written to a temporary file in the directory of path that is
// renamed to path when write succeeded. Readers either see the old or the
// new content of path, never a partial write.
func WriteFileAtomic(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err := write(f); err != nil {
		return err
	}

	if err := f.Chmod(perm); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s failed: %w", f.Name(), err)
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}
