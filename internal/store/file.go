package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/simplesurance/labeltracker/internal/fsutil"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

// FileStore stores the state as a JSON document in a single file.
// The file is replaced atomically on every commit.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Init(_ context.Context, owner, repo, label string) error {
	_, err := os.Stat(s.path)
	if err == nil {
		return fmt.Errorf("state file %s already exists", s.path)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return s.write(history.NewState(owner, repo, label))
}

func (s *FileStore) Load(_ context.Context) (*history.State, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("state file %s: %w", s.path, trackerr.ErrNotFound)
		}

		return nil, err
	}
	defer f.Close()

	var state history.State
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return nil, fmt.Errorf("parsing state file %s failed: %w", s.path, err)
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("state file %s: %w", s.path, err)
	}

	return &state, nil
}

// Commit writes the complete state. The whole document is replaced, kind
// and newEvents are only used by stores that persist kinds separately.
func (s *FileStore) Commit(_ context.Context, _ history.Kind, state *history.State, _ []history.Event) error {
	return s.write(state)
}

func (s *FileStore) write(state *history.State) error {
	err := fsutil.WriteFileAtomic(s.path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	})
	if err != nil {
		return fmt.Errorf("writing state file %s failed: %w", s.path, err)
	}

	return nil
}

func (s *FileStore) Close() error {
	return nil
}
