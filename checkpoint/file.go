package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m4xw311/deepacp/errors"
)

// FileStore writes one JSON document per thread under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create checkpoint directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := validThreadID(threadID); err != nil {
		return nil, err
	}
	path := f.path(threadID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "could not read checkpoint file %s", path)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrapf(err, "could not parse checkpoint file %s", path)
	}
	return &cp, nil
}

func (f *FileStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validThreadID(cp.ThreadID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize checkpoint")
	}

	// Write to a sibling file first so a crash never leaves a torn document.
	path := f.path(cp.ThreadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint into place")
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) path(threadID string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.json", threadID))
}
