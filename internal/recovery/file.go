package recovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileStore keeps one file per key in a directory. Writes go to a temp file
// that is renamed over the target, so readers never see a partial snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, eris.Wrapf(err, "recovery: create %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return filepath.Join(s.dir, r.Replace(key)+".snap")
}

func (s *FileStore) Save(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".snap-*")
	if err != nil {
		return eris.Wrap(err, "recovery: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "recovery: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "recovery: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "recovery: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), s.path(key)), "recovery: rename snapshot %s", key)
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "recovery: read snapshot %s", key)
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "recovery: delete snapshot %s", key)
	}
	return nil
}
