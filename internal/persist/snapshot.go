package persist

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"autotrader/internal/models"
)

// ErrSnapshotCorrupt means the snapshot file exists but cannot be decoded.
// The process must refuse to start rather than trade on a guessed state.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// SnapshotStore persists the engine state to a single JSON file. Save
// writes to a temp file and renames, so a crash mid-write leaves the
// previous snapshot intact.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Save(snap models.EngineSnapshot) error {
	snap.Version = models.EngineSnapshotVersion
	snap.SavedAt = time.Now().UTC()

	raw, err := sonic.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "snapshot dir")
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "snapshot temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close snapshot")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "rename snapshot")
	}
	return nil
}

// Load returns nil with no error when no snapshot exists (fresh start) and
// ErrSnapshotCorrupt when one exists but cannot be decoded.
func (s *SnapshotStore) Load() (*models.EngineSnapshot, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}

	var snap models.EngineSnapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "%s: %v", s.path, err)
	}
	if snap.Version != models.EngineSnapshotVersion {
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "%s: unsupported version %d", s.path, snap.Version)
	}
	return &snap, nil
}
