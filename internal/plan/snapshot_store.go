package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/retry"
	"github.com/probedge/probedge/internal/state"
)

// ErrNoSnapshot is returned when no snapshot exists for a day.
var ErrNoSnapshot = errors.New("no plan snapshot for day")

// SnapshotStore persists plan snapshots. A snapshot is written atomically
// to the working file and the per-day archive; once a locked snapshot is on
// disk it is never rewritten.
type SnapshotStore struct {
	paths  config.PathsConfig
	logger *logrus.Logger
}

// NewSnapshotStore wires the store over the configured state paths.
func NewSnapshotStore(paths config.PathsConfig, logger *logrus.Logger) *SnapshotStore {
	return &SnapshotStore{paths: paths, logger: logger}
}

// Write persists the snapshot with three one-second retries per file. The
// caller treats a returned error as FAILED and halts new trading.
func (s *SnapshotStore) Write(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	cfg := retry.FixedConfig(3, time.Second)

	working := s.paths.PlanSnapshotFile(snap.Date)
	if err := retry.Do(ctx, s.logger, "write plan snapshot", cfg, func() error {
		return state.WriteFileAtomic(working, data)
	}); err != nil {
		return err
	}

	archive := s.paths.PlanArchiveFile(snap.Date)
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	return retry.Do(ctx, s.logger, "archive plan snapshot", cfg, func() error {
		return state.WriteFileAtomic(archive, data)
	})
}

// Load reads the working snapshot for a day, used by restart reconciliation.
func (s *SnapshotStore) Load(day string) (*models.Snapshot, error) {
	path := s.paths.PlanSnapshotFile(day)
	data, err := os.ReadFile(path) // #nosec G304 -- path derives from validated config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, day)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snap, nil
}
