package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/probedge/probedge/internal/metrics"
	"github.com/probedge/probedge/internal/models"
)

// ErrNoState is returned by Load when no persisted document exists.
var ErrNoState = errors.New("no persisted live state")

// softWriteDeadline is the point past which a persist counts as slow.
const softWriteDeadline = 2 * time.Second

// Persister mirrors the store to live_state.json. Writes happen after every
// apply but are debounced so a burst of deltas produces at most one write
// per debounce interval.
type Persister struct {
	store    *Store
	path     string
	debounce time.Duration
	logger   *logrus.Logger
}

// NewPersister wires a persister for the given store and file path.
func NewPersister(store *Store, path string, debounce time.Duration, logger *logrus.Logger) *Persister {
	return &Persister{store: store, path: path, debounce: debounce, logger: logger}
}

// Run consumes the store's dirty signal until ctx is cancelled, then flushes
// one final time so shutdown never loses the last delta.
func (p *Persister) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(p.debounce), 1)
	for {
		select {
		case <-ctx.Done():
			if err := p.Flush(); err != nil {
				p.logger.WithError(err).Error("Final state flush failed")
			}
			return nil
		case <-p.store.Dirty():
			if err := limiter.Wait(ctx); err != nil {
				continue
			}
			if err := p.Flush(); err != nil {
				p.logger.WithError(err).Error("State persist failed")
			}
		}
	}
}

// Flush writes the current snapshot via write-tmp-then-rename.
func (p *Persister) Flush() error {
	started := time.Now()
	snap := p.store.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling live state: %w", err)
	}
	if err := WriteFileAtomic(p.path, data); err != nil {
		return err
	}
	metrics.StateWrites.Inc()

	if elapsed := time.Since(started); elapsed > softWriteDeadline {
		p.logger.WithField("elapsed", elapsed).Warn("State persist exceeded soft deadline")
	}
	return nil
}

// WriteFileAtomic writes data to path through a temp file and rename, so
// readers only ever observe a complete document.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Load reads a previously persisted document, used by the mid-day restart
// reconciliation. A missing file yields ErrNoState.
func Load(path string) (*SystemState, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from validated config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var st SystemState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if st.Quotes == nil {
		st.Quotes = make(map[string]models.Quote)
	}
	if st.Tags == nil {
		st.Tags = make(map[string]models.SessionTags)
	}
	if st.TagsMeta == nil {
		st.TagsMeta = make(map[string]models.TagTimes)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]*models.Position)
	}
	if st.Agents == nil {
		st.Agents = make(map[string]AgentHB)
	}
	return &st, nil
}
