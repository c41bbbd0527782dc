// Package feed delivers per-symbol tick events. Two sources exist behind
// one interface: a live websocket subscription and a deterministic replay
// of recorded 5-minute bars.
package feed

import (
	"context"
	"errors"

	"github.com/probedge/probedge/internal/models"
)

// ErrEndOfStream reports a source with no further ticks (replay exhausted
// or live session closed for good).
var ErrEndOfStream = errors.New("feed: end of stream")

// Source is the single capability the runtime consumes ticks through.
type Source interface {
	// Next blocks until a tick is available, the stream ends
	// (ErrEndOfStream), or ctx is cancelled.
	Next(ctx context.Context) (models.Tick, error)
	Close() error
}
