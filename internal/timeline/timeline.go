// Package timeline centralizes the reveal schedule. Every producer asks the
// gate whether its output may exist yet; the scheduler fires each cutover
// callback exactly once per trading day.
package timeline

import (
	"time"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/models"
)

// Field names a gated output.
type Field string

const (
	FieldQuote Field = "quote"
	FieldOHLC  Field = "ohlc"
	FieldPDC   Field = "tags.PDC"
	FieldOL    Field = "tags.OL"
	FieldOT    Field = "tags.OT"
)

// Gate is the pure reveal predicate over the configured cutovers.
type Gate struct {
	cut config.CutoversConfig
}

// NewGate builds a gate from the configured cutovers.
func NewGate(cut config.CutoversConfig) Gate {
	return Gate{cut: cut}
}

// Reveal reports whether field may be produced at the given instant. Quotes
// and OHLC are never gated; tags open at their cutover.
func (g Gate) Reveal(field Field, now time.Time) bool {
	switch field {
	case FieldQuote, FieldOHLC:
		return true
	case FieldPDC:
		return !now.Before(g.at(now, g.cut.PDC))
	case FieldOL:
		return !now.Before(g.at(now, g.cut.OL))
	case FieldOT:
		return !now.Before(g.at(now, g.cut.OT))
	default:
		return false
	}
}

// PlanVisible reports whether plan fields are live: only a locked snapshot
// in an executable status reveals the plan.
func (g Gate) PlanVisible(status models.SnapshotStatus, locked bool) bool {
	return locked && status.Executable()
}

func (g Gate) at(now time.Time, t config.TimeOfDay) time.Time {
	return clock.At(now, t.Hour, t.Min, t.Sec)
}
