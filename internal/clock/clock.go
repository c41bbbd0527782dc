// Package clock provides the single time source for all time-gated logic.
// Production code reads wall time in IST; replay runs drive a virtual clock
// forward from tick timestamps, which is what makes a day deterministically
// replayable.
package clock

import (
	"sync"
	"time"
)

// Artifact time layouts. Everything user-visible is IST.
const (
	TimeLayout = "2006-01-02 15:04:05"
	DayLayout  = "2006-01-02"
)

// Clock is the only time source the runtime may consult.
type Clock interface {
	Now() time.Time
}

var (
	istOnce sync.Once
	istLoc  *time.Location
)

// IST returns the Asia/Kolkata location, falling back to a fixed +05:30
// zone for minimal containers without tzdata.
func IST() *time.Location {
	istOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			// Fallback for minimal containers
			loc = time.FixedZone("IST", 5*60*60+30*60)
		}
		istLoc = loc
	})
	return istLoc
}

// Wall is the production clock: wall time converted to IST.
type Wall struct{}

// NewWall returns the production wall clock.
func NewWall() *Wall { return &Wall{} }

// Now returns the current wall time in IST.
func (w *Wall) Now() time.Time {
	return time.Now().In(IST())
}

// Sim is a virtual clock advanced monotonically by the replay tick stream.
// Advance never moves time backwards, so out-of-order tick timestamps
// cannot breach clock monotonicity.
type Sim struct {
	mu  sync.RWMutex
	now time.Time
}

// NewSim creates a virtual clock starting at the given instant (IST).
func NewSim(start time.Time) *Sim {
	return &Sim{now: start.In(IST())}
}

// Now returns the current virtual time.
func (s *Sim) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Advance moves the virtual clock to ts if ts is later than the current
// virtual time. It returns the clock's time after the call.
func (s *Sim) Advance(ts time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts = ts.In(IST())
	if ts.After(s.now) {
		s.now = ts
	}
	return s.now
}

// FormatTime renders a timestamp in the artifact layout, in IST.
func FormatTime(t time.Time) string {
	return t.In(IST()).Format(TimeLayout)
}

// FormatDay renders the trading-day component of a timestamp in IST.
func FormatDay(t time.Time) string {
	return t.In(IST()).Format(DayLayout)
}

// At returns the instant on now's IST calendar day at the given time of day.
func At(now time.Time, hour, minute, second int) time.Time {
	n := now.In(IST())
	return time.Date(n.Year(), n.Month(), n.Day(), hour, minute, second, 0, IST())
}
