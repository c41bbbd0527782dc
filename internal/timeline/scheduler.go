package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
)

// pollInterval is the wall cadence at which the scheduler samples the Clock.
// It bounds how late a cutover can fire, not when: firing still compares
// against Clock time only.
const pollInterval = 200 * time.Millisecond

// Cutover is one scheduled firing: a name, a time of day, and the callback.
type Cutover struct {
	Name string
	At   config.TimeOfDay
	Fire func(now time.Time)
}

// Scheduler fires registered cutovers exactly once per day, in time-of-day
// order when several become due in the same poll (e.g. after a restart).
type Scheduler struct {
	clk      clock.Clock
	logger   *logrus.Logger
	cutovers []Cutover

	mu    sync.Mutex
	fired map[string]bool // day + "/" + name
}

// NewScheduler builds a scheduler over the given clock.
func NewScheduler(clk clock.Clock, logger *logrus.Logger) *Scheduler {
	return &Scheduler{clk: clk, logger: logger, fired: make(map[string]bool)}
}

// Register adds a cutover. Call before Run.
func (s *Scheduler) Register(c Cutover) {
	s.cutovers = append(s.cutovers, c)
	sort.SliceStable(s.cutovers, func(i, j int) bool {
		return s.cutovers[i].At.Seconds() < s.cutovers[j].At.Seconds()
	})
}

// MarkFired suppresses a cutover for the given day, used by restart
// reconciliation when persisted state shows the work already happened.
func (s *Scheduler) MarkFired(day, name string) {
	s.mu.Lock()
	s.fired[day+"/"+name] = true
	s.mu.Unlock()
}

// Run polls the clock until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(s.clk.Now())
		}
	}
}

// Tick fires every registered cutover that is due at now and has not fired
// today. Replay drives this directly as virtual time advances.
func (s *Scheduler) Tick(now time.Time) {
	day := clock.FormatDay(now)
	for _, c := range s.cutovers {
		due := clock.At(now, c.At.Hour, c.At.Min, c.At.Sec)
		if now.Before(due) {
			continue
		}
		key := day + "/" + c.Name
		s.mu.Lock()
		already := s.fired[key]
		if !already {
			s.fired[key] = true
		}
		s.mu.Unlock()
		if already {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"cutover": c.Name,
			"at":      c.At.String(),
			"clock":   clock.FormatTime(now),
		}).Info("Cutover firing")
		c.Fire(now)
	}
}
