// Package terminal assembles the decision terminal for one trading day:
// feed → aggregator → state, cutover-driven tag classification, the 09:40
// plan build, and the paper engine, all over the shared state store. Live
// and paper runs supervise concurrent tasks; replay runs the same pieces
// synchronously so a day is byte-for-byte reproducible.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/probedge/probedge/internal/agg"
	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/dashboard"
	"github.com/probedge/probedge/internal/feed"
	"github.com/probedge/probedge/internal/freq"
	"github.com/probedge/probedge/internal/journal"
	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/metrics"
	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/paper"
	"github.com/probedge/probedge/internal/plan"
	"github.com/probedge/probedge/internal/report"
	"github.com/probedge/probedge/internal/state"
	"github.com/probedge/probedge/internal/tags"
	"github.com/probedge/probedge/internal/timeline"
	"github.com/probedge/probedge/internal/util"
)

// ErrNoMasters means not a single symbol has a daily master file; the
// terminal cannot classify or plan anything.
var ErrNoMasters = errors.New("no master data for any configured symbol")

// Cutover names, also the keys of the scheduler's fired-set.
const (
	cutPDC = "pdc"
	cutOL  = "ol"
	cutOT  = "ot"
	cutEOD = "eod_flatten"
)

const shutdownGrace = 5 * time.Second

// Terminal owns the day's runtime components.
type Terminal struct {
	cfg    *config.Config
	clk    clock.Clock
	logger *logrus.Logger
	day    string

	store     *state.Store
	persister *state.Persister
	jnl       *journal.Journal
	agg       *agg.Aggregator
	appender  *agg.Appender
	gate      timeline.Gate
	sched     *timeline.Scheduler
	builder   *plan.Builder
	snapStore *plan.SnapshotStore
	engine    *paper.Engine
	server    *dashboard.Server

	history map[string][]masters.DayRow
	prevDay map[string]masters.DayRow

	mu   sync.Mutex
	snap *models.Snapshot
}

// New loads history, restores any persisted state for the day, and wires
// every component. day is the trading day in "2006-01-02".
func New(cfg *config.Config, clk clock.Clock, day string, logger *logrus.Logger) (*Terminal, error) {
	for _, dir := range []string{cfg.Paths.State, cfg.Paths.Journal} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	history, err := masters.LoadAll(cfg.Symbols, cfg.Paths.MasterCSV)
	if err != nil {
		return nil, fmt.Errorf("loading masters: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrNoMasters
	}
	prevDay := make(map[string]masters.DayRow, len(history))
	for sym, rows := range history {
		if prev, ok := masters.PrevDay(rows, day); ok {
			prevDay[sym] = prev
		}
	}

	doc, restored, err := loadOrFreshState(cfg, day, logger)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(doc)

	jnl, err := journal.Open(cfg.Paths.FillsDB())
	if err != nil {
		return nil, fmt.Errorf("opening fill journal: %w", err)
	}

	t := &Terminal{
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		day:       day,
		store:     store,
		persister: state.NewPersister(store, cfg.Paths.StateFile(), cfg.Engine.PersistDebounce(), logger),
		jnl:       jnl,
		agg:       agg.New(),
		gate:      timeline.NewGate(cfg.Cutovers),
		sched:     timeline.NewScheduler(clk, logger),
		builder:   plan.NewBuilder(cfg.Risk, freq.NewPicker(cfg.Picker), freq.Build(history, day), logger),
		snapStore: plan.NewSnapshotStore(cfg.Paths, logger),
		history:   history,
		prevDay:   prevDay,
	}
	// In SIM the intraday CSVs are the tick source; appending the bars
	// rebuilt from them would double the recorded day on every replay.
	// The appender only runs off a live feed.
	if cfg.EnableAgg5 && !cfg.IsSim() {
		t.appender = agg.NewAppender(cfg.Paths.IntradayCSV)
	}
	t.engine = paper.NewEngine(store, jnl, paper.Options{
		Risk:     cfg.Risk,
		EOD:      cfg.Cutovers.EODFlatten,
		Mode:     string(cfg.Mode),
		Day:      day,
		TradeCSV: cfg.Paths.FillsCSV(),
	}, logger)
	t.server = dashboard.NewServer(cfg, store, t.Snapshot, jnl, clk.Now, logger)

	t.sched.Register(timeline.Cutover{Name: cutPDC, At: cfg.Cutovers.PDC, Fire: t.firePDC})
	t.sched.Register(timeline.Cutover{Name: cutOL, At: cfg.Cutovers.OL, Fire: t.fireOL})
	t.sched.Register(timeline.Cutover{Name: cutOT, At: cfg.Cutovers.OT, Fire: t.fireOT})
	t.sched.Register(timeline.Cutover{Name: cutEOD, At: cfg.Cutovers.EODFlatten, Fire: t.fireEOD})

	if restored {
		t.reconcile()
	}
	return t, nil
}

// Close releases the journal handle.
func (t *Terminal) Close() error {
	return t.jnl.Close()
}

// Snapshot returns the day's plan snapshot once built, else nil.
func (t *Terminal) Snapshot() *models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// loadOrFreshState reuses a persisted document for the same day; any other
// day, a corrupt file, or RESET_STATE starts fresh.
func loadOrFreshState(cfg *config.Config, day string, logger *logrus.Logger) (*state.SystemState, bool, error) {
	fresh := state.NewSystemState(string(cfg.Mode), day, cfg.IsSim())
	path := cfg.Paths.StateFile()

	if cfg.ResetState {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("resetting state: %w", err)
		}
		return fresh, false, nil
	}
	doc, err := state.Load(path)
	if err != nil {
		if !errors.Is(err, state.ErrNoState) {
			logger.WithError(err).Warn("Persisted state unreadable, starting fresh")
		}
		return fresh, false, nil
	}
	if doc.Meta.Date != day {
		return fresh, false, nil
	}
	logger.WithField("version", doc.Version).Info("Restored persisted state")
	return doc, true, nil
}

// reconcile replays the restored document into the components that carry
// per-day memory: fired cutovers and the engine's plan binding. Positions
// come back through the document itself; deterministic fill IDs keep the
// journal free of duplicates.
func (t *Terminal) reconcile() {
	st := t.store.Snapshot()
	pdcSet, olSet := false, false
	for _, tg := range st.Tags {
		if tg.PDC != nil {
			pdcSet = true
		}
		if tg.OL != nil {
			olSet = true
		}
	}
	if pdcSet {
		t.sched.MarkFired(t.day, cutPDC)
	}
	if olSet {
		t.sched.MarkFired(t.day, cutOL)
	}

	snap, err := t.snapStore.Load(t.day)
	if err != nil {
		if !errors.Is(err, plan.ErrNoSnapshot) {
			t.logger.WithError(err).Warn("Plan snapshot unreadable during restart")
		}
		return
	}
	t.sched.MarkFired(t.day, cutOT)
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
	if err := t.engine.Bind(snap); err != nil {
		t.logger.WithError(err).Error("Re-binding plan after restart failed")
	}
	t.logger.WithField("status", snap.Status).Info("Plan snapshot re-bound after restart")
}

// Run drives a LIVE or PAPER session until ctx is cancelled: feed loop,
// scheduler, engine cycle, persistence, and the dashboard, supervised as
// one group.
func (t *Terminal) Run(ctx context.Context) error {
	src := feed.NewLive(t.cfg.Feed, t.cfg.Symbols, t.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.feedLoop(ctx, src, "live") })
	g.Go(func() error { return t.sched.Run(ctx) })
	g.Go(func() error { return t.cycleLoop(ctx) })
	g.Go(func() error { return t.persister.Run(ctx) })
	g.Go(func() error { return t.server.Start() })
	g.Go(func() error {
		<-ctx.Done()
		_ = src.Close()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return t.server.Shutdown(shCtx)
	})
	return g.Wait()
}

// RunReplay replays the day synchronously on a Sim clock. No goroutines:
// the tick order fully determines every artifact.
func (t *Terminal) RunReplay(ctx context.Context) error {
	sim, ok := t.clk.(*clock.Sim)
	if !ok {
		return errors.New("replay requires a simulated clock")
	}
	src, err := feed.NewReplay(t.cfg.Symbols, t.cfg.Paths.IntradayCSV, t.day, t.cfg.Replay.Seed, t.cfg.Replay.Speed)
	if err != nil {
		return fmt.Errorf("opening replay source: %w", err)
	}
	t.logger.WithField("ticks", src.Len()).Info("Replay starting")

	for {
		tick, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, feed.ErrEndOfStream) {
				break
			}
			return err
		}
		now := sim.Advance(tick.TS)
		t.sched.Tick(now)
		t.onTick(tick, "replay")
	}

	now := sim.Now()
	if bars, err := t.agg.FlushAt(now.Add(models.BarInterval)); err != nil {
		t.fatalInvariant(err)
	} else {
		t.handleClosedBars(bars)
	}
	t.sched.Tick(now)
	t.engine.Cycle(now)
	t.publishBatchAgent(now)
	if err := t.persister.Flush(); err != nil {
		return fmt.Errorf("final state flush: %w", err)
	}
	if !t.engine.Done() {
		// Stream ended before 15:05; print the day as it stands.
		report.DayTable(os.Stdout, t.store.Snapshot())
	}
	return nil
}

// feedLoop consumes the tick source until it ends or ctx is cancelled.
func (t *Terminal) feedLoop(ctx context.Context, src feed.Source, source string) error {
	for {
		tick, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, feed.ErrEndOfStream) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		t.onTick(tick, source)
	}
}

// cycleLoop is the engine's fixed cadence: time-based exits, bar flushes
// for quiet symbols, and feed-health grading.
func (t *Terminal) cycleLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Engine.Cycle())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := t.clk.Now()
			if bars, err := t.agg.FlushAt(now); err != nil {
				t.fatalInvariant(err)
			} else {
				t.handleClosedBars(bars)
			}
			t.monitorFeed(now)
			t.engine.Cycle(now)
			t.publishBatchAgent(now)
		}
	}
}

// publishBatchAgent rolls the per-agent grades into meta.batch_agent, the
// worst-of summary the original surfaced for ops polling.
func (t *Terminal) publishBatchAgent(now time.Time) {
	st := t.store.Snapshot()
	worst := state.AgentOK
	for _, hb := range st.Agents {
		worst = state.Worse(worst, hb.Status)
	}
	if st.Meta.BatchAgent.Status == worst {
		return
	}
	hb := state.AgentHB{Status: worst, LastHeartbeatTS: clock.FormatTime(now)}
	t.store.Apply(func(s *state.SystemState) {
		s.Meta.BatchAgent = hb
	})
}

// onTick folds one tick into the aggregator, publishes the quote, and hands
// the price to the engine.
func (t *Terminal) onTick(tick models.Tick, source string) {
	metrics.Ticks.WithLabelValues(source).Inc()

	closed, err := t.agg.OnTick(tick)
	if err != nil {
		t.fatalInvariant(err)
		return
	}
	t.handleClosedBars(closed)

	day, _ := t.agg.Day(tick.Symbol)
	prevClose := t.prevDay[tick.Symbol].Close
	t.store.Apply(func(st *state.SystemState) {
		st.Meta.Clock = clock.FormatTime(tick.TS)
		st.Quotes[tick.Symbol] = models.Quote{
			LTP:        tick.LTP,
			OHLC:       models.OHLC{O: day.Open, H: day.High, L: day.Low, C: day.LastClose},
			Volume:     day.Volume,
			ChangePct:  util.ChangePct(tick.LTP, prevClose),
			LastUpdate: tick.TS,
		}
		st.Agents["feed"] = state.AgentHB{Status: state.AgentOK, LastHeartbeatTS: clock.FormatTime(tick.TS)}
	})

	t.engine.OnQuote(tick.Symbol, tick.LTP, tick.TS)
}

func (t *Terminal) handleClosedBars(bars []models.Bar) {
	for _, bar := range bars {
		metrics.Bars.WithLabelValues(bar.Symbol).Inc()
		if t.appender != nil {
			if err := t.appender.Append(bar); err != nil {
				t.logger.WithError(err).WithField("symbol", bar.Symbol).Warn("Bar append failed")
			}
		}
	}
}

// fatalInvariant is the halt-trading-preserve-state path: the kill-switch
// flips on, the engine flattens on its next cycle, and the process keeps
// serving state for inspection.
func (t *Terminal) fatalInvariant(err error) {
	t.logger.WithError(err).Error("Invariant violation, halting trading")
	t.store.Apply(func(st *state.SystemState) {
		st.Meta.KillSwitch = true
	})
}

// monitorFeed grades quote staleness into the feed heartbeat. Stale data
// never creates or closes positions: the engine refuses entries on DOWN.
func (t *Terminal) monitorFeed(now time.Time) {
	st := t.store.Snapshot()
	var newest time.Time
	for _, q := range st.Quotes {
		if q.LastUpdate.After(newest) {
			newest = q.LastUpdate
		}
	}
	if newest.IsZero() {
		return
	}
	status := state.AgentOK
	switch age := now.Sub(newest); {
	case age > 60*time.Second:
		status = state.AgentDown
	case age > 10*time.Second:
		status = state.AgentWarn
	}
	if st.Agents["feed"].Status != status {
		t.store.Beat("feed", status, clock.FormatTime(now))
	}
}

// firePDC classifies the previous session for every symbol with a prior-day
// master row. Symbols without one keep a null tag and fall out of the plan.
func (t *Terminal) firePDC(now time.Time) {
	if !t.gate.Reveal(timeline.FieldPDC, now) {
		return
	}
	ts := clock.FormatTime(now)
	t.store.Apply(func(st *state.SystemState) {
		for _, sym := range t.cfg.Symbols {
			prev, ok := t.prevDay[sym]
			if !ok {
				t.logger.WithField("symbol", sym).Warn("No prior-day master, PDC stays null")
				continue
			}
			tg := st.Tags[sym]
			if tg.PDC != nil {
				continue
			}
			tg.PDC = models.DirectionPtr(tags.PDC(prev))
			st.Tags[sym] = tg
			tm := st.TagsMeta[sym]
			tm.PDC = ts
			st.TagsMeta[sym] = tm
			metrics.TagsComputed.WithLabelValues("pdc").Inc()
		}
		st.Agents["scheduler"] = state.AgentHB{Status: state.AgentOK, LastHeartbeatTS: ts}
	})
}

// fireOL locates today's open against the previous session's range. The
// open is the day aggregate's first trade.
func (t *Terminal) fireOL(now time.Time) {
	if !t.gate.Reveal(timeline.FieldOL, now) {
		return
	}
	ts := clock.FormatTime(now)
	t.store.Apply(func(st *state.SystemState) {
		for _, sym := range t.cfg.Symbols {
			prev, okPrev := t.prevDay[sym]
			day, okDay := t.agg.Day(sym)
			if !okPrev || !okDay {
				t.logger.WithField("symbol", sym).Warn("Missing open or prior day, OL stays null")
				continue
			}
			tg := st.Tags[sym]
			if tg.OL != nil {
				continue
			}
			tg.OL = models.OpenLocationPtr(tags.OL(day.Open, prev))
			st.Tags[sym] = tg
			tm := st.TagsMeta[sym]
			tm.OL = ts
			st.TagsMeta[sym] = tm
			metrics.TagsComputed.WithLabelValues("ol").Inc()
		}
	})
}

// fireOT closes out the opening window, classifies the first five bars, and
// builds the day's plan.
func (t *Terminal) fireOT(now time.Time) {
	if !t.gate.Reveal(timeline.FieldOT, now) {
		return
	}
	bars, err := t.agg.FlushAt(now)
	if err != nil {
		t.fatalInvariant(err)
		return
	}
	t.handleClosedBars(bars)

	from := clock.At(now, 9, 15, 0)
	to := clock.At(now, 9, 40, 0)
	ts := clock.FormatTime(now)

	t.store.Apply(func(st *state.SystemState) {
		for _, sym := range t.cfg.Symbols {
			tg := st.Tags[sym]
			if tg.OT != nil {
				continue
			}
			ot, ok := tags.OT(t.agg.BarsBetween(sym, from, to))
			if !ok {
				t.logger.WithField("symbol", sym).Warn("Opening bars incomplete, OT stays null")
				continue
			}
			tg.OT = models.DirectionPtr(ot)
			st.Tags[sym] = tg
			tm := st.TagsMeta[sym]
			tm.OT = ts
			st.TagsMeta[sym] = tm
			metrics.TagsComputed.WithLabelValues("ot").Inc()
		}
	})

	t.buildPlan(now, from, to)
}

// buildPlan assembles, persists, and arms the snapshot. A snapshot that
// cannot be persisted is demoted to FAILED: trading never runs off a plan
// that is not on disk.
func (t *Terminal) buildPlan(now time.Time, from, to time.Time) {
	st := t.store.Snapshot()
	tagsBySym := make(map[string]models.SessionTags, len(st.Tags))
	for sym, tg := range st.Tags {
		tagsBySym[sym] = tg
	}

	snap := t.builder.Build(plan.Inputs{
		Day:     t.day,
		Mode:    string(t.cfg.Mode),
		Now:     now,
		Tags:    tagsBySym,
		PrevDay: t.prevDay,
		OpeningBars: func(sym string) []models.Bar {
			return t.agg.BarsBetween(sym, from, to)
		},
		Universe: t.cfg.Symbols,
	})

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.snapStore.Write(writeCtx, snap); err != nil {
		t.logger.WithError(err).Error("Plan snapshot persist failed, demoting to FAILED")
		snap.Status = models.SnapshotFailed
		snap.Locked = false
	}

	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()

	if err := t.engine.Bind(snap); err != nil {
		t.logger.WithError(err).Error("Arming plan failed")
		return
	}
	for _, row := range snap.PortfolioPlan.Plans {
		metrics.PlanRows.WithLabelValues(string(row.Pick)).Inc()
	}
	t.logger.WithFields(logrus.Fields{
		"status":       snap.Status,
		"rows":         len(snap.PortfolioPlan.Plans),
		"active":       snap.PortfolioPlan.ActiveTrades,
		"planned_risk": snap.PortfolioPlan.TotalPlannedRiskRs,
	}).Info("Plan locked")
	report.PlanTable(os.Stdout, snap)
}

// fireEOD runs the 15:05 force-flat through the engine and prints the day.
func (t *Terminal) fireEOD(now time.Time) {
	t.engine.Cycle(now)
	report.DayTable(os.Stdout, t.store.Snapshot())
}
