// Package paper simulates execution against the day's locked plan. The
// engine works PENDING entries and stop/target exits off quote events,
// while a fixed cycle drives the time-based work: EOD flatten, kill-switch,
// the daily loss latch, and heartbeats. It is the only writer of the
// position family in the state store.
package paper

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/journal"
	"github.com/probedge/probedge/internal/metrics"
	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/state"
)

// ReasonDailyLoss is the risk-state reason for the daily loss latch.
const ReasonDailyLoss = "daily_loss_limit"

const strategyName = "tag_freq_v1"

// Options configures the engine for one trading day.
type Options struct {
	Risk config.RiskConfig
	// EOD is the force-flat time (15:05 IST).
	EOD  config.TimeOfDay
	Mode string
	Day  string
	// TradeCSV is the round-trip log path; empty disables it.
	TradeCSV string
}

// Engine is the paper execution engine. All position mutations funnel
// through it, one delta per quote event, so readers never observe a fill
// half-applied.
type Engine struct {
	store  *state.Store
	jnl    *journal.Journal
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	rows     map[string]models.PlanRow
	eodDone  bool
	killDone bool
}

// NewEngine wires the engine over the state store and fill journal. The
// journal may be nil (dry runs).
func NewEngine(store *state.Store, jnl *journal.Journal, opts Options, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		jnl:    jnl,
		opts:   opts,
		logger: logger,
		rows:   make(map[string]models.PlanRow),
	}
}

// Bind arms the engine with the day's snapshot: publishes the plan header
// to state and spawns a PENDING position per active row. Symbols already
// tracked in state are left alone, which is what makes a mid-day restart
// resume instead of re-enter. A snapshot that is not locked-executable
// publishes its status and arms nothing.
func (e *Engine) Bind(snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("paper: bind without snapshot")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	armed := snap.Locked && snap.Status.Executable()
	e.store.Apply(func(st *state.SystemState) {
		st.Meta.PlanStatus = snap.Status
		st.Meta.PlanBuiltAt = snap.BuiltAt
		st.Meta.PlanLocked = snap.Locked
		st.Meta.DailyRiskRs = snap.PortfolioPlan.DailyRiskRs
		st.Meta.RiskPerTradeRs = snap.PortfolioPlan.RiskPerTradeRs
		st.Meta.TotalPlannedRiskRs = snap.PortfolioPlan.TotalPlannedRiskRs

		for _, row := range snap.PortfolioPlan.Plans {
			e.rows[row.Symbol] = row
			if !armed || !row.Active() {
				continue
			}
			if _, ok := st.Positions[row.Symbol]; ok {
				continue
			}
			pos, err := models.NewPosition(row)
			if err != nil {
				e.logger.WithError(err).WithField("symbol", row.Symbol).
					Error("Skipping unworkable plan row")
				continue
			}
			st.Positions[row.Symbol] = pos
		}
		st.Meta.ActiveTrades = activeCount(st)
	})
	return nil
}

// OnQuote evaluates one symbol's position against a fresh quote: entry
// cross, then stop before targets within the same tick, ties against the
// trader. The quote itself is published by the caller before this runs.
func (e *Engine) OnQuote(symbol string, ltp float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eodDone {
		return
	}
	cur := e.store.Snapshot()
	if p, ok := cur.Positions[symbol]; !ok || p.Status == models.PositionClosed {
		return
	}

	var fills []models.Fill
	var trades []journal.TradeRow
	e.store.Apply(func(st *state.SystemState) {
		p := st.Positions[symbol]
		if p == nil || p.Status == models.PositionClosed {
			return
		}
		now := clock.FormatTime(ts)

		if p.Status == models.PositionPending {
			if !entryAllowed(st) || !entryCrossed(p, ltp) {
				return
			}
			if err := p.MarkOpen(now); err != nil {
				e.logger.WithError(err).Error("Entry fill rejected")
				return
			}
			fills = append(fills, e.fill(p.Symbol, entrySide(p), p.Qty, p.EntryPrice, now, models.FillEntry, 0))
		}

		if p.Status == models.PositionOpen {
			e.workExits(p, ltp, now, &fills, &trades)
		}
		p.UpdateOpenPnL(ltp)
		st.Meta.ActiveTrades = activeCount(st)
		st.RecomputePnL()
		e.latchIfBreached(st, now)
	})
	e.flush(fills, trades)
}

// workExits applies stop/target rules to an OPEN position for one tick.
// Stop wins over targets; a TP1 partial takes half out at tp1 and trails
// the stop to break-even; TP2 flattens the remainder.
func (e *Engine) workExits(p *models.Position, ltp float64, now string, fills *[]models.Fill, trades *[]journal.TradeRow) {
	if stopHit(p, ltp) {
		qty := p.Qty
		pnl := p.PnLFor(qty, p.Stop)
		price := p.Stop
		if err := p.ApplyExit(qty, price, models.ExitStop, now); err != nil {
			e.logger.WithError(err).Error("Stop exit rejected")
			return
		}
		*fills = append(*fills, e.fill(p.Symbol, exitSide(p), qty, price, now, models.FillStop, pnl))
		*trades = append(*trades, e.tradeRow(p, now))
		return
	}

	if !p.TP1Done && targetHit(p, ltp, p.TP1) {
		half := p.Qty / 2
		if half > 0 {
			pnl := p.PnLFor(half, p.TP1)
			if err := p.ApplyExit(half, p.TP1, models.ExitTarget1, now); err != nil {
				e.logger.WithError(err).Error("TP1 exit rejected")
				return
			}
			*fills = append(*fills, e.fill(p.Symbol, exitSide(p), half, p.TP1, now, models.FillTarget1, pnl))
		}
		p.TP1Done = true
		p.Stop = p.EntryPrice
	}

	if p.Status == models.PositionOpen && targetHit(p, ltp, p.TP2) {
		qty := p.Qty
		pnl := p.PnLFor(qty, p.TP2)
		price := p.TP2
		if err := p.ApplyExit(qty, price, models.ExitTarget2, now); err != nil {
			e.logger.WithError(err).Error("TP2 exit rejected")
			return
		}
		*fills = append(*fills, e.fill(p.Symbol, exitSide(p), qty, price, now, models.FillTarget2, pnl))
		*trades = append(*trades, e.tradeRow(p, now))
	}
}

// Cycle runs the time-based work at the fixed engine cadence: kill-switch,
// EOD flatten, loss-latch re-check, P&L publication, heartbeat.
func (e *Engine) Cycle(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := clock.FormatTime(now)

	var fills []models.Fill
	var trades []journal.TradeRow
	e.store.Apply(func(st *state.SystemState) {
		if st.Meta.KillSwitch && !e.killDone {
			e.flattenAll(st, models.ExitKill, ts, &fills, &trades)
			e.killDone = true
		}
		if !e.eodDone && !now.Before(clock.At(now, e.opts.EOD.Hour, e.opts.EOD.Min, e.opts.EOD.Sec)) {
			e.flattenAll(st, models.ExitTime, ts, &fills, &trades)
			e.eodDone = true
		}
		st.Meta.ActiveTrades = activeCount(st)
		st.RecomputePnL()
		e.latchIfBreached(st, ts)
		st.Agents["engine"] = state.AgentHB{Status: state.AgentOK, LastHeartbeatTS: ts}
	})
	e.flush(fills, trades)

	meta := e.store.Snapshot().Meta
	metrics.OpenPositions.Set(float64(meta.ActiveTrades))
	metrics.DayPnL.Set(meta.PnL.Day)
}

// Done reports whether the EOD flatten has run; the terminal stops feeding
// quotes to a done engine.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eodDone
}

// flattenAll closes the whole book: OPEN positions exit at their last
// quote, PENDING entries are cancelled. Symbols are walked in sorted order
// so replay artifacts come out identical run to run.
func (e *Engine) flattenAll(st *state.SystemState, reason models.ExitReason, ts string, fills *[]models.Fill, trades *[]journal.TradeRow) {
	symbols := make([]string, 0, len(st.Positions))
	for sym := range st.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		p := st.Positions[sym]
		switch p.Status {
		case models.PositionPending:
			if err := p.Cancel(reason, ts); err != nil {
				e.logger.WithError(err).Error("Cancel rejected")
			}
		case models.PositionOpen:
			price := st.Quotes[sym].LTP
			if price == 0 {
				// Never saw a quote; the entry price is the only mark we have.
				price = p.EntryPrice
			}
			qty := p.Qty
			pnl := p.PnLFor(qty, price)
			if err := p.ApplyExit(qty, price, reason, ts); err != nil {
				e.logger.WithError(err).Error("Flatten rejected")
				continue
			}
			*fills = append(*fills, e.fill(sym, exitSide(p), qty, price, ts, models.FillReason(reason), pnl))
			*trades = append(*trades, e.tradeRow(p, ts))
		}
	}
}

// latchIfBreached trips the one-way daily loss latch: realized P&L below
// -daily_rs cancels every PENDING entry and halts new ones. OPEN positions
// keep being managed to their exits.
func (e *Engine) latchIfBreached(st *state.SystemState, ts string) {
	if st.Meta.RiskState.Status == state.RiskHalted {
		return
	}
	if st.Meta.PnL.Realized >= -e.opts.Risk.DailyRs {
		return
	}
	st.Meta.RiskState = state.RiskState{Status: state.RiskHalted, Reason: ReasonDailyLoss}
	e.logger.WithFields(logrus.Fields{
		"realized_rs": st.Meta.PnL.Realized,
		"daily_rs":    e.opts.Risk.DailyRs,
	}).Warn("Daily loss limit breached, halting new entries")

	for _, p := range st.Positions {
		if p.Status == models.PositionPending {
			if err := p.Cancel(models.ExitKill, ts); err != nil {
				e.logger.WithError(err).Error("Latch cancel rejected")
			}
		}
	}
	st.Meta.ActiveTrades = activeCount(st)
}

// flush records fills and round-trips outside the state delta. Deterministic
// fill IDs make a replayed or restarted write a no-op, and a trade row only
// lands in the CSV when its fills were newly journaled, so the flat log
// stays duplicate-free across reruns too.
func (e *Engine) flush(fills []models.Fill, trades []journal.TradeRow) {
	recorded := make(map[string]bool, len(fills))
	for _, f := range fills {
		if e.jnl == nil {
			recorded[f.Symbol] = true
			continue
		}
		inserted, err := e.jnl.Record(f)
		if err != nil {
			e.logger.WithError(err).WithField("fill", f.ID).Error("Journal write failed")
			continue
		}
		if !inserted {
			e.logger.WithField("fill", f.ID).Debug("Fill already journaled")
			continue
		}
		recorded[f.Symbol] = true
		metrics.Fills.WithLabelValues(string(f.Reason)).Inc()
	}
	if e.opts.TradeCSV == "" {
		return
	}
	for _, tr := range trades {
		if !recorded[tr.Symbol] {
			continue
		}
		if err := journal.AppendTrade(e.opts.TradeCSV, tr); err != nil {
			e.logger.WithError(err).WithField("symbol", tr.Symbol).Error("Trade log write failed")
		}
	}
}

func (e *Engine) fill(symbol string, side models.Side, qty int, price float64, ts string, reason models.FillReason, pnl float64) models.Fill {
	return models.Fill{
		ID:     journal.FillID(e.opts.Day, symbol, side, reason, ts, qty),
		Day:    e.opts.Day,
		Mode:   e.opts.Mode,
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Price:  price,
		TS:     ts,
		Reason: reason,
		PnLRs:  pnl,
	}
}

// tradeRow snapshots a fully closed position for the flat trade log. The
// stop is taken from the plan row: the live stop may have trailed to
// break-even.
func (e *Engine) tradeRow(p *models.Position, ts string) journal.TradeRow {
	row := e.rows[p.Symbol]
	return journal.TradeRow{
		Day:           e.opts.Day,
		Mode:          e.opts.Mode,
		Symbol:        p.Symbol,
		Side:          string(p.Direction),
		Qty:           p.PlannedQty,
		Entry:         p.EntryPrice,
		Stop:          row.Stop,
		Target1:       p.TP1,
		Target2:       p.TP2,
		EntryTS:       p.EntryTS,
		ExitTS:        p.ExitTS,
		ExitPrice:     p.ExitPrice,
		ExitReason:    string(p.ExitReason),
		PnLRs:         p.RealizedPnL,
		PlannedRiskRs: float64(p.PlannedQty) * row.RPerShare,
		DailyRiskRs:   e.opts.Risk.DailyRs,
		Strategy:      strategyName,
		CreatedAt:     ts,
	}
}

// entryAllowed gates new fills: the plan must be locked-executable, risk
// NORMAL, the kill-switch off, and the feed not reported DOWN. Stale data
// never creates positions.
func entryAllowed(st *state.SystemState) bool {
	if !st.Meta.PlanLocked || !st.Meta.PlanStatus.Executable() {
		return false
	}
	if st.Meta.RiskState.Status != state.RiskNormal || st.Meta.KillSwitch {
		return false
	}
	if hb, ok := st.Agents["feed"]; ok && hb.Status == state.AgentDown {
		return false
	}
	return true
}

func entryCrossed(p *models.Position, ltp float64) bool {
	if p.Long() {
		return ltp >= p.EntryPrice
	}
	return ltp <= p.EntryPrice
}

func stopHit(p *models.Position, ltp float64) bool {
	if p.Long() {
		return ltp <= p.Stop
	}
	return ltp >= p.Stop
}

func targetHit(p *models.Position, ltp, target float64) bool {
	if p.Long() {
		return ltp >= target
	}
	return ltp <= target
}

func entrySide(p *models.Position) models.Side {
	if p.Long() {
		return models.SideBuy
	}
	return models.SideSell
}

func exitSide(p *models.Position) models.Side {
	if p.Long() {
		return models.SideSell
	}
	return models.SideBuy
}

// activeCount is the PENDING+OPEN book size surfaced in meta.
func activeCount(st *state.SystemState) int {
	n := 0
	for _, p := range st.Positions {
		if p.Status != models.PositionClosed {
			n++
		}
	}
	return n
}
