// Package agg converts the tick stream into canonical 5-minute bars and
// maintains the running day aggregates published with each quote.
package agg

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/probedge/probedge/internal/models"
)

// building is a window under construction for one symbol.
type building struct {
	bar     models.Bar
	closeTS time.Time // timestamp of the tick currently supplying Close
}

// DayAggregates is the intraday running summary for one symbol.
type DayAggregates struct {
	Open      float64
	High      float64
	Low       float64
	LastClose float64
	Volume    int64
}

// Aggregator owns the in-progress bars. Closed bars are returned to the
// caller exactly once per (symbol, window); emitting the same window twice
// is an invariant violation surfaced as an error.
type Aggregator struct {
	mu      sync.Mutex
	current map[string]*building
	closed  map[string][]models.Bar
	lastEnd map[string]time.Time
	day     map[string]*DayAggregates
}

// New returns an empty aggregator for a fresh trading day.
func New() *Aggregator {
	return &Aggregator{
		current: make(map[string]*building),
		closed:  make(map[string][]models.Bar),
		lastEnd: make(map[string]time.Time),
		day:     make(map[string]*DayAggregates),
	}
}

// OnTick folds one tick in and returns any bar it closed. A tick whose
// window start is later than the current window closes the current bar
// first (one tick can close at most one bar; skipped windows are absent,
// never zero-filled).
func (a *Aggregator) OnTick(t models.Tick) ([]models.Bar, error) {
	if t.LTP <= 0 {
		return nil, fmt.Errorf("agg %s: non-positive ltp %.4f", t.Symbol, t.LTP)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.Bar
	win := models.WindowStart(t.TS)
	cur := a.current[t.Symbol]

	if cur != nil && win.After(cur.bar.Start) {
		bar, err := a.closeLocked(t.Symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
		cur = nil
	}

	if cur == nil {
		if last, ok := a.lastEnd[t.Symbol]; ok && win.Before(last) {
			// Late tick for an already-closed window: ignore rather than
			// reopen a window that was emitted.
			a.updateDayLocked(t)
			return out, nil
		}
		a.current[t.Symbol] = &building{
			bar: models.Bar{
				Symbol: t.Symbol,
				Start:  win,
				Open:   t.LTP,
				High:   t.LTP,
				Low:    t.LTP,
				Close:  t.LTP,
				Volume: t.Volume,
			},
			closeTS: t.TS,
		}
		a.updateDayLocked(t)
		return out, nil
	}

	if win.Before(cur.bar.Start) {
		// Late tick for a window older than the one building: day
		// aggregates only, same as the closed-window path above.
		a.updateDayLocked(t)
		return out, nil
	}

	// Out-of-order ticks inside the window widen high/low but never move
	// the open; close follows the latest timestamp seen.
	if t.LTP > cur.bar.High {
		cur.bar.High = t.LTP
	}
	if t.LTP < cur.bar.Low {
		cur.bar.Low = t.LTP
	}
	if !t.TS.Before(cur.closeTS) {
		cur.bar.Close = t.LTP
		cur.closeTS = t.TS
	}
	cur.bar.Volume += t.Volume
	a.updateDayLocked(t)
	return out, nil
}

// FlushAt closes every in-progress bar whose window has ended by now. The
// runtime calls this on each clock tick so a symbol that goes quiet still
// emits its final bar.
func (a *Aggregator) FlushAt(now time.Time) ([]models.Bar, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	symbols := make([]string, 0, len(a.current))
	for sym, cur := range a.current {
		if !now.Before(cur.bar.End()) {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	var out []models.Bar
	for _, sym := range symbols {
		bar, err := a.closeLocked(sym)
		if err != nil {
			return out, err
		}
		out = append(out, bar)
	}
	return out, nil
}

// Bars returns the closed bars for a symbol in window order. Callers get a
// copy and the classifier windows them as needed.
func (a *Aggregator) Bars(symbol string) []models.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := a.closed[symbol]
	out := make([]models.Bar, len(src))
	copy(out, src)
	return out
}

// BarsBetween returns closed bars with start in [from, to).
func (a *Aggregator) BarsBetween(symbol string, from, to time.Time) []models.Bar {
	var out []models.Bar
	for _, b := range a.Bars(symbol) {
		if !b.Start.Before(from) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	return out
}

// Day returns the running day aggregates for a symbol.
func (a *Aggregator) Day(symbol string) (DayAggregates, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.day[symbol]
	if !ok {
		return DayAggregates{}, false
	}
	return *d, true
}

func (a *Aggregator) closeLocked(symbol string) (models.Bar, error) {
	cur := a.current[symbol]
	bar := cur.bar
	if err := bar.Validate(); err != nil {
		return models.Bar{}, err
	}
	if last, ok := a.lastEnd[symbol]; ok && bar.Start.Before(last) {
		// Window overlaps one already emitted: bars must leave in strictly
		// increasing window order, once each.
		return models.Bar{}, fmt.Errorf("agg %s: duplicate bar for window %s", symbol, bar.Start.Format("15:04"))
	}
	delete(a.current, symbol)
	a.closed[symbol] = append(a.closed[symbol], bar)
	a.lastEnd[symbol] = bar.End()
	return bar, nil
}

func (a *Aggregator) updateDayLocked(t models.Tick) {
	d, ok := a.day[t.Symbol]
	if !ok {
		a.day[t.Symbol] = &DayAggregates{
			Open: t.LTP, High: t.LTP, Low: t.LTP, LastClose: t.LTP, Volume: t.Volume,
		}
		return
	}
	if t.LTP > d.High {
		d.High = t.LTP
	}
	if t.LTP < d.Low {
		d.Low = t.LTP
	}
	d.LastClose = t.LTP
	d.Volume += t.Volume
}
