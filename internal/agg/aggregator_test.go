package agg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/models"
)

func ts(h, m, s int) time.Time {
	return time.Date(2025, 7, 1, h, m, s, 0, clock.IST())
}

func tick(sym string, t time.Time, px float64, vol int64) models.Tick {
	return models.Tick{Symbol: sym, TS: t, LTP: px, Volume: vol}
}

func mustTick(t *testing.T, a *Aggregator, tk models.Tick) []models.Bar {
	t.Helper()
	bars, err := a.OnTick(tk)
	if err != nil {
		t.Fatalf("OnTick(%+v): %v", tk, err)
	}
	return bars
}

func TestAggregator_ClosesBarOnWindowCross(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 10))
	mustTick(t, a, tick("ALPHA", ts(9, 17, 0), 101.0, 10))
	mustTick(t, a, tick("ALPHA", ts(9, 18, 0), 99.5, 10))
	mustTick(t, a, tick("ALPHA", ts(9, 19, 59), 100.5, 10))

	bars := mustTick(t, a, tick("ALPHA", ts(9, 20, 0), 100.7, 5))
	if len(bars) != 1 {
		t.Fatalf("crossing tick should close one bar, got %d", len(bars))
	}
	b := bars[0]
	if !b.Start.Equal(ts(9, 15, 0)) {
		t.Fatalf("bar start = %v, want 09:15", b.Start)
	}
	if b.Open != 100.0 || b.High != 101.0 || b.Low != 99.5 || b.Close != 100.5 {
		t.Fatalf("OHLC = %.2f/%.2f/%.2f/%.2f", b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume != 40 {
		t.Fatalf("volume = %d, want 40", b.Volume)
	}
}

func TestAggregator_TickAtWindowEndBelongsToNextWindow(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 1))
	bars := mustTick(t, a, tick("ALPHA", ts(9, 20, 0), 105.0, 1))
	if len(bars) != 1 {
		t.Fatalf("expected the 09:15 bar to close")
	}
	if bars[0].High != 100.0 {
		t.Fatalf("the 09:20:00 tick leaked into the 09:15 bar: high = %.2f", bars[0].High)
	}
	// The new in-progress window opened at the boundary tick's price.
	more := mustTick(t, a, tick("ALPHA", ts(9, 25, 0), 106.0, 1))
	if len(more) != 1 || more[0].Open != 105.0 || !more[0].Start.Equal(ts(9, 20, 0)) {
		t.Fatalf("next window wrong: %+v", more)
	}
}

func TestAggregator_OutOfOrderTicksInsideWindow(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 10), 100.0, 1))
	// Earlier tick arrives late: widens low, must not move open or close.
	mustTick(t, a, tick("ALPHA", ts(9, 15, 5), 99.0, 1))
	mustTick(t, a, tick("ALPHA", ts(9, 16, 0), 100.5, 1))

	bars := mustTick(t, a, tick("ALPHA", ts(9, 20, 1), 101.0, 1))
	if len(bars) != 1 {
		t.Fatalf("expected closed bar")
	}
	b := bars[0]
	if b.Open != 100.0 {
		t.Fatalf("open moved by late tick: %.2f", b.Open)
	}
	if b.Low != 99.0 {
		t.Fatalf("late tick should widen low: %.2f", b.Low)
	}
	if b.Close != 100.5 {
		t.Fatalf("close must follow latest ts <= window end: %.2f", b.Close)
	}
}

func TestAggregator_LateTickForEarlierWindowStaysOut(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 1))
	// Crossing tick closes 09:15 and starts building 09:20.
	bars := mustTick(t, a, tick("ALPHA", ts(9, 20, 1), 101.0, 1))
	if len(bars) != 1 {
		t.Fatalf("expected the 09:15 bar to close")
	}
	// A straggler from the 09:15 window must not widen the 09:20 bar.
	mustTick(t, a, tick("ALPHA", ts(9, 19, 59), 999.0, 1))

	flushed, err := a.FlushAt(ts(9, 25, 0))
	if err != nil {
		t.Fatalf("FlushAt: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected the 09:20 bar to flush, got %d", len(flushed))
	}
	if b := flushed[0]; b.High != 101.0 || b.Low != 101.0 {
		t.Fatalf("late tick leaked into the 09:20 bar: high %.2f low %.2f", b.High, b.Low)
	}
	// The day aggregates still count the print.
	d, ok := a.Day("ALPHA")
	if !ok || d.High != 999.0 {
		t.Fatalf("day high should include the late print, got %+v", d)
	}
}

func TestAggregator_MissingWindowStaysAbsent(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 1))
	// No ticks between 09:20 and 09:25; next tick lands at 09:25.
	bars := mustTick(t, a, tick("ALPHA", ts(9, 25, 0), 101.0, 1))
	if len(bars) != 1 {
		t.Fatalf("expected only the 09:15 bar, got %d", len(bars))
	}
	if _, err := a.FlushAt(ts(9, 40, 0)); err != nil {
		t.Fatalf("FlushAt: %v", err)
	}
	for _, b := range a.Bars("ALPHA") {
		if b.Start.Equal(ts(9, 20, 0)) {
			t.Fatalf("a window with no ticks must not produce a bar")
		}
	}
}

func TestAggregator_FlushClosesQuietSymbols(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 30), 100.0, 1))
	mustTick(t, a, tick("BETA", ts(9, 15, 30), 200.0, 1))

	bars, err := a.FlushAt(ts(9, 19, 59))
	if err != nil {
		t.Fatalf("FlushAt: %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("flush before window end must not close bars, got %d", len(bars))
	}

	bars, err = a.FlushAt(ts(9, 20, 0))
	if err != nil {
		t.Fatalf("FlushAt: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("flush at window end should close both symbols, got %d", len(bars))
	}
	// Deterministic symbol order.
	if bars[0].Symbol != "ALPHA" || bars[1].Symbol != "BETA" {
		t.Fatalf("flush order not deterministic: %s, %s", bars[0].Symbol, bars[1].Symbol)
	}
}

func TestAggregator_OneBarPerWindow(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 1))
	if _, err := a.FlushAt(ts(9, 20, 0)); err != nil {
		t.Fatalf("FlushAt: %v", err)
	}
	// A very late tick for the emitted window is dropped, not re-emitted.
	bars := mustTick(t, a, tick("ALPHA", ts(9, 16, 0), 250.0, 1))
	if len(bars) != 0 {
		t.Fatalf("late tick for emitted window produced a bar")
	}
	got := a.Bars("ALPHA")
	if len(got) != 1 || got[0].High != 100.0 {
		t.Fatalf("emitted bar mutated or duplicated: %+v", got)
	}
}

func TestAggregator_DayAggregates(t *testing.T) {
	a := New()
	mustTick(t, a, tick("ALPHA", ts(9, 15, 0), 100.0, 10))
	mustTick(t, a, tick("ALPHA", ts(9, 21, 0), 103.0, 20))
	mustTick(t, a, tick("ALPHA", ts(9, 26, 0), 98.0, 30))

	d, ok := a.Day("ALPHA")
	if !ok {
		t.Fatalf("day aggregates missing")
	}
	if d.Open != 100.0 || d.High != 103.0 || d.Low != 98.0 || d.LastClose != 98.0 {
		t.Fatalf("day aggregates = %+v", d)
	}
	if d.Volume != 60 {
		t.Fatalf("day volume = %d, want 60", d.Volume)
	}
}

func TestAggregator_BarsBetween(t *testing.T) {
	a := New()
	for i := 0; i < 6; i++ {
		mustTick(t, a, tick("ALPHA", ts(9, 15+5*i, 0), 100.0+float64(i), 1))
	}
	got := a.BarsBetween("ALPHA", ts(9, 15, 0), ts(9, 40, 0))
	if len(got) != 5 {
		t.Fatalf("opening-range bars = %d, want 5", len(got))
	}
	if !got[4].Start.Equal(ts(9, 35, 0)) {
		t.Fatalf("last opening bar = %v, want 09:35", got[4].Start)
	}
}

func TestAppender_WritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	ap := NewAppender(func(sym string) string {
		return filepath.Join(dir, sym+"_5minute.csv")
	})
	bar := models.Bar{
		Symbol: "ALPHA", Start: ts(9, 15, 0),
		Open: 100, High: 101, Low: 99.5, Close: 100.5, Volume: 1200,
	}
	if err := ap.Append(bar); err != nil {
		t.Fatalf("Append: %v", err)
	}
	bar.Start = ts(9, 20, 0)
	if err := ap.Append(bar); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ALPHA_5minute.csv"))
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if lines[0] != "DateTime,Open,High,Low,Close,Volume" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2025-07-01T09:15:00+0530,100.00,101.00,99.50,100.50,1200") {
		t.Fatalf("row = %q", lines[1])
	}
	var nilAp *Appender
	if err := nilAp.Append(bar); err != nil {
		t.Fatalf("nil appender must be a no-op, got %v", err)
	}
}
