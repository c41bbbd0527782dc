package tags

import (
	"testing"
	"time"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/models"
)

func prevDay(o, h, l, c float64) masters.DayRow {
	return masters.DayRow{Date: "2025-06-30", Open: o, High: h, Low: l, Close: c}
}

func TestPDC(t *testing.T) {
	tests := []struct {
		name string
		prev masters.DayRow
		want models.Direction
	}{
		// Wide range, big body, close near the high.
		{"trend day up", prevDay(100, 106, 99.5, 105.5), models.DirectionBull},
		// Mirror: close near the low.
		{"trend day down", prevDay(105.5, 106, 99.5, 100), models.DirectionBear},
		// Range under 1% of close reads as TR regardless of shape.
		{"narrow day", prevDay(100, 100.6, 100.0, 100.5), models.DirectionRange},
		// Wide range but tiny body: doji-like, TR.
		{"small body", prevDay(100, 104, 96, 100.3), models.DirectionRange},
		// Close in the middle of the range: no context.
		{"mid close", prevDay(100, 105, 98, 101.5), models.DirectionRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PDC(tt.prev); got != tt.want {
				t.Fatalf("PDC(%+v) = %s, want %s", tt.prev, got, tt.want)
			}
		})
	}
}

func TestOL(t *testing.T) {
	prev := prevDay(100, 110, 100, 105) // range 100-110, band width 3
	tests := []struct {
		name string
		open float64
		want models.OpenLocation
	}{
		{"above prior high", 110.5, models.OpenAboveRange},
		{"below prior low", 99.5, models.OpenBelowRange},
		{"at prior high", 110.0, models.OpenOnHighs},
		{"upper band", 107.2, models.OpenOnHighs},
		{"lower band", 102.8, models.OpenOnLows},
		{"at prior low", 100.0, models.OpenOnLows},
		{"middle of body", 105.0, models.OpenInMiddle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OL(tt.open, prev); got != tt.want {
				t.Fatalf("OL(%.1f) = %s, want %s", tt.open, got, tt.want)
			}
		})
	}
}

// openingBars builds five 5-minute bars from 09:15 with the given OHLC rows.
func openingBars(t *testing.T, ohlc [][4]float64) []models.Bar {
	t.Helper()
	start := time.Date(2025, 7, 1, 9, 15, 0, 0, clock.IST())
	bars := make([]models.Bar, 0, len(ohlc))
	for i, r := range ohlc {
		b := models.Bar{
			Symbol: "ALPHA",
			Start:  start.Add(time.Duration(i) * models.BarInterval),
			Open:   r[0], High: r[1], Low: r[2], Close: r[3],
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("bad fixture bar: %v", err)
		}
		bars = append(bars, b)
	}
	return bars
}

func TestOT_BullishDrive(t *testing.T) {
	// Five rising bars: +1% move, close at the highs, 5 up bars.
	bars := openingBars(t, [][4]float64{
		{100.0, 100.3, 99.9, 100.2},
		{100.2, 100.5, 100.1, 100.4},
		{100.4, 100.7, 100.3, 100.6},
		{100.6, 100.9, 100.5, 100.8},
		{100.8, 101.1, 100.7, 101.0},
	})
	got, ok := OT(bars)
	if !ok || got != models.DirectionBull {
		t.Fatalf("OT = %s ok=%v, want BULL", got, ok)
	}
}

func TestOT_BearishDrive(t *testing.T) {
	bars := openingBars(t, [][4]float64{
		{101.0, 101.1, 100.7, 100.8},
		{100.8, 100.9, 100.5, 100.6},
		{100.6, 100.7, 100.3, 100.4},
		{100.4, 100.5, 100.1, 100.2},
		{100.2, 100.3, 99.9, 100.0},
	})
	got, ok := OT(bars)
	if !ok || got != models.DirectionBear {
		t.Fatalf("OT = %s ok=%v, want BEAR", got, ok)
	}
}

func TestOT_ChopGuard(t *testing.T) {
	// Five overlapping bars inside a 0.4% range with no net move.
	bars := openingBars(t, [][4]float64{
		{100.00, 100.20, 99.90, 100.05},
		{100.05, 100.25, 99.95, 99.98},
		{99.98, 100.22, 99.92, 100.10},
		{100.10, 100.24, 99.94, 100.00},
		{100.00, 100.21, 99.91, 100.02},
	})
	got, ok := OT(bars)
	if !ok || got != models.DirectionRange {
		t.Fatalf("OT = %s ok=%v, want TR via chop guard", got, ok)
	}
}

func TestOT_MixedVotesStayTR(t *testing.T) {
	// Real move up but closes keep fading: votes cancel below the threshold.
	bars := openingBars(t, [][4]float64{
		{100.0, 101.2, 99.9, 101.0},
		{101.0, 101.4, 100.2, 100.4},
		{100.4, 100.9, 100.0, 100.7},
		{100.7, 101.1, 100.2, 100.3},
		{100.3, 100.8, 100.0, 100.5},
	})
	got, ok := OT(bars)
	if !ok || got != models.DirectionRange {
		t.Fatalf("OT = %s ok=%v, want TR from mixed votes", got, ok)
	}
}

func TestOT_NeedsFiveBars(t *testing.T) {
	bars := openingBars(t, [][4]float64{
		{100.0, 100.3, 99.9, 100.2},
		{100.2, 100.5, 100.1, 100.4},
	})
	if _, ok := OT(bars); ok {
		t.Fatalf("OT must refuse to classify with missing opening bars")
	}
}

func TestOT_IsPure(t *testing.T) {
	bars := openingBars(t, [][4]float64{
		{100.0, 100.3, 99.9, 100.2},
		{100.2, 100.5, 100.1, 100.4},
		{100.4, 100.7, 100.3, 100.6},
		{100.6, 100.9, 100.5, 100.8},
		{100.8, 101.1, 100.7, 101.0},
	})
	first, _ := OT(bars)
	for i := 0; i < 10; i++ {
		if got, _ := OT(bars); got != first {
			t.Fatalf("OT not deterministic: %s then %s", first, got)
		}
	}
}
