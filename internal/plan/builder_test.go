package plan

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/freq"
	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{DailyRs: 10000, PerTradeRs: 1000, RAtrMult: 1.0}
}

func pickerConfig() config.PickerConfig {
	return config.PickerConfig{
		NMinL3: 8, NMinL2: 12, NMinL1: 20, NMinL0: 3,
		ConfMin: 0.55, TRGuardConf: 0.65,
	}
}

// bullHistory builds 7 BULL / 2 BEAR sessions for the (BULL, OIM, BULL)
// tuple: 9 samples at L3, confidence 0.78.
func bullHistory() map[string][]masters.DayRow {
	rows := make([]masters.DayRow, 0, 9)
	for i := 0; i < 9; i++ {
		result := models.DirectionBull
		if i >= 7 {
			result = models.DirectionBear
		}
		rows = append(rows, masters.DayRow{
			Date: fmt.Sprintf("2025-05-%02d", i+1),
			Open: 100, High: 101, Low: 99, Close: 100.5,
			PDC:    models.DirectionPtr(models.DirectionBull),
			OL:     models.OpenLocationPtr(models.OpenInMiddle),
			OT:     models.DirectionPtr(models.DirectionBull),
			Result: &result,
		})
	}
	return map[string][]masters.DayRow{"ALPHA": rows}
}

func fullTags() models.SessionTags {
	return models.SessionTags{
		PDC: models.DirectionPtr(models.DirectionBull),
		OL:  models.OpenLocationPtr(models.OpenInMiddle),
		OT:  models.DirectionPtr(models.DirectionBull),
	}
}

// scenarioBars produces opening bars with entry 100.00, first-5 low 99.20,
// and ATR5 0.72 against a prior close of 100.00, so the stop lands on the
// opening low at 99.20 and R is exactly 0.80.
func scenarioBars() []models.Bar {
	start := time.Date(2025, 7, 1, 9, 15, 0, 0, clock.IST())
	ohlc := [][4]float64{
		{100.0, 100.4, 99.2, 100.2},
		{100.2, 100.8, 100.2, 100.6},
		{100.6, 100.7, 100.1, 100.3},
		{100.3, 100.5, 99.9, 100.1},
		{100.1, 100.3, 99.7, 100.0},
	}
	bars := make([]models.Bar, 0, 5)
	for i, r := range ohlc {
		bars = append(bars, models.Bar{
			Symbol: "ALPHA",
			Start:  start.Add(time.Duration(i) * models.BarInterval),
			Open:   r[0], High: r[1], Low: r[2], Close: r[3],
		})
	}
	return bars
}

func newBuilder(history map[string][]masters.DayRow) *Builder {
	table := freq.Build(history, "2025-07-01")
	return NewBuilder(riskConfig(), freq.NewPicker(pickerConfig()), table, testLogger())
}

func buildInputs(bars []models.Bar) Inputs {
	return Inputs{
		Day:  "2025-07-01",
		Mode: "SIM",
		Now:  time.Date(2025, 7, 1, 9, 40, 1, 0, clock.IST()),
		Tags: map[string]models.SessionTags{"ALPHA": fullTags()},
		PrevDay: map[string]masters.DayRow{
			"ALPHA": {Date: "2025-06-30", Open: 99.5, High: 100.8, Low: 99.0, Close: 100.0},
		},
		OpeningBars: func(sym string) []models.Bar { return bars },
		Universe:    []string{"ALPHA"},
	}
}

func TestBuild_BullPlanRow(t *testing.T) {
	snap := newBuilder(bullHistory()).Build(buildInputs(scenarioBars()))

	if snap.Status != models.SnapshotReady || !snap.Locked {
		t.Fatalf("status/locked = %s/%v, want READY/true", snap.Status, snap.Locked)
	}
	row, ok := snap.Row("ALPHA")
	if !ok {
		t.Fatalf("plan missing ALPHA row")
	}
	if row.Pick != models.PickBull {
		t.Fatalf("pick = %s (%s), want BULL", row.Pick, row.Reason)
	}
	if row.Confidence != 78 {
		t.Fatalf("confidence = %d, want 78", row.Confidence)
	}
	if row.Level != freq.LevelL3 || row.Samples != 9 {
		t.Fatalf("level/samples = %s/%d, want L3/9", row.Level, row.Samples)
	}
	if row.Entry != 100.00 || row.Stop != 99.20 {
		t.Fatalf("entry/stop = %.2f/%.2f, want 100.00/99.20", row.Entry, row.Stop)
	}
	if row.RPerShare != 0.80 || row.TP1 != 100.80 || row.TP2 != 101.60 {
		t.Fatalf("R/tp1/tp2 = %.2f/%.2f/%.2f", row.RPerShare, row.TP1, row.TP2)
	}
	if row.Qty != 1250 {
		t.Fatalf("qty = %d, want 1250", row.Qty)
	}
	if snap.PortfolioPlan.ActiveTrades != 1 {
		t.Fatalf("active_trades = %d, want 1", snap.PortfolioPlan.ActiveTrades)
	}
	if snap.PortfolioPlan.TotalPlannedRiskRs != 1000 {
		t.Fatalf("total planned risk = %.2f, want 1000", snap.PortfolioPlan.TotalPlannedRiskRs)
	}
}

func TestBuild_RowInvariants(t *testing.T) {
	snap := newBuilder(bullHistory()).Build(buildInputs(scenarioBars()))
	risk := riskConfig()
	for _, row := range snap.PortfolioPlan.Plans {
		if !row.Pick.Directional() {
			continue
		}
		sign := 1.0
		if row.Pick == models.PickBear {
			sign = -1.0
		}
		if sign*(row.Entry-row.Stop) <= 0 {
			t.Fatalf("%s: stop on wrong side (entry %.2f stop %.2f)", row.Symbol, row.Entry, row.Stop)
		}
		if sign*(row.TP1-row.Entry) <= 0 || sign*(row.TP2-row.TP1) <= 0 {
			t.Fatalf("%s: targets on wrong side", row.Symbol)
		}
		if planned := float64(row.Qty) * row.RPerShare; planned > risk.PerTradeRs+1e-9 {
			t.Fatalf("%s: qty*R = %.2f exceeds per-trade risk", row.Symbol, planned)
		}
	}
}

func TestBuild_AbstainKeepsRowWithoutPrices(t *testing.T) {
	// No history at all: picker abstains with low_n, the row survives.
	b := newBuilder(map[string][]masters.DayRow{})
	snap := b.Build(buildInputs(scenarioBars()))
	row, ok := snap.Row("ALPHA")
	if !ok {
		t.Fatalf("abstain symbols keep a plan row")
	}
	if row.Pick != models.PickAbstain || row.Reason != freq.ReasonLowN {
		t.Fatalf("pick/reason = %s/%s, want ABSTAIN/low_n", row.Pick, row.Reason)
	}
	if row.Qty != 0 || row.Entry != 0 {
		t.Fatalf("abstain row must carry no size or prices: %+v", row)
	}
	if snap.PortfolioPlan.ActiveTrades != 0 {
		t.Fatalf("active_trades = %d, want 0", snap.PortfolioPlan.ActiveTrades)
	}
	// A plan with only abstains is still READY: every symbol resolved.
	if snap.Status != models.SnapshotReady {
		t.Fatalf("status = %s, want READY", snap.Status)
	}
}

func TestBuild_TightStopAbstains(t *testing.T) {
	// Flat opening bars pin the stop right under entry: R < 0.2% of entry.
	start := time.Date(2025, 7, 1, 9, 15, 0, 0, clock.IST())
	bars := make([]models.Bar, 0, 5)
	for i := 0; i < 5; i++ {
		bars = append(bars, models.Bar{
			Symbol: "ALPHA",
			Start:  start.Add(time.Duration(i) * models.BarInterval),
			Open:   100.00, High: 100.05, Low: 99.95, Close: 100.00,
		})
	}
	in := buildInputs(bars)
	in.PrevDay = map[string]masters.DayRow{"ALPHA": {Close: 100.0}}
	snap := newBuilder(bullHistory()).Build(in)

	row, _ := snap.Row("ALPHA")
	if row.Pick != models.PickAbstain || row.Reason != ReasonTightStop {
		t.Fatalf("pick/reason = %s/%s, want ABSTAIN/tight_stop", row.Pick, row.Reason)
	}
}

func TestBuild_ReadyPartialOnMissingTags(t *testing.T) {
	in := buildInputs(scenarioBars())
	in.Universe = []string{"ALPHA", "BETA", "GAMMA"}
	// BETA never got a PDC (no prior-day master); GAMMA has no tags at all.
	in.Tags["BETA"] = models.SessionTags{
		OL: models.OpenLocationPtr(models.OpenInMiddle),
		OT: models.DirectionPtr(models.DirectionBull),
	}
	snap := newBuilder(bullHistory()).Build(in)

	if snap.Status != models.SnapshotReadyPartial || !snap.Locked {
		t.Fatalf("status/locked = %s/%v, want READY_PARTIAL/true", snap.Status, snap.Locked)
	}
	if len(snap.PortfolioPlan.Plans) != 1 {
		t.Fatalf("plans = %d, want 1 (unresolved symbols absent)", len(snap.PortfolioPlan.Plans))
	}
	if _, ok := snap.Row("BETA"); ok {
		t.Fatalf("symbol with null tags must be absent from the plan")
	}
}

func TestBuild_FailedWhenNothingResolvable(t *testing.T) {
	in := buildInputs(scenarioBars())
	in.Tags = map[string]models.SessionTags{}
	snap := newBuilder(bullHistory()).Build(in)
	if snap.Status != models.SnapshotFailed {
		t.Fatalf("status = %s, want FAILED", snap.Status)
	}
	if snap.Locked {
		t.Fatalf("a FAILED snapshot must not lock")
	}
	if len(snap.PortfolioPlan.Plans) != 0 {
		t.Fatalf("FAILED snapshot carries no rows")
	}
}

func TestSnapshotStore_WriteLoadAndArchive(t *testing.T) {
	dir := t.TempDir()
	paths := config.PathsConfig{State: dir}
	store := NewSnapshotStore(paths, testLogger())

	snap := newBuilder(bullHistory()).Build(buildInputs(scenarioBars()))
	if err := store.Write(context.Background(), snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := store.Load("2025-07-01")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != snap.Status || loaded.BuiltAt != snap.BuiltAt || !loaded.Locked {
		t.Fatalf("loaded snapshot differs: %+v", loaded)
	}
	row, ok := loaded.Row("ALPHA")
	if !ok || row.Qty != 1250 {
		t.Fatalf("loaded plan row differs: %+v", row)
	}

	working, err := os.ReadFile(paths.PlanSnapshotFile("2025-07-01"))
	if err != nil {
		t.Fatalf("reading working file: %v", err)
	}
	archive, err := os.ReadFile(paths.PlanArchiveFile("2025-07-01"))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if string(working) != string(archive) {
		t.Fatalf("working and archived snapshots must be byte-identical")
	}
}

func TestSnapshotStore_LoadMissingDay(t *testing.T) {
	store := NewSnapshotStore(config.PathsConfig{State: t.TempDir()}, testLogger())
	if _, err := store.Load("2025-07-01"); err == nil {
		t.Fatalf("expected ErrNoSnapshot")
	}
}
