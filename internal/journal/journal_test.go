package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/probedge/probedge/internal/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "fills.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func entryFill() models.Fill {
	ts := "2025-07-01 09:41:30"
	return models.Fill{
		ID:     FillID("2025-07-01", "ALPHA", models.SideBuy, models.FillEntry, ts, 1250),
		Day:    "2025-07-01",
		Mode:   "SIM",
		Symbol: "ALPHA",
		Side:   models.SideBuy,
		Qty:    1250,
		Price:  100.00,
		TS:     ts,
		Reason: models.FillEntry,
	}
}

func TestFillID_Deterministic(t *testing.T) {
	a := FillID("2025-07-01", "ALPHA", models.SideBuy, models.FillEntry, "2025-07-01 09:41:30", 1250)
	b := FillID("2025-07-01", "ALPHA", models.SideBuy, models.FillEntry, "2025-07-01 09:41:30", 1250)
	if a != b {
		t.Fatalf("same event must map to the same id: %s vs %s", a, b)
	}
	c := FillID("2025-07-01", "ALPHA", models.SideSell, models.FillStop, "2025-07-01 09:41:30", 1250)
	if a == c {
		t.Fatalf("different events must not collide")
	}
}

func TestJournal_RecordIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	f := entryFill()

	inserted, err := j.Record(f)
	if err != nil || !inserted {
		t.Fatalf("first Record = %v/%v, want inserted", inserted, err)
	}
	// A replayed day re-submits the identical fill: ignored, not duplicated.
	inserted, err = j.Record(f)
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate fill must be ignored")
	}

	fills, err := j.Fills("2025-07-01")
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	got := fills[0]
	if got.Symbol != "ALPHA" || got.Qty != 1250 || got.Price != 100.00 || got.Reason != models.FillEntry {
		t.Fatalf("journaled fill differs: %+v", got)
	}
}

func TestJournal_HasEntry(t *testing.T) {
	j := openTestJournal(t)
	ok, err := j.HasEntry("2025-07-01", "ALPHA")
	if err != nil || ok {
		t.Fatalf("HasEntry before recording = %v/%v", ok, err)
	}
	if _, err := j.Record(entryFill()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	ok, err = j.HasEntry("2025-07-01", "ALPHA")
	if err != nil || !ok {
		t.Fatalf("HasEntry after recording = %v/%v, want true", ok, err)
	}
	// Exit fills do not count as entries.
	ok, _ = j.HasEntry("2025-07-01", "BETA")
	if ok {
		t.Fatalf("HasEntry must be per symbol")
	}
}

func TestJournal_FillsFilteredByDay(t *testing.T) {
	j := openTestJournal(t)
	f := entryFill()
	if _, err := j.Record(f); err != nil {
		t.Fatalf("Record: %v", err)
	}
	other := f
	other.Day = "2025-07-02"
	other.ID = FillID(other.Day, other.Symbol, other.Side, other.Reason, other.TS, other.Qty)
	if _, err := j.Record(other); err != nil {
		t.Fatalf("Record: %v", err)
	}
	fills, err := j.Fills("2025-07-02")
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(fills) != 1 || fills[0].Day != "2025-07-02" {
		t.Fatalf("day filter broken: %+v", fills)
	}
}

func TestAppendTrade_HeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.csv")
	row := TradeRow{
		Day: "2025-07-01", Mode: "SIM", Symbol: "ALPHA", Side: "BULL",
		Qty: 1250, Entry: 100.00, Stop: 99.20, Target1: 100.80, Target2: 101.60,
		EntryTS: "2025-07-01 09:41:30", ExitTS: "2025-07-01 15:05:00",
		ExitPrice: 100.20, ExitReason: "TIME", PnLRs: 625,
		PlannedRiskRs: 1000, DailyRiskRs: 10000,
		Strategy: "tag_freq_v1", CreatedAt: "2025-07-01 15:05:00",
	}
	if err := AppendTrade(path, row); err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}
	if err := AppendTrade(path, row); err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading trade log: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want header + 2 rows", len(recs))
	}
	if recs[0][0] != "day" || recs[0][13] != "pnl_rs" {
		t.Fatalf("header = %v", recs[0])
	}
	if recs[1][2] != "ALPHA" || recs[1][13] != "625.00" {
		t.Fatalf("row = %v", recs[1])
	}
	// pnl_r = 625 / 1000 planned risk.
	if recs[1][14] != "0.62" && recs[1][14] != "0.63" {
		t.Fatalf("pnl_r = %q", recs[1][14])
	}
}
