package masters

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/probedge/probedge/internal/models"
)

func writeMaster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ALPHA_5MINUTE_MASTER.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing master fixture: %v", err)
	}
	return path
}

const sampleMaster = `Date,Open,High,Low,Close,Volume,PrevDayContext,OpenLocation,OpeningTrend,Result
2025-06-27,100.0,103.0,99.0,102.5,100000,BULL,OIM,BULL,BULL
2025-06-25,98.0,99.5,96.0,97.0,90000,TR,OOL,BEAR,BEAR
2025-06-26,97.5,100.5,97.0,100.0,95000,BEAR,OIM,BULL,BULL
`

func TestLoad_SortsAndParses(t *testing.T) {
	rows, err := Load(writeMaster(t, sampleMaster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Date != "2025-06-25" || rows[2].Date != "2025-06-27" {
		t.Fatalf("rows not sorted by date: %s .. %s", rows[0].Date, rows[2].Date)
	}
	last := rows[2]
	if last.Open != 100.0 || last.High != 103.0 || last.Low != 99.0 || last.Close != 102.5 {
		t.Fatalf("OHLC parse wrong: %+v", last)
	}
	if last.PDC == nil || *last.PDC != models.DirectionBull {
		t.Fatalf("PDC parse wrong: %+v", last.PDC)
	}
	if last.Result == nil || *last.Result != models.DirectionBull {
		t.Fatalf("Result parse wrong: %+v", last.Result)
	}
}

func TestLoad_HeaderCaseAndExtraColumns(t *testing.T) {
	content := `DATE,open,High,LOW,Close,Volume,Result,RangePct,Notes
2025-06-27,100,101,99,100.5,1000,BEAR,1.2,hello
`
	rows, err := Load(writeMaster(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 1 || rows[0].Close != 100.5 {
		t.Fatalf("case-insensitive header parse failed: %+v", rows)
	}
	if rows[0].Result == nil || *rows[0].Result != models.DirectionBear {
		t.Fatalf("result should parse from shuffled columns: %+v", rows[0].Result)
	}
	// Tag columns absent entirely: stay nil, not zero values.
	if rows[0].PDC != nil || rows[0].OL != nil || rows[0].OT != nil {
		t.Fatalf("missing tag columns must stay nil: %+v", rows[0])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "NOPE_5MINUTE_MASTER.csv"))
	if !errors.Is(err, ErrNoMaster) {
		t.Fatalf("Load = %v, want ErrNoMaster", err)
	}
}

func TestLoad_MissingRequiredColumn(t *testing.T) {
	_, err := Load(writeMaster(t, "Date,Open,High,Low\n2025-06-27,1,2,0\n"))
	if err == nil {
		t.Fatalf("expected error for missing close column")
	}
}

func TestPrevDay(t *testing.T) {
	rows, err := Load(writeMaster(t, sampleMaster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	prev, ok := PrevDay(rows, "2025-06-27")
	if !ok || prev.Date != "2025-06-26" {
		t.Fatalf("PrevDay(2025-06-27) = %v %v, want 2025-06-26", prev.Date, ok)
	}
	// A weekend gap: previous trading session, not previous calendar day.
	prev, ok = PrevDay(rows, "2025-06-30")
	if !ok || prev.Date != "2025-06-27" {
		t.Fatalf("PrevDay(2025-06-30) = %v %v, want 2025-06-27", prev.Date, ok)
	}
	if _, ok := PrevDay(rows, "2025-06-25"); ok {
		t.Fatalf("no session before the first row, PrevDay must report !ok")
	}
}

func TestLoadAll_SkipsMissingSymbols(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ALPHA_5MINUTE_MASTER.csv")
	if err := os.WriteFile(path, []byte(sampleMaster), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	got, err := LoadAll([]string{"ALPHA", "BETA"}, func(sym string) string {
		return filepath.Join(dir, sym+"_5MINUTE_MASTER.csv")
	})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 1 || len(got["ALPHA"]) != 3 {
		t.Fatalf("LoadAll should keep ALPHA only, got %d symbols", len(got))
	}
}
