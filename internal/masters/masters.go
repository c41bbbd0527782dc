// Package masters reads the per-symbol daily master CSVs. They supply two
// inputs to the runtime: the previous session's OHLC for the classifier, and
// the historical tag/result rows the frequency table is built from. Files
// are read once at startup and never written.
package masters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/probedge/probedge/internal/models"
)

// ErrNoMaster is returned when a symbol has no master file on disk.
var ErrNoMaster = errors.New("no master file for symbol")

// DayRow is one historical session. Tag and result columns may be absent in
// older files; missing values stay nil and those rows only contribute OHLC.
type DayRow struct {
	Date   string // YYYY-MM-DD
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	PDC    *models.Direction
	OL     *models.OpenLocation
	OT     *models.Direction
	Result *models.Direction
}

// Load parses one symbol's master file. Rows come back sorted by date
// ascending. The header is matched case-insensitively and unknown columns
// are ignored, so files enriched by the EOD job keep loading.
func Load(path string) ([]DayRow, error) {
	f, err := os.Open(path) // #nosec G304 -- path derives from validated config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoMaster, path)
		}
		return nil, fmt.Errorf("opening master %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading master header %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("master %s: missing column %q", path, required)
		}
	}

	var rows []DayRow
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("master %s line %d: %w", path, line, err)
		}
		row, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("master %s line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

// LoadAll loads every symbol's master file, skipping symbols with no file.
// The caller decides whether an empty result is fatal (it is at startup).
func LoadAll(symbols []string, pathFor func(symbol string) string) (map[string][]DayRow, error) {
	out := make(map[string][]DayRow, len(symbols))
	for _, sym := range symbols {
		rows, err := Load(pathFor(sym))
		if err != nil {
			if errors.Is(err, ErrNoMaster) {
				continue
			}
			return nil, err
		}
		out[sym] = rows
	}
	return out, nil
}

// PrevDay returns the most recent session strictly before day, which is the
// classifier's prior-day reference. ok is false when no earlier session
// exists; that symbol then runs with null tags.
func PrevDay(rows []DayRow, day string) (DayRow, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Date < day {
			return rows[i], true
		}
	}
	return DayRow{}, false
}

func parseRow(rec []string, col map[string]int) (DayRow, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var row DayRow
	row.Date = field("date")
	if len(row.Date) >= 10 {
		row.Date = row.Date[:10]
	}
	if row.Date == "" {
		return DayRow{}, fmt.Errorf("empty date")
	}

	var err error
	if row.Open, err = strconv.ParseFloat(field("open"), 64); err != nil {
		return DayRow{}, fmt.Errorf("open: %w", err)
	}
	if row.High, err = strconv.ParseFloat(field("high"), 64); err != nil {
		return DayRow{}, fmt.Errorf("high: %w", err)
	}
	if row.Low, err = strconv.ParseFloat(field("low"), 64); err != nil {
		return DayRow{}, fmt.Errorf("low: %w", err)
	}
	if row.Close, err = strconv.ParseFloat(field("close"), 64); err != nil {
		return DayRow{}, fmt.Errorf("close: %w", err)
	}
	if v := field("volume"); v != "" {
		if row.Volume, err = strconv.ParseInt(v, 10, 64); err != nil {
			return DayRow{}, fmt.Errorf("volume: %w", err)
		}
	}

	if v := models.Direction(field("prevdaycontext")); v.Valid() {
		row.PDC = &v
	}
	if v := models.OpenLocation(field("openlocation")); v.Valid() {
		row.OL = &v
	}
	if v := models.Direction(field("openingtrend")); v.Valid() {
		row.OT = &v
	}
	if v := models.Direction(field("result")); v == models.DirectionBull || v == models.DirectionBear {
		row.Result = &v
	}
	return row, nil
}
