package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/models"
)

// Replay synthesizes ticks from recorded 5-minute bars. The sequence is a
// pure function of the input files and the seed, which is what makes a
// replayed day byte-identical across runs.
type Replay struct {
	ticks []models.Tick
	pos   int
	speed float64
	last  time.Time
}

// csvTimeLayouts are the DateTime formats accepted in intraday files.
var csvTimeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05+05:30",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NewReplay loads each symbol's intraday CSV, keeps the bars of the given
// day, and expands them into ticks. speed scales inter-tick sleeps: 0
// replays as fast as possible, 1 approximates real time.
func NewReplay(symbols []string, pathFor func(symbol string) string, day string, seed int64, speed float64) (*Replay, error) {
	var ticks []models.Tick
	for _, sym := range symbols {
		bars, err := readDayBars(pathFor(sym), sym, day)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			ticks = append(ticks, barTicks(b, seed)...)
		}
	}
	// Union time axis: non-decreasing timestamps, symbol as tiebreaker so
	// the merge itself is deterministic.
	sort.SliceStable(ticks, func(i, j int) bool {
		if !ticks[i].TS.Equal(ticks[j].TS) {
			return ticks[i].TS.Before(ticks[j].TS)
		}
		return ticks[i].Symbol < ticks[j].Symbol
	})
	return &Replay{ticks: ticks, speed: speed}, nil
}

// Next returns the next tick in timeline order.
func (r *Replay) Next(ctx context.Context) (models.Tick, error) {
	if r.pos >= len(r.ticks) {
		return models.Tick{}, ErrEndOfStream
	}
	t := r.ticks[r.pos]
	r.pos++

	if r.speed > 0 && !r.last.IsZero() {
		gap := time.Duration(float64(t.TS.Sub(r.last)) / r.speed)
		if gap > 0 {
			select {
			case <-time.After(gap):
			case <-ctx.Done():
				return models.Tick{}, ctx.Err()
			}
		}
	}
	r.last = t.TS
	return t, nil
}

// Close implements Source.
func (r *Replay) Close() error { return nil }

// Len reports how many ticks the replay will deliver.
func (r *Replay) Len() int { return len(r.ticks) }

// barTicks expands one bar into four ticks: open at the window start, the
// two extremes mid-window, close just before the window ends. Which extreme
// prints first is a seed-fixed coin flip per (symbol, window). The bar's
// volume rides on the closing tick.
func barTicks(b models.Bar, seed int64) []models.Tick {
	highFirst := extremeOrder(seed, b.Symbol, b.Start)
	first, second := b.High, b.Low
	if !highFirst {
		first, second = b.Low, b.High
	}
	return []models.Tick{
		{Symbol: b.Symbol, TS: b.Start, LTP: b.Open},
		{Symbol: b.Symbol, TS: b.Start.Add(2 * time.Minute), LTP: first},
		{Symbol: b.Symbol, TS: b.Start.Add(3 * time.Minute), LTP: second},
		{Symbol: b.Symbol, TS: b.Start.Add(4*time.Minute + 59*time.Second), LTP: b.Close, Volume: b.Volume},
	}
}

func extremeOrder(seed int64, symbol string, start time.Time) bool {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", seed, symbol, start.Unix())
	return h.Sum64()&1 == 0
}

// readDayBars parses one intraday CSV and returns the bars of the given
// day, sorted by window start.
func readDayBars(path, symbol, day string) ([]models.Bar, error) {
	f, err := os.Open(path) // #nosec G304 -- path derives from validated config
	if err != nil {
		return nil, fmt.Errorf("opening intraday %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading intraday header %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"datetime", "open", "high", "low", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("intraday %s: missing column %q", path, required)
		}
	}

	var bars []models.Bar
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("intraday %s line %d: %w", path, line, err)
		}
		ts, err := parseCSVTime(rec[col["datetime"]])
		if err != nil {
			return nil, fmt.Errorf("intraday %s line %d: %w", path, line, err)
		}
		if clock.FormatDay(ts) != day {
			continue
		}
		bar := models.Bar{Symbol: symbol, Start: models.WindowStart(ts.In(clock.IST()))}
		if bar.Open, err = strconv.ParseFloat(strings.TrimSpace(rec[col["open"]]), 64); err != nil {
			return nil, fmt.Errorf("intraday %s line %d open: %w", path, line, err)
		}
		if bar.High, err = strconv.ParseFloat(strings.TrimSpace(rec[col["high"]]), 64); err != nil {
			return nil, fmt.Errorf("intraday %s line %d high: %w", path, line, err)
		}
		if bar.Low, err = strconv.ParseFloat(strings.TrimSpace(rec[col["low"]]), 64); err != nil {
			return nil, fmt.Errorf("intraday %s line %d low: %w", path, line, err)
		}
		if bar.Close, err = strconv.ParseFloat(strings.TrimSpace(rec[col["close"]]), 64); err != nil {
			return nil, fmt.Errorf("intraday %s line %d close: %w", path, line, err)
		}
		if i, ok := col["volume"]; ok && i < len(rec) && strings.TrimSpace(rec[i]) != "" {
			if bar.Volume, err = strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 64); err != nil {
				return nil, fmt.Errorf("intraday %s line %d volume: %w", path, line, err)
			}
		}
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("intraday %s line %d: %w", path, line, err)
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) })
	return bars, nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, clock.IST()); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable DateTime %q", s)
}
