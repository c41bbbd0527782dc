// Package freq holds the historical tag-frequency table and the picker that
// turns a day's tags into a directional bias. The table is built once at
// startup from the master CSVs and read-only afterwards.
package freq

import (
	"fmt"
	"time"

	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/models"
)

// Levels of key specificity, most specific first.
const (
	LevelL3    = "L3"     // (PDC, OL, OT)
	LevelL2    = "L2"     // (OL, OT)
	LevelL2PDC = "L2_PDC" // (PDC, OT)
	LevelL1    = "L1"     // (OT)
	LevelL0    = "L0"     // marginal
)

// lookbackYears bounds how far back historical sessions count.
const lookbackYears = 6

// Counts is the outcome tally under one key.
type Counts struct {
	Bull int
	Bear int
}

// Total returns the sample count.
func (c Counts) Total() int { return c.Bull + c.Bear }

// Majority returns the larger side and its confidence in [0.5, 1]. A zero
// total yields ABSTAIN with zero confidence.
func (c Counts) Majority() (models.Pick, float64) {
	total := c.Total()
	if total == 0 {
		return models.PickAbstain, 0
	}
	if c.Bull >= c.Bear {
		return models.PickBull, float64(c.Bull) / float64(total)
	}
	return models.PickBear, float64(c.Bear) / float64(total)
}

// Table maps (symbol, level-qualified key) to outcome counts.
type Table struct {
	counts map[string]map[string]Counts
}

// Build tallies every master row with a Result label, dated strictly before
// today and inside the lookback window. Rows missing the tags a level needs
// simply do not contribute to that level.
func Build(rows map[string][]masters.DayRow, today string) *Table {
	cutoff := lookbackCutoff(today)
	t := &Table{counts: make(map[string]map[string]Counts, len(rows))}
	for sym, days := range rows {
		for _, d := range days {
			if d.Result == nil || d.Date >= today || d.Date < cutoff {
				continue
			}
			for _, key := range rowKeys(d) {
				t.add(sym, key, *d.Result)
			}
		}
	}
	return t
}

// Lookup returns the counts for a symbol under one level-qualified key.
func (t *Table) Lookup(symbol, key string) Counts {
	return t.counts[symbol][key]
}

// Symbols returns how many symbols carry at least one sample.
func (t *Table) Symbols() int { return len(t.counts) }

func (t *Table) add(symbol, key string, result models.Direction) {
	bySym, ok := t.counts[symbol]
	if !ok {
		bySym = make(map[string]Counts)
		t.counts[symbol] = bySym
	}
	c := bySym[key]
	switch result {
	case models.DirectionBull:
		c.Bull++
	case models.DirectionBear:
		c.Bear++
	}
	bySym[key] = c
}

// rowKeys expands one historical session into the keys it contributes to.
func rowKeys(d masters.DayRow) []string {
	keys := []string{KeyL0()}
	if d.OT == nil {
		return keys
	}
	keys = append(keys, KeyL1(*d.OT))
	if d.OL != nil {
		keys = append(keys, KeyL2(*d.OL, *d.OT))
	}
	if d.PDC != nil {
		keys = append(keys, KeyL2PDC(*d.PDC, *d.OT))
		if d.OL != nil {
			keys = append(keys, KeyL3(*d.PDC, *d.OL, *d.OT))
		}
	}
	return keys
}

// KeyL3 builds the most specific key: (PDC, OL, OT).
func KeyL3(pdc models.Direction, ol models.OpenLocation, ot models.Direction) string {
	return fmt.Sprintf("%s|%s|%s|%s", LevelL3, pdc, ol, ot)
}

// KeyL2 builds the (OL, OT) key.
func KeyL2(ol models.OpenLocation, ot models.Direction) string {
	return fmt.Sprintf("%s|%s|%s", LevelL2, ol, ot)
}

// KeyL2PDC builds the (PDC, OT) key.
func KeyL2PDC(pdc, ot models.Direction) string {
	return fmt.Sprintf("%s|%s|%s", LevelL2PDC, pdc, ot)
}

// KeyL1 builds the (OT) key.
func KeyL1(ot models.Direction) string {
	return fmt.Sprintf("%s|%s", LevelL1, ot)
}

// KeyL0 builds the marginal key.
func KeyL0() string { return LevelL0 }

func lookbackCutoff(today string) string {
	t, err := time.Parse("2006-01-02", today)
	if err != nil {
		return ""
	}
	return t.AddDate(-lookbackYears, 0, 0).Format("2006-01-02")
}
