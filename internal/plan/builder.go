// Package plan turns the day's tags into the immutable portfolio plan at
// the 09:40 cutover, and owns the snapshot artifact on disk.
package plan

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/freq"
	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/util"
)

// Abstain reasons added by the builder on top of the picker's.
const (
	ReasonTightStop = "tight_stop"
	ReasonQtyZero   = "qty_zero"
)

// minRiskFrac is the tight-stop floor: R below this fraction of entry
// abstains rather than sizing into noise.
const minRiskFrac = 0.002

// openingBarCount is how many 5-minute bars the entry window spans.
const openingBarCount = 5

// Builder assembles the day's snapshot once, at the OT cutover.
type Builder struct {
	risk   config.RiskConfig
	picker *freq.Picker
	table  *freq.Table
	logger *logrus.Logger
}

// NewBuilder wires a builder.
func NewBuilder(risk config.RiskConfig, picker *freq.Picker, table *freq.Table, logger *logrus.Logger) *Builder {
	return &Builder{risk: risk, picker: picker, table: table, logger: logger}
}

// Inputs carries everything Build needs for one day.
type Inputs struct {
	Day     string
	Mode    string
	Now     time.Time
	Tags    map[string]models.SessionTags
	PrevDay map[string]masters.DayRow // symbols with prior-day data
	// OpeningBars returns a symbol's closed 09:15-09:40 bars in order.
	OpeningBars func(symbol string) []models.Bar
	Universe    []string
}

// Build runs the picker and sizing for every symbol with complete tags.
// Symbols missing tags or opening bars are absent from the plan and
// downgrade the status to READY_PARTIAL; zero resolvable symbols is FAILED.
func (b *Builder) Build(in Inputs) *models.Snapshot {
	symbols := append([]string(nil), in.Universe...)
	sort.Strings(symbols)

	var rows []models.PlanRow
	for _, sym := range symbols {
		tags := in.Tags[sym]
		if !tags.Complete() {
			b.logger.WithField("symbol", sym).Warn("Symbol excluded from plan: incomplete tags")
			continue
		}
		bars := in.OpeningBars(sym)
		if len(bars) < openingBarCount {
			b.logger.WithFields(logrus.Fields{"symbol": sym, "bars": len(bars)}).
				Warn("Symbol excluded from plan: missing opening bars")
			continue
		}
		rows = append(rows, b.buildRow(sym, tags, bars[:openingBarCount], in.PrevDay))
	}

	status := models.SnapshotReady
	switch {
	case len(rows) == 0:
		status = models.SnapshotFailed
	case len(rows) < len(symbols):
		status = models.SnapshotReadyPartial
	}

	pp := models.PortfolioPlan{
		Date:           in.Day,
		DailyRiskRs:    b.risk.DailyRs,
		RiskPerTradeRs: b.risk.PerTradeRs,
		Plans:          rows,
	}
	for _, r := range rows {
		if r.Active() {
			pp.ActiveTrades++
			pp.TotalPlannedRiskRs += float64(r.Qty) * r.RPerShare
		}
	}
	pp.TotalPlannedRiskRs = util.Round2(pp.TotalPlannedRiskRs)

	return &models.Snapshot{
		Date:          in.Day,
		Mode:          in.Mode,
		BuiltAt:       clock.FormatTime(in.Now),
		Status:        status,
		Locked:        status.Executable(),
		PortfolioPlan: pp,
	}
}

// buildRow prices one symbol's directive from its picker decision.
func (b *Builder) buildRow(sym string, tags models.SessionTags, bars []models.Bar, prev map[string]masters.DayRow) models.PlanRow {
	d := b.picker.Pick(b.table, sym, tags)
	row := models.PlanRow{
		Symbol:     sym,
		Pick:       d.Pick,
		Confidence: int(math.Round(d.Confidence * 100)),
		Level:      d.Level,
		Samples:    d.Samples,
		Reason:     d.Reason,
		Tags: models.PlanTags{
			PrevDayContext: string(*tags.PDC),
			OpenLocation:   string(*tags.OL),
			OpeningTrend:   string(*tags.OT),
		},
	}
	if !d.Pick.Directional() {
		return row
	}

	entry := bars[openingBarCount-1].Close
	prevClose := 0.0
	if p, ok := prev[sym]; ok {
		prevClose = p.Close
	}
	atr := atr5(bars, prevClose)

	var stop float64
	if d.Pick == models.PickBull {
		low5 := bars[0].Low
		for _, bar := range bars {
			low5 = math.Min(low5, bar.Low)
		}
		stop = math.Min(low5, entry-b.risk.RAtrMult*atr)
	} else {
		high5 := bars[0].High
		for _, bar := range bars {
			high5 = math.Max(high5, bar.High)
		}
		stop = math.Max(high5, entry+b.risk.RAtrMult*atr)
	}
	stop = util.Round2(util.RoundToTick(stop, util.EquityTick))

	r := math.Abs(entry - stop)
	if r < entry*minRiskFrac {
		row.Pick = models.PickAbstain
		row.Reason = ReasonTightStop
		return row
	}
	qty := int(math.Floor(b.risk.PerTradeRs / r))
	if qty <= 0 {
		row.Pick = models.PickAbstain
		row.Reason = ReasonQtyZero
		return row
	}

	sign := 1.0
	if d.Pick == models.PickBear {
		sign = -1.0
	}
	row.Entry = util.Round2(entry)
	row.Stop = stop
	row.RPerShare = util.Round2(r)
	row.TP1 = util.Round2(entry + sign*r)
	row.TP2 = util.Round2(entry + sign*2*r)
	row.Qty = qty
	return row
}

// atr5 is the mean true range of the opening bars; the first bar's range is
// seeded with the prior close when available.
func atr5(bars []models.Bar, prevClose float64) float64 {
	var sum float64
	prev := prevClose
	for i, b := range bars {
		tr := b.High - b.Low
		// First bar falls back to plain range when no prior close exists.
		if i > 0 || prev > 0 {
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		sum += tr
		prev = b.Close
	}
	return sum / float64(len(bars))
}
