// Package tags computes the three categorical session descriptors. All
// classifiers are pure functions of the previous session's OHLC and today's
// opening bars; the cutover scheduler decides when they run.
package tags

import (
	"math"

	"github.com/probedge/probedge/internal/masters"
	"github.com/probedge/probedge/internal/models"
)

const eps = 1e-9

// PDC thresholds. A narrow or small-bodied prior session reads as range.
const (
	pdcMinRangePct = 1.00
	pdcMinBodyFrac = 0.25
	pdcTrendBody   = 0.45
	pdcBullCLV     = 0.65
	pdcBearCLV     = 0.35
)

// OL band width as a fraction of the prior session's range.
const olBand = 0.30

// OT voting thresholds over the 09:15-09:40 bars.
const (
	otChopRangePct = 0.80
	otChopMovePct  = 0.30
	otChopOverlap  = 0.50
	otMoveVotePct  = 0.35
	otPosHigh      = 0.60
	otPosLow       = 0.40
	otDCountVote   = 2
	otScoreMin     = 2
)

// PDC classifies the previous session: where it closed within its range and
// how much of the range the body covered.
func PDC(prev masters.DayRow) models.Direction {
	rng := math.Max(eps, prev.High-prev.Low)
	rangePct := 100 * rng / math.Max(eps, prev.Close)
	bodyFrac := math.Abs(prev.Close-prev.Open) / rng
	clv := (prev.Close - prev.Low) / rng

	if rangePct <= pdcMinRangePct || bodyFrac <= pdcMinBodyFrac {
		return models.DirectionRange
	}
	if clv >= pdcBullCLV && bodyFrac >= pdcTrendBody {
		return models.DirectionBull
	}
	if clv <= pdcBearCLV && bodyFrac >= pdcTrendBody {
		return models.DirectionBear
	}
	return models.DirectionRange
}

// OL locates today's open against the previous session's range, with a
// 30%-of-range band at each extreme.
func OL(open float64, prev masters.DayRow) models.OpenLocation {
	rng := prev.High - prev.Low
	switch {
	case open < prev.Low:
		return models.OpenBelowRange
	case open > prev.High:
		return models.OpenAboveRange
	case open <= prev.Low+olBand*rng:
		return models.OpenOnLows
	case open >= prev.High-olBand*rng:
		return models.OpenOnHighs
	default:
		return models.OpenInMiddle
	}
}

// OT classifies the first 25 minutes by voting: net move, close position in
// the opening range, and up/down bar persistence, with a chop guard that
// short-circuits tight overlapping opens to TR. Needs all five opening bars.
func OT(bars []models.Bar) (models.Direction, bool) {
	if len(bars) < 5 {
		return models.DirectionRange, false
	}
	bars = bars[:5]

	open0 := bars[0].Open
	if open0 <= 0 {
		return models.DirectionRange, false
	}
	closeN := bars[4].Close
	maxH, minL := bars[0].High, bars[0].Low
	dcount := 0
	for _, b := range bars {
		maxH = math.Max(maxH, b.High)
		minL = math.Min(minL, b.Low)
		switch {
		case b.Close > b.Open:
			dcount++
		case b.Close < b.Open:
			dcount--
		}
	}

	movePct := 100 * (closeN - open0) / open0
	rangePct := 100 * (maxH - minL) / open0
	pos := 0.5
	if maxH-minL > eps {
		pos = (closeN - minL) / (maxH - minL)
	}

	if rangePct < otChopRangePct && math.Abs(movePct) < otChopMovePct && overlapRatio(bars) > otChopOverlap {
		return models.DirectionRange, true
	}

	score := 0
	if movePct >= otMoveVotePct {
		score++
	} else if movePct <= -otMoveVotePct {
		score--
	}
	if pos >= otPosHigh {
		score++
	} else if pos <= otPosLow {
		score--
	}
	if dcount >= otDCountVote {
		score++
	} else if dcount <= -otDCountVote {
		score--
	}

	switch {
	case score >= otScoreMin:
		return models.DirectionBull, true
	case score <= -otScoreMin:
		return models.DirectionBear, true
	default:
		return models.DirectionRange, true
	}
}

// overlapRatio is the mean intersection-over-union of consecutive bar
// ranges; near 1 means the bars sat on top of each other.
func overlapRatio(bars []models.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(bars); i++ {
		a, b := bars[i-1], bars[i]
		inter := math.Min(a.High, b.High) - math.Max(a.Low, b.Low)
		union := math.Max(a.High, b.High) - math.Min(a.Low, b.Low)
		if union <= eps {
			sum++
			continue
		}
		sum += math.Max(0, inter) / union
	}
	return sum / float64(len(bars)-1)
}
