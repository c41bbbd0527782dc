package models

import (
	"fmt"
	"time"
)

// BarInterval is the canonical aggregation window.
const BarInterval = 5 * time.Minute

// Tick is a single trade observation delivered by a feed source. Volume is
// the quantity traded since the previous tick (replay puts the whole bar's
// volume on the closing tick).
type Tick struct {
	Symbol string
	TS     time.Time
	LTP    float64
	Volume int64
}

// OHLC is a compact open/high/low/close tuple, used for the running day
// aggregates published with each quote.
type OHLC struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// Quote is the latest observed state of one symbol: last traded price plus
// the running day aggregates maintained by the bar aggregator.
type Quote struct {
	LTP        float64   `json:"ltp"`
	OHLC       OHLC      `json:"ohlc"`
	Volume     int64     `json:"volume"`
	ChangePct  float64   `json:"change_pct"`
	LastUpdate time.Time `json:"last_update_ts"`
}

// Bar is a closed 5-minute OHLCV bar. Start is the window start on the
// 5-minute grid in IST; the window covers [Start, Start+BarInterval).
type Bar struct {
	Symbol string
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// End returns the exclusive end of the bar's window.
func (b Bar) End() time.Time {
	return b.Start.Add(BarInterval)
}

// Validate checks the grid alignment and OHLC ordering invariants.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar: empty symbol")
	}
	if !b.Start.Equal(WindowStart(b.Start)) {
		return fmt.Errorf("bar %s: start %s not aligned to %s grid", b.Symbol, b.Start, BarInterval)
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close || b.Low > b.High {
		return fmt.Errorf("bar %s @ %s: OHLC ordering violated (o=%.2f h=%.2f l=%.2f c=%.2f)",
			b.Symbol, b.Start.Format("15:04"), b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

// WindowStart maps a timestamp to the start of its 5-minute window. A tick
// exactly at a window boundary belongs to the window that begins there.
func WindowStart(ts time.Time) time.Time {
	return ts.Truncate(BarInterval)
}
