package models

// Pick is the daily directional bet for one symbol.
type Pick string

const (
	PickBull    Pick = "BULL"
	PickBear    Pick = "BEAR"
	PickAbstain Pick = "ABSTAIN"
)

// Valid returns true if the Pick is one of the defined constants.
func (p Pick) Valid() bool {
	switch p {
	case PickBull, PickBear, PickAbstain:
		return true
	default:
		return false
	}
}

// Directional returns true for BULL or BEAR picks.
func (p Pick) Directional() bool {
	return p == PickBull || p == PickBear
}

// SnapshotStatus is the lifecycle state of the day's plan snapshot.
type SnapshotStatus string

const (
	SnapshotMissing      SnapshotStatus = "MISSING"
	SnapshotBuilding     SnapshotStatus = "BUILDING"
	SnapshotReady        SnapshotStatus = "READY"
	SnapshotReadyPartial SnapshotStatus = "READY_PARTIAL"
	SnapshotFailed       SnapshotStatus = "FAILED"
)

// Executable reports whether positions may be worked off a snapshot in this
// status.
func (s SnapshotStatus) Executable() bool {
	return s == SnapshotReady || s == SnapshotReadyPartial
}

// PlanTags echoes the session tags a plan row was derived from, in the
// long-form names the snapshot artifact uses.
type PlanTags struct {
	PrevDayContext string `json:"PrevDayContext"`
	OpenLocation   string `json:"OpenLocation"`
	OpeningTrend   string `json:"OpeningTrend"`
}

// PlanRow is one symbol's directive for the day. ABSTAIN rows keep their
// tags, confidence, level, and a reason, with zero prices and quantity.
type PlanRow struct {
	Symbol     string   `json:"symbol"`
	Pick       Pick     `json:"pick"`
	Confidence int      `json:"confidence"`
	Level      string   `json:"level"`
	Samples    int      `json:"samples"`
	Entry      float64  `json:"entry"`
	Stop       float64  `json:"stop"`
	TP1        float64  `json:"tp1"`
	TP2        float64  `json:"tp2"`
	Qty        int      `json:"qty"`
	RPerShare  float64  `json:"r_per_share"`
	Reason     string   `json:"reason,omitempty"`
	Tags       PlanTags `json:"tags"`
}

// Active returns true when the row should spawn a position: a directional
// pick with a workable stop and size.
func (r PlanRow) Active() bool {
	return r.Pick.Directional() && r.Qty > 0 && r.RPerShare > 0
}

// PortfolioPlan aggregates the day's plan rows with the risk budget split.
type PortfolioPlan struct {
	Date               string    `json:"date"`
	DailyRiskRs        float64   `json:"daily_risk_rs"`
	RiskPerTradeRs     float64   `json:"risk_per_trade_rs"`
	TotalPlannedRiskRs float64   `json:"total_planned_risk_rs"`
	ActiveTrades       int       `json:"active_trades"`
	Plans              []PlanRow `json:"plans"`
}

// Snapshot is the immutable per-day plan artifact. Once Locked with an
// executable status, no field may change for the rest of the day.
type Snapshot struct {
	Date          string         `json:"date"`
	Mode          string         `json:"mode"`
	BuiltAt       string         `json:"built_at"`
	Status        SnapshotStatus `json:"status"`
	Locked        bool           `json:"locked"`
	PortfolioPlan PortfolioPlan  `json:"portfolio_plan"`
}

// Row returns the plan row for a symbol, if present.
func (s *Snapshot) Row(symbol string) (PlanRow, bool) {
	for _, r := range s.PortfolioPlan.Plans {
		if r.Symbol == symbol {
			return r, true
		}
	}
	return PlanRow{}, false
}

// Clone returns a deep copy, so readers can hold a snapshot without
// aliasing the store's plans slice.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.PortfolioPlan.Plans = make([]PlanRow, len(s.PortfolioPlan.Plans))
	copy(out.PortfolioPlan.Plans, s.PortfolioPlan.Plans)
	return &out
}
