// Package state owns the single shared runtime snapshot: quotes, tags, plan
// status, positions, P&L, risk state, and agent heartbeats. Writers apply
// small deltas that publish a fresh immutable copy; readers dereference the
// current copy lock-free. Disk is a persistence side-effect, never a channel
// between components.
package state

import (
	"github.com/probedge/probedge/internal/models"
)

// Risk state values surfaced in meta.risk_state.status.
const (
	RiskNormal = "NORMAL"
	RiskHalted = "HALTED"
)

// Agent health grades.
const (
	AgentOK   = "OK"
	AgentWarn = "WARN"
	AgentDown = "DOWN"
)

// Worse returns the more severe of two agent grades.
func Worse(a, b string) string {
	rank := map[string]int{AgentOK: 0, AgentWarn: 1, AgentDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// PnL is the running profit split published in meta.pnl, in rupees.
type PnL struct {
	Day      float64 `json:"day"`
	Open     float64 `json:"open"`
	Realized float64 `json:"realized"`
}

// RiskState reports whether new entries are allowed and why not.
type RiskState struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// AgentHB is one component's liveness record.
type AgentHB struct {
	Status          string `json:"status"`
	LastHeartbeatTS string `json:"last_heartbeat_ts"`
}

// Meta is the header block of the live state document.
type Meta struct {
	Mode               string                `json:"mode"`
	Date               string                `json:"date"`
	Clock              string                `json:"clock"`
	Sim                bool                  `json:"sim"`
	PlanStatus         models.SnapshotStatus `json:"plan_status"`
	PlanBuiltAt        string                `json:"plan_built_at,omitempty"`
	PlanLocked         bool                  `json:"plan_locked"`
	DailyRiskRs        float64               `json:"daily_risk_rs"`
	RiskPerTradeRs     float64               `json:"risk_per_trade_rs"`
	TotalPlannedRiskRs float64               `json:"total_planned_risk_rs"`
	ActiveTrades       int                   `json:"active_trades"`
	PnL                PnL                   `json:"pnl"`
	RiskState          RiskState             `json:"risk_state"`
	BatchAgent         AgentHB               `json:"batch_agent"`
	KillSwitch         bool                  `json:"kill_switch"`
}

// SystemState is the whole shared document, serialized as live_state.json.
// Instances published by the Store are immutable; mutate only inside an
// Apply delta.
type SystemState struct {
	Meta      Meta                          `json:"meta"`
	Quotes    map[string]models.Quote       `json:"quotes"`
	Tags      map[string]models.SessionTags `json:"tags"`
	TagsMeta  map[string]models.TagTimes    `json:"tags_meta"`
	Positions map[string]*models.Position   `json:"positions"`
	Agents    map[string]AgentHB            `json:"agents"`
	Version   uint64                        `json:"version"`
}

// NewSystemState returns an empty document for a fresh trading day.
func NewSystemState(mode, date string, sim bool) *SystemState {
	return &SystemState{
		Meta: Meta{
			Mode:       mode,
			Date:       date,
			Sim:        sim,
			PlanStatus: models.SnapshotMissing,
			RiskState:  RiskState{Status: RiskNormal},
			BatchAgent: AgentHB{Status: AgentOK},
		},
		Quotes:    make(map[string]models.Quote),
		Tags:      make(map[string]models.SessionTags),
		TagsMeta:  make(map[string]models.TagTimes),
		Positions: make(map[string]*models.Position),
		Agents:    make(map[string]AgentHB),
	}
}

// clone deep-copies the document so a delta can mutate freely before the
// swap. Positions are copied by value; everything else is plain data.
func (s *SystemState) clone() *SystemState {
	out := *s
	out.Quotes = make(map[string]models.Quote, len(s.Quotes))
	for k, v := range s.Quotes {
		out.Quotes[k] = v
	}
	out.Tags = make(map[string]models.SessionTags, len(s.Tags))
	for k, v := range s.Tags {
		out.Tags[k] = v
	}
	out.TagsMeta = make(map[string]models.TagTimes, len(s.TagsMeta))
	for k, v := range s.TagsMeta {
		out.TagsMeta[k] = v
	}
	out.Positions = make(map[string]*models.Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v.Clone()
	}
	out.Agents = make(map[string]AgentHB, len(s.Agents))
	for k, v := range s.Agents {
		out.Agents[k] = v
	}
	return &out
}

// RecomputePnL refreshes the meta.pnl block from the position book. Callers
// invoke it inside the same delta that changed positions.
func (s *SystemState) RecomputePnL() {
	var open, realized float64
	for _, p := range s.Positions {
		open += p.OpenPnL
		realized += p.RealizedPnL
	}
	s.Meta.PnL = PnL{Day: open + realized, Open: open, Realized: realized}
}
