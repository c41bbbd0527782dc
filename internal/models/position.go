package models

import (
	"fmt"
	"strings"
)

// Side is the direction of a single fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason explains why a position (or part of it) left the book.
type ExitReason string

const (
	ExitStop    ExitReason = "SL"
	ExitTarget1 ExitReason = "TP1"
	ExitTarget2 ExitReason = "TP2"
	ExitTime    ExitReason = "TIME"
	ExitKill    ExitReason = "KILL"
)

// Valid returns true if the ExitReason is one of the defined constants.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStop, ExitTarget1, ExitTarget2, ExitTime, ExitKill:
		return true
	default:
		return false
	}
}

// FillReason labels a journal fill event. Exits reuse the ExitReason values.
type FillReason string

const (
	FillEntry   FillReason = "ENTRY"
	FillStop    FillReason = FillReason(ExitStop)
	FillTarget1 FillReason = FillReason(ExitTarget1)
	FillTarget2 FillReason = FillReason(ExitTarget2)
	FillTime    FillReason = FillReason(ExitTime)
	FillKill    FillReason = FillReason(ExitKill)
)

// Fill is one append-only journal row: a simulated execution event.
type Fill struct {
	ID     string     `json:"id"`
	Day    string     `json:"day"`
	Mode   string     `json:"mode"`
	Symbol string     `json:"symbol"`
	Side   Side       `json:"side"`
	Qty    int        `json:"qty"`
	Price  float64    `json:"price"`
	TS     string     `json:"ts"`
	Reason FillReason `json:"reason"`
	PnLRs  float64    `json:"pnl_rs"`
}

// Position is a live paper trade worked off one plan row. Qty is the
// remaining open quantity; PlannedQty is the original size from the plan.
type Position struct {
	Symbol      string         `json:"symbol"`
	Direction   Direction      `json:"direction"`
	Status      PositionStatus `json:"status"`
	Qty         int            `json:"qty"`
	PlannedQty  int            `json:"planned_qty"`
	EntryPrice  float64        `json:"entry_price"`
	Stop        float64        `json:"stop"`
	TP1         float64        `json:"tp1"`
	TP2         float64        `json:"tp2"`
	TP1Done     bool           `json:"tp1_done"`
	OpenPnL     float64        `json:"open_pnl_rs"`
	RealizedPnL float64        `json:"realized_pnl_rs"`
	ExitReason  ExitReason     `json:"exit_reason,omitempty"`
	ExitPrice   float64        `json:"exit_price,omitempty"`
	EntryTS     string         `json:"entry_ts,omitempty"`
	ExitTS      string         `json:"exit_ts,omitempty"`
	Cancelled   bool           `json:"cancelled,omitempty"`
}

// NewPosition creates a PENDING position from an active plan row.
func NewPosition(row PlanRow) (*Position, error) {
	var dir Direction
	switch row.Pick {
	case PickBull:
		dir = DirectionBull
	case PickBear:
		dir = DirectionBear
	default:
		return nil, fmt.Errorf("position %s: pick %s is not directional", row.Symbol, row.Pick)
	}
	if row.Qty <= 0 {
		return nil, fmt.Errorf("position %s: quantity must be positive (got %d)", row.Symbol, row.Qty)
	}
	return &Position{
		Symbol:     row.Symbol,
		Direction:  dir,
		Status:     PositionPending,
		Qty:        row.Qty,
		PlannedQty: row.Qty,
		EntryPrice: row.Entry,
		Stop:       row.Stop,
		TP1:        row.TP1,
		TP2:        row.TP2,
	}, nil
}

// Long returns true for BULL positions.
func (p *Position) Long() bool {
	return p.Direction == DirectionBull
}

// TransitionTo moves the position to a new status after checking the
// transition table.
func (p *Position) TransitionTo(to PositionStatus, condition string) error {
	if err := CheckTransition(p.Status, to, condition); err != nil {
		return fmt.Errorf("position %s: %w", p.Symbol, err)
	}
	p.Status = to
	return nil
}

// MarkOpen fills the pending entry at the planned entry price.
func (p *Position) MarkOpen(ts string) error {
	if err := p.TransitionTo(PositionOpen, "entry_filled"); err != nil {
		return err
	}
	p.EntryTS = ts
	return nil
}

// Cancel closes a PENDING position that never filled.
func (p *Position) Cancel(reason ExitReason, ts string) error {
	if err := p.TransitionTo(PositionClosed, "cancelled"); err != nil {
		return err
	}
	p.Cancelled = true
	p.ExitReason = reason
	p.ExitTS = ts
	p.Qty = 0
	p.OpenPnL = 0
	return nil
}

// PnLFor returns the signed P&L of closing qty shares at price.
func (p *Position) PnLFor(qty int, price float64) float64 {
	if p.Long() {
		return float64(qty) * (price - p.EntryPrice)
	}
	return float64(qty) * (p.EntryPrice - price)
}

// ApplyExit books a (possibly partial) exit. When the remaining quantity
// reaches zero the position transitions to CLOSED with the given reason.
func (p *Position) ApplyExit(qty int, price float64, reason ExitReason, ts string) error {
	if p.Status != PositionOpen {
		return fmt.Errorf("position %s: exit on %s position", p.Symbol, p.Status)
	}
	if qty <= 0 || qty > p.Qty {
		return fmt.Errorf("position %s: exit qty %d out of range (open %d)", p.Symbol, qty, p.Qty)
	}
	p.RealizedPnL += p.PnLFor(qty, price)
	p.Qty -= qty
	if p.Qty == 0 {
		if err := p.TransitionTo(PositionClosed, "exited"); err != nil {
			return err
		}
		p.ExitReason = reason
		p.ExitPrice = price
		p.ExitTS = ts
		p.OpenPnL = 0
	}
	return nil
}

// UpdateOpenPnL recomputes the mark-to-market P&L for the open quantity.
func (p *Position) UpdateOpenPnL(ltp float64) {
	if p.Status != PositionOpen {
		return
	}
	p.OpenPnL = p.PnLFor(p.Qty, ltp)
}

// ValidateState checks the per-status invariants. Violations are treated as
// fatal by the engine.
func (p *Position) ValidateState() error {
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: unknown status %q", p.Symbol, p.Status)
	}
	if p.Direction != DirectionBull && p.Direction != DirectionBear {
		return fmt.Errorf("position %s: direction must be BULL or BEAR (got %q)", p.Symbol, p.Direction)
	}
	switch p.Status {
	case PositionPending:
		if p.Qty <= 0 || p.Qty != p.PlannedQty {
			return fmt.Errorf("position %s PENDING: qty %d must equal planned %d and be positive", p.Symbol, p.Qty, p.PlannedQty)
		}
		if p.EntryTS != "" || p.ExitTS != "" || p.ExitReason != "" {
			return fmt.Errorf("position %s PENDING: lifecycle timestamps must be empty", p.Symbol)
		}
		if p.RealizedPnL != 0 {
			return fmt.Errorf("position %s PENDING: realized pnl must be zero (got %.2f)", p.Symbol, p.RealizedPnL)
		}
	case PositionOpen:
		if strings.TrimSpace(p.EntryTS) == "" {
			return fmt.Errorf("position %s OPEN: entry timestamp must be set", p.Symbol)
		}
		if p.Qty <= 0 || p.Qty > p.PlannedQty {
			return fmt.Errorf("position %s OPEN: qty %d out of range (planned %d)", p.Symbol, p.Qty, p.PlannedQty)
		}
		if p.ExitTS != "" || p.ExitReason != "" {
			return fmt.Errorf("position %s OPEN: exit fields must be empty", p.Symbol)
		}
		if p.RealizedPnL != 0 && !p.TP1Done {
			return fmt.Errorf("position %s OPEN: realized pnl without a TP1 partial", p.Symbol)
		}
	case PositionClosed:
		if !p.ExitReason.Valid() {
			return fmt.Errorf("position %s CLOSED: exit reason %q invalid", p.Symbol, p.ExitReason)
		}
		if p.Qty != 0 {
			return fmt.Errorf("position %s CLOSED: open qty must be zero (got %d)", p.Symbol, p.Qty)
		}
		if p.Cancelled {
			if p.EntryTS != "" || p.RealizedPnL != 0 {
				return fmt.Errorf("position %s CLOSED(cancelled): must have no entry or realized pnl", p.Symbol)
			}
		} else {
			if strings.TrimSpace(p.EntryTS) == "" || strings.TrimSpace(p.ExitTS) == "" {
				return fmt.Errorf("position %s CLOSED: entry and exit timestamps must be set", p.Symbol)
			}
		}
	}
	return nil
}

// Clone returns a copy safe to publish to readers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
