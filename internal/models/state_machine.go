package models

import "fmt"

// PositionStatus represents the lifecycle state of a paper position.
type PositionStatus string

const (
	PositionPending PositionStatus = "PENDING" // waiting for entry to be crossed
	PositionOpen    PositionStatus = "OPEN"    // entry filled, exits being worked
	PositionClosed  PositionStatus = "CLOSED"  // fully exited or cancelled
)

// Valid returns true if the PositionStatus is one of the defined constants.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionPending, PositionOpen, PositionClosed:
		return true
	default:
		return false
	}
}

// StateTransition defines one legal position transition.
type StateTransition struct {
	From        PositionStatus
	To          PositionStatus
	Condition   string
	Description string
}

// ValidTransitions enumerates every legal position transition. Anything not
// listed here is an invariant violation and halts trading.
var ValidTransitions = []StateTransition{
	{PositionPending, PositionOpen, "entry_filled", "Quote crossed entry in plan direction, limit fill at entry"},
	{PositionPending, PositionClosed, "cancelled", "Entry never crossed (TIME) or trading halted (KILL)"},
	{PositionOpen, PositionClosed, "exited", "Stop, final target, force-flat, or kill-switch exit"},
}

// transitionDefined reports whether (from, to, condition) appears in
// ValidTransitions.
func transitionDefined(from, to PositionStatus, condition string) bool {
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.To == to && tr.Condition == condition {
			return true
		}
	}
	return false
}

// CheckTransition validates a prospective transition without applying it.
func CheckTransition(from, to PositionStatus, condition string) error {
	if !transitionDefined(from, to, condition) {
		return fmt.Errorf("invalid position transition from %s to %s with condition %q", from, to, condition)
	}
	return nil
}
