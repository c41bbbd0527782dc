// Package models provides the data structures shared across the terminal:
// session tags, bars, quotes, plan rows, snapshots, positions, and fills.
package models

// Direction is a categorical session label used by the PDC and OT tags and
// by directional picks.
type Direction string

const (
	DirectionBull  Direction = "BULL"
	DirectionBear  Direction = "BEAR"
	DirectionRange Direction = "TR"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBull, DirectionBear, DirectionRange:
		return true
	default:
		return false
	}
}

// OpenLocation describes where today's 09:15 open printed relative to the
// previous session's range.
type OpenLocation string

const (
	OpenAboveRange OpenLocation = "OAR" // open above the previous high
	OpenOnHighs    OpenLocation = "OOH" // open in the upper band of the range
	OpenInMiddle   OpenLocation = "OIM" // open inside the middle of the range
	OpenOnLows     OpenLocation = "OOL" // open in the lower band of the range
	OpenBelowRange OpenLocation = "OBR" // open below the previous low
)

// Valid returns true if the OpenLocation is one of the defined constants.
func (o OpenLocation) Valid() bool {
	switch o {
	case OpenAboveRange, OpenOnHighs, OpenInMiddle, OpenOnLows, OpenBelowRange:
		return true
	default:
		return false
	}
}

// TagStage tracks how far a symbol's tag set has progressed through the
// morning cutovers. The progression is strictly monotone and resets daily.
type TagStage string

const (
	StageNone   TagStage = "NONE"
	StagePDCSet TagStage = "PDC_SET"
	StageOLSet  TagStage = "OL_SET"
	StageOTSet  TagStage = "OT_SET"
)

// SessionTags holds the three per-symbol session tags. A nil field means the
// tag's cutover has not fired yet or its inputs were missing.
type SessionTags struct {
	PDC *Direction    `json:"PDC"`
	OL  *OpenLocation `json:"OL"`
	OT  *Direction    `json:"OT"`
}

// TagTimes records when each tag was computed (IST, set by the classifier).
type TagTimes struct {
	PDC string `json:"PDC,omitempty"`
	OL  string `json:"OL,omitempty"`
	OT  string `json:"OT,omitempty"`
}

// Stage derives the monotone tag stage from which fields have been set.
func (t SessionTags) Stage() TagStage {
	switch {
	case t.OT != nil:
		return StageOTSet
	case t.OL != nil:
		return StageOLSet
	case t.PDC != nil:
		return StagePDCSet
	default:
		return StageNone
	}
}

// Complete returns true when all three tags are set.
func (t SessionTags) Complete() bool {
	return t.PDC != nil && t.OL != nil && t.OT != nil
}

// DirectionPtr is a convenience for building SessionTags literals.
func DirectionPtr(d Direction) *Direction { return &d }

// OpenLocationPtr is a convenience for building SessionTags literals.
func OpenLocationPtr(o OpenLocation) *OpenLocation { return &o }
