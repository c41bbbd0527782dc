package freq

import (
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/models"
)

// Abstain reasons recorded on plan rows.
const (
	ReasonLowConf = "low_conf"
	ReasonLowN    = "low_n"
	ReasonTRGuard = "tr_guard"
	ReasonNoTags  = "no_tags"
)

// Decision is the picker's output for one symbol.
type Decision struct {
	Pick       models.Pick
	Confidence float64 // [0,1] at the level used
	Level      string
	Samples    int
	Reason     string // set when Pick is ABSTAIN
}

// Picker walks the L3→L0 fallback ladder with the configured sample minimums.
type Picker struct {
	cfg config.PickerConfig
}

// NewPicker builds a picker from the configured thresholds.
func NewPicker(cfg config.PickerConfig) *Picker {
	return &Picker{cfg: cfg}
}

// Pick chooses the day's bias for one symbol. The ladder stops at the first
// level whose sample count meets its minimum; confidence below conf_min
// abstains, and a TR opening trend additionally requires L3 itself to clear
// the trend-range guard.
func (p *Picker) Pick(t *Table, symbol string, tags models.SessionTags) Decision {
	if !tags.Complete() {
		return Decision{Pick: models.PickAbstain, Reason: ReasonNoTags}
	}
	pdc, ol, ot := *tags.PDC, *tags.OL, *tags.OT

	ladder := []struct {
		level string
		key   string
		nmin  int
	}{
		{LevelL3, KeyL3(pdc, ol, ot), p.cfg.NMinL3},
		{LevelL2, KeyL2(ol, ot), p.cfg.NMinL2},
		{LevelL2PDC, KeyL2PDC(pdc, ot), p.cfg.NMinL2},
		{LevelL1, KeyL1(ot), p.cfg.NMinL1},
		{LevelL0, KeyL0(), p.cfg.NMinL0},
	}

	var chosen *Decision
	for _, rung := range ladder {
		c := t.Lookup(symbol, rung.key)
		if c.Total() < rung.nmin {
			continue
		}
		pick, conf := c.Majority()
		chosen = &Decision{Pick: pick, Confidence: conf, Level: rung.level, Samples: c.Total()}
		break
	}
	if chosen == nil {
		return Decision{Pick: models.PickAbstain, Level: LevelL0, Reason: ReasonLowN}
	}

	if ot == models.DirectionRange {
		l3 := t.Lookup(symbol, KeyL3(pdc, ol, ot))
		_, l3conf := l3.Majority()
		if l3.Total() < p.cfg.NMinL3 || l3conf < p.cfg.TRGuardConf {
			chosen.Pick = models.PickAbstain
			chosen.Reason = ReasonTRGuard
			return *chosen
		}
	}

	if chosen.Confidence < p.cfg.ConfMin {
		chosen.Pick = models.PickAbstain
		chosen.Reason = ReasonLowConf
	}
	return *chosen
}
