package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/state"
)

func TestPlanTable(t *testing.T) {
	snap := &models.Snapshot{
		Date: "2025-07-01", Status: models.SnapshotReady, Locked: true,
		PortfolioPlan: models.PortfolioPlan{
			ActiveTrades: 1, TotalPlannedRiskRs: 1000,
			Plans: []models.PlanRow{
				{Symbol: "ALPHA", Pick: models.PickBull, Confidence: 78, Level: "L3",
					Samples: 9, Entry: 100, Stop: 99.20, TP1: 100.80, TP2: 101.60, Qty: 1250},
				{Symbol: "BETA", Pick: models.PickAbstain, Level: "L3", Reason: "low_conf"},
			},
		},
	}
	var buf bytes.Buffer
	PlanTable(&buf, snap)
	out := buf.String()
	for _, want := range []string{"READY", "ALPHA", "BULL", "1250", "99.20", "low_conf"} {
		if !strings.Contains(out, want) {
			t.Fatalf("plan table missing %q:\n%s", want, out)
		}
	}
}

func TestDayTable(t *testing.T) {
	st := state.NewSystemState("SIM", "2025-07-01", true)
	st.Positions["ALPHA"] = &models.Position{
		Symbol: "ALPHA", Direction: models.DirectionBull, Status: models.PositionClosed,
		PlannedQty: 1250, EntryPrice: 100, ExitPrice: 100.20,
		ExitReason: models.ExitTime, RealizedPnL: 625,
	}
	st.Positions["BETA"] = &models.Position{
		Symbol: "BETA", Direction: models.DirectionBear, Status: models.PositionClosed,
		PlannedQty: 100, EntryPrice: 300, Cancelled: true, ExitReason: models.ExitTime,
	}
	st.RecomputePnL()

	var buf bytes.Buffer
	DayTable(&buf, st)
	out := buf.String()
	for _, want := range []string{"ALPHA", "TIME", "625.00", "CANCELLED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("day table missing %q:\n%s", want, out)
		}
	}
}

func TestFillsTable(t *testing.T) {
	fills := []models.Fill{
		{TS: "2025-07-01 09:41:30", Symbol: "ALPHA", Side: models.SideBuy,
			Reason: models.FillEntry, Qty: 1250, Price: 100},
	}
	var buf bytes.Buffer
	FillsTable(&buf, "2025-07-01", fills)
	if !strings.Contains(buf.String(), "ENTRY") {
		t.Fatalf("fills table missing reason:\n%s", buf.String())
	}
}
