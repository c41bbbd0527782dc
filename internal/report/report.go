// Package report renders the console tables printed at plan lock and at end
// of day.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/state"
)

// PlanTable prints the locked snapshot, one row per symbol.
func PlanTable(w io.Writer, snap *models.Snapshot) {
	fmt.Fprintf(w, "\nPlan %s — %s (locked=%v, active=%d, planned risk ₹%.0f)\n",
		snap.Date, snap.Status, snap.Locked,
		snap.PortfolioPlan.ActiveTrades, snap.PortfolioPlan.TotalPlannedRiskRs)

	table := tablewriter.NewWriter(w)
	table.Header("Symbol", "Pick", "Conf", "Lvl", "N", "Entry", "Stop", "TP1", "TP2", "Qty", "Reason")
	for _, row := range snap.PortfolioPlan.Plans {
		table.Append(
			row.Symbol,
			string(row.Pick),
			fmt.Sprintf("%d", row.Confidence),
			row.Level,
			fmt.Sprintf("%d", row.Samples),
			price(row.Entry),
			price(row.Stop),
			price(row.TP1),
			price(row.TP2),
			fmt.Sprintf("%d", row.Qty),
			row.Reason,
		)
	}
	table.Render()
}

// DayTable prints the end-of-day position summary with the P&L split.
func DayTable(w io.Writer, st *state.SystemState) {
	fmt.Fprintf(w, "\nDay %s — pnl ₹%.2f (realized ₹%.2f, open ₹%.2f), risk %s\n",
		st.Meta.Date, st.Meta.PnL.Day, st.Meta.PnL.Realized, st.Meta.PnL.Open,
		st.Meta.RiskState.Status)

	symbols := make([]string, 0, len(st.Positions))
	for sym := range st.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	table := tablewriter.NewWriter(w)
	table.Header("Symbol", "Side", "Status", "Qty", "Entry", "Exit", "Reason", "Realized ₹")
	for _, sym := range symbols {
		p := st.Positions[sym]
		exit := "-"
		if p.ExitPrice > 0 {
			exit = price(p.ExitPrice)
		}
		status := string(p.Status)
		if p.Cancelled {
			status = "CANCELLED"
		}
		table.Append(
			p.Symbol,
			string(p.Direction),
			status,
			fmt.Sprintf("%d", p.PlannedQty),
			price(p.EntryPrice),
			exit,
			string(p.ExitReason),
			fmt.Sprintf("%.2f", p.RealizedPnL),
		)
	}
	table.Render()
}

// FillsTable prints journaled fills in execution order.
func FillsTable(w io.Writer, day string, fills []models.Fill) {
	fmt.Fprintf(w, "\nFills %s (%d)\n", day, len(fills))
	table := tablewriter.NewWriter(w)
	table.Header("TS", "Symbol", "Side", "Reason", "Qty", "Price", "PnL ₹")
	for _, f := range fills {
		table.Append(
			f.TS,
			f.Symbol,
			string(f.Side),
			string(f.Reason),
			fmt.Sprintf("%d", f.Qty),
			price(f.Price),
			fmt.Sprintf("%.2f", f.PnLRs),
		)
	}
	table.Render()
}

func price(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
