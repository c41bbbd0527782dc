package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/probedge/probedge/internal/util"
)

// tradeLogHeader matches the columns the EOD aggregation expects.
var tradeLogHeader = []string{
	"day", "mode", "symbol", "side", "qty", "entry", "stop", "target1", "target2",
	"entry_ts", "exit_ts", "exit_price", "exit_reason", "pnl_rs", "pnl_r",
	"planned_risk_rs", "daily_risk_rs", "strategy", "created_at",
}

// TradeRow is one completed round-trip for the flat trade log.
type TradeRow struct {
	Day           string
	Mode          string
	Symbol        string
	Side          string
	Qty           int
	Entry         float64
	Stop          float64
	Target1       float64
	Target2       float64
	EntryTS       string
	ExitTS        string
	ExitPrice     float64
	ExitReason    string
	PnLRs         float64
	PlannedRiskRs float64
	DailyRiskRs   float64
	Strategy      string
	CreatedAt     string
}

// AppendTrade appends one round-trip row to the CSV, writing the header
// when the file is new.
func AppendTrade(path string, row TradeRow) error {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 -- path derives from validated config
	if err != nil {
		return fmt.Errorf("opening trade log %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		if err := w.Write(tradeLogHeader); err != nil {
			return fmt.Errorf("writing trade log header: %w", err)
		}
	}

	// P&L in R units: realized rupees over the risk planned for the trade.
	pnlR := 0.0
	if row.PlannedRiskRs > 0 {
		pnlR = util.Round2(row.PnLRs / row.PlannedRiskRs)
	}

	rec := []string{
		row.Day, row.Mode, row.Symbol, row.Side,
		strconv.Itoa(row.Qty),
		fmt.Sprintf("%.2f", row.Entry),
		fmt.Sprintf("%.2f", row.Stop),
		fmt.Sprintf("%.2f", row.Target1),
		fmt.Sprintf("%.2f", row.Target2),
		row.EntryTS, row.ExitTS,
		fmt.Sprintf("%.2f", row.ExitPrice),
		row.ExitReason,
		fmt.Sprintf("%.2f", row.PnLRs),
		fmt.Sprintf("%.2f", pnlR),
		fmt.Sprintf("%.2f", row.PlannedRiskRs),
		fmt.Sprintf("%.2f", row.DailyRiskRs),
		row.Strategy, row.CreatedAt,
	}
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("appending trade row: %w", err)
	}
	w.Flush()
	return w.Error()
}
