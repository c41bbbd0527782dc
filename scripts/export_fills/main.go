// export_fills - Print one day's journaled fills as a table, straight from
// the sqlite journal. Read-only; safe to run while the terminal is live.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/journal"
	"github.com/probedge/probedge/internal/report"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	day := flag.String("day", "", "Trading day YYYY-MM-DD (default: today in IST)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	target := *day
	if target == "" {
		target = clock.FormatDay(time.Now().In(clock.IST()))
	}
	if _, err := time.Parse(clock.DayLayout, target); err != nil {
		log.Fatalf("Invalid -day: %v", err)
	}

	jnl, err := journal.Open(cfg.Paths.FillsDB())
	if err != nil {
		log.Fatalf("Failed to open fill journal: %v", err)
	}
	defer jnl.Close()

	fills, err := jnl.Fills(target)
	if err != nil {
		log.Fatalf("Failed to query fills: %v", err)
	}
	if len(fills) == 0 {
		fmt.Printf("No fills journaled for %s\n", target)
		return
	}
	report.FillsTable(os.Stdout, target, fills)
}
