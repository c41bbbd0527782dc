// reset_state - Discard the persisted runtime state so the terminal starts
// the next session fresh. Pass -day to also drop that day's working plan
// snapshot; the archive copy under plan_snapshots/ is never touched.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/probedge/probedge/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	day := flag.String("day", "", "Also remove the working plan snapshot for this day (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	targets := []string{cfg.Paths.StateFile()}
	if *day != "" {
		targets = append(targets, cfg.Paths.PlanSnapshotFile(*day))
	}

	removed := 0
	for _, path := range targets {
		err := os.Remove(path)
		switch {
		case err == nil:
			fmt.Printf("✅ Removed %s\n", path)
			removed++
		case os.IsNotExist(err):
			fmt.Printf("ℹ️  Not present: %s\n", path)
		default:
			log.Fatalf("Failed to remove %s: %v", path, err)
		}
	}
	if removed == 0 {
		fmt.Println("Nothing to do.")
	}
}
