// Command replay reruns one recorded trading day through the terminal on a
// simulated clock, regardless of the configured mode. The same inputs and
// seed always reproduce the same state, snapshot and journal artifacts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/terminal"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, day string
	var reset bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&day, "day", "", "Trading day YYYY-MM-DD to replay (required)")
	flag.BoolVar(&reset, "reset", false, "Discard persisted live state before replaying")
	flag.Parse()

	if day == "" {
		fmt.Fprintln(os.Stderr, "replay: -day is required")
		return 1
	}
	dayStart, err := time.ParseInLocation(clock.DayLayout, day, clock.IST())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	cfg.Mode = config.ModeSim
	if reset {
		cfg.ResetState = true
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	sim := clock.NewSim(dayStart.Add(9 * time.Hour))
	t, err := terminal.New(cfg, sim, day, logger)
	if err != nil {
		logger.WithError(err).Error("Replay startup failed")
		if errors.Is(err, terminal.ErrNoMasters) {
			return 2
		}
		return 1
	}
	defer t.Close()

	if err := t.RunReplay(context.Background()); err != nil {
		logger.WithError(err).Error("Replay failed")
		return 1
	}
	return 0
}
