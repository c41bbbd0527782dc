package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/terminal"
)

// Exit codes: 1 for config or runtime errors, 2 when no symbol has master
// data, so the supervisor can tell "fix the config" from "fetch the data".
const (
	exitErr       = 1
	exitNoMasters = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, day string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&day, "day", "", "Trading day YYYY-MM-DD (default: today in IST)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probedge: %v\n", err)
		return exitErr
	}
	logger := newLogger(cfg.Log)

	if day == "" {
		day = clock.FormatDay(time.Now().In(clock.IST()))
	}
	dayStart, err := time.ParseInLocation(clock.DayLayout, day, clock.IST())
	if err != nil {
		logger.WithError(err).Error("Invalid -day")
		return exitErr
	}

	var clk clock.Clock
	if cfg.IsSim() {
		clk = clock.NewSim(dayStart.Add(9 * time.Hour))
	} else {
		clk = clock.NewWall()
	}

	logger.WithFields(logrus.Fields{
		"mode":    cfg.Mode,
		"day":     day,
		"symbols": len(cfg.Symbols),
	}).Info("Starting decision terminal")

	t, err := terminal.New(cfg, clk, day, logger)
	if err != nil {
		logger.WithError(err).Error("Terminal startup failed")
		if errors.Is(err, terminal.ErrNoMasters) {
			return exitNoMasters
		}
		return exitErr
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsSim() {
		err = t.RunReplay(ctx)
	} else {
		err = t.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Terminal exited with error")
		return exitErr
	}
	logger.Info("Terminal stopped")
	return 0
}

// newLogger builds the process logger from the log config block.
func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
