// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package autoscale periodically samples host load and resizes a
// replicawire client's connection pool within a configured floor and
// ceiling.
package autoscale

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/nishisan-dev/replicawire/internal/config"
	"github.com/nishisan-dev/replicawire/internal/logging"
)

// Resizer is the subset of *replicawire.Client the autoscaler needs.
type Resizer interface {
	Resize(maxActive int) error
}

// Config configures an Autoscaler.
type Config struct {
	Resizer      Resizer
	CronSchedule string // standard 5-field cron expression
	MinActive    int
	MaxActive    int

	// Logger's level is raised to Debug for the duration of a
	// load-driven scale-down and lowered back to Info once the pool
	// has recovered to MaxActive, via Logger.SetLevel.
	Logger *logging.Logger
}

// Autoscaler samples CPU and load-average on a cron schedule and
// resizes the pool between MinActive and MaxActive: high host load
// scales the pool down (fewer concurrent connections competing for
// CPU), low load scales it back up toward MaxActive.
type Autoscaler struct {
	cron   *cron.Cron
	cfg    Config
	logger *slog.Logger

	current   int
	debounced bool // true while Logger has been bumped to Debug for a scale-down
}

// New creates an Autoscaler. It does not start sampling until Start is
// called.
func New(cfg Config) (*Autoscaler, error) {
	if cfg.Logger == nil {
		cfg.Logger, _ = logging.New(config.LoggingInfo{Level: "info", Format: "json"})
	}
	logger := cfg.Logger.With("component", "autoscale")

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	a := &Autoscaler{cron: c, cfg: cfg, logger: logger, current: cfg.MaxActive}

	if _, err := c.AddFunc(cfg.CronSchedule, a.evaluate); err != nil {
		return nil, err
	}
	return a, nil
}

// Start begins the cron schedule.
func (a *Autoscaler) Start() {
	a.logger.Info("autoscaler started", "schedule", a.cfg.CronSchedule, "min", a.cfg.MinActive, "max", a.cfg.MaxActive)
	a.cron.Start()
}

// Stop stops the cron scheduler, then waits up to the given timeout for
// any in-flight evaluation to finish.
func (a *Autoscaler) Stop(timeout time.Duration) {
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(timeout):
		a.logger.Warn("autoscaler stop timed out")
	}
}

func (a *Autoscaler) evaluate() {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	} else {
		a.logger.Debug("failed to sample cpu", "error", err)
	}

	loadAvg := 0.0
	if l, err := load.Avg(); err == nil {
		loadAvg = l.Load1
	} else {
		a.logger.Debug("failed to sample load average", "error", err)
	}

	target := a.current
	switch {
	case cpuPct > 80:
		target--
	case cpuPct < 40 && loadAvg < 1:
		target++
	}
	if target < a.cfg.MinActive {
		target = a.cfg.MinActive
	}
	if target > a.cfg.MaxActive {
		target = a.cfg.MaxActive
	}
	if target == a.current {
		return
	}

	if err := a.cfg.Resizer.Resize(target); err != nil {
		a.logger.Warn("pool resize failed", "target", target, "error", err)
		return
	}
	a.logger.Info("pool resized", "from", a.current, "to", target, "cpu_percent", cpuPct, "load1", loadAvg)
	a.current = target

	switch {
	case target < a.cfg.MaxActive && !a.debounced:
		a.cfg.Logger.SetLevel(slog.LevelDebug)
		a.debounced = true
		a.logger.Debug("raised log level to debug for the duration of the scale-down")
	case target == a.cfg.MaxActive && a.debounced:
		a.cfg.Logger.SetLevel(slog.LevelInfo)
		a.debounced = false
		a.logger.Info("pool fully recovered, log level restored")
	}
}
