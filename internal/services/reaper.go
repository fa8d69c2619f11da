package services

import (
	"context"
	"time"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type ReaperConfig struct {
	Interval     time.Duration
	StaleRunning time.Duration
	MaxAttempts  int
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

/*
Reaper sweeps runs that a dead worker left behind: running, heartbeat past
the stale window, claim attempts exhausted. Those will never be picked up
again, so the sweep flips them to failed, which also frees the per-subject
uniqueness slot for a retry trigger. Runs with attempts left are not touched;
the worker's claim query resumes them instead.
*/
type Reaper struct {
	runs generation.RunRepo
	cfg  ReaperConfig
	log  *logger.Logger
}

func NewReaper(runs generation.RunRepo, cfg ReaperConfig, log *logger.Logger) *Reaper {
	return &Reaper{
		runs: runs,
		cfg:  cfg.withDefaults(),
		log:  log.With("service", "RunReaper"),
	}
}

// Start launches the sweep loop and returns. The loop exits with ctx.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(r.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep(ctx)
			}
		}
	}()
	r.log.Info("reaper started",
		"interval", r.cfg.Interval.String(),
		"stale_running", r.cfg.StaleRunning.String(),
	)
}

func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.runs.FailStale(dbctx.Context{Ctx: ctx}, r.cfg.StaleRunning, r.cfg.MaxAttempts)
	if err != nil {
		r.log.Error("sweep failed", "error", err.Error())
		return
	}
	if n > 0 {
		r.log.Warn("failed abandoned runs", "count", n)
	}
}
