package workflow

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
	"github.com/zoonk/zoonk-sub009/internal/stream"
)

// Resolver maps a run kind to its workflow definition. Unknown kinds
// report ok=false and the worker fails the run instead of crashing.
type Resolver func(kind string) (Definition, bool)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	StaleRunning time.Duration
	Heartbeat    time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 5 * time.Minute
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
	return c
}

/*
Worker polls the run store for runnable rows and executes them through the
engine. Claiming happens row-by-row under a locking read, so any number of
worker processes can share one database: a run is executed by exactly one
worker at a time, and a worker that dies simply stops heartbeating until
the claim query or the reaper picks the run back up.
*/
type Worker struct {
	db     *gorm.DB
	runs   generation.RunRepo
	pub    stream.Publisher
	engine *Engine
	defs   Resolver
	cfg    WorkerConfig
	log    *logger.Logger
}

func NewWorker(db *gorm.DB, runs generation.RunRepo, pub stream.Publisher, defs Resolver, cfg WorkerConfig, log *logger.Logger) *Worker {
	return &Worker{
		db:     db,
		runs:   runs,
		pub:    pub,
		engine: NewEngine(log),
		defs:   defs,
		cfg:    cfg.withDefaults(),
		log:    log.With("component", "GenerationWorker"),
	}
}

// Start launches the worker loops and returns. Loops exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.loop(ctx, i)
	}
	w.log.Info("worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval.String(),
	)
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := w.runs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.StaleRunning)
		if err != nil {
			log.Error("claim failed", "error", err.Error())
		}
		if run == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.execute(ctx, run, log)
	}
}

func (w *Worker) execute(ctx context.Context, run *types.GenerationRun, log *logger.Logger) {
	def, ok := w.defs(run.Kind)
	if !ok {
		log.Error("no workflow for kind; failing run", "run_id", run.ID.String(), "kind", run.Kind)
		_, _ = w.runs.Advance(dbctx.Context{Ctx: ctx}, run.ID, run.CurrentStep, types.RunFailed)
		if w.pub != nil {
			w.pub.Close(run.ID)
		}
		return
	}

	c := NewContext(ctx, w.db, run, w.runs, w.pub, log)

	hbCtx, stopHB := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, run, log)
	defer stopHB()

	log.Info("executing run",
		"run_id", run.ID.String(),
		"kind", run.Kind,
		"subject_id", run.SubjectID,
		"attempt", run.Attempts,
	)
	if err := w.engine.Execute(c, def); err != nil {
		log.Warn("run finished with error", "run_id", run.ID.String(), "error", err.Error())
	}
}

func (w *Worker) heartbeat(ctx context.Context, run *types.GenerationRun, log *logger.Logger) {
	t := time.NewTicker(w.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.runs.Heartbeat(dbctx.Context{Ctx: ctx}, run.ID); err != nil {
				log.Warn("heartbeat failed", "run_id", run.ID.String(), "error", err.Error())
			}
		}
	}
}
