package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
	"github.com/zoonk/zoonk-sub009/internal/stream"
)

/*
Context is the per-run execution environment handed to every step. Steps
read their inputs from the trigger payload and from upstream step outputs,
and are expected to do their own storage writes through DB.

State access is serialized internally; concurrent steps may call Output and
SaveState freely.
*/
type Context struct {
	Ctx context.Context
	DB  *gorm.DB
	Run *types.GenerationRun
	Log *logger.Logger

	runs generation.RunRepo
	pub  stream.Publisher

	mu    sync.Mutex
	state *RunState
}

func NewContext(ctx context.Context, db *gorm.DB, run *types.GenerationRun, runs generation.RunRepo, pub stream.Publisher, log *logger.Logger) *Context {
	return &Context{
		Ctx:   ctx,
		DB:    db,
		Run:   run,
		Log:   log.With("run_id", run.ID.String(), "kind", run.Kind),
		runs:  runs,
		pub:   pub,
		state: LoadState(run),
	}
}

func (c *Context) dbc() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

// Payload decodes the trigger payload into out. Steps call this with a
// kind-specific struct.
func (c *Context) Payload(out any) error {
	if len(c.Run.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(c.Run.Payload, out)
}

// Output returns a value an upstream step recorded, and whether it exists.
func (c *Context) Output(stepName, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss := c.state.Steps[stepName]
	if ss == nil || ss.Outputs == nil {
		return nil, false
	}
	v, ok := ss.Outputs[key]
	return v, ok
}

// OutputString is Output narrowed to strings; JSON round-trips leave most
// checkpoint values as strings or float64.
func (c *Context) OutputString(stepName, key string) string {
	v, ok := c.Output(stepName, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c *Context) OutputInt64(stepName, key string) int64 {
	v, ok := c.Output(stepName, key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func (c *Context) stepState(name string) StepState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss := c.state.Steps[name]
	if ss == nil {
		return StepState{Name: name, Status: stepPending}
	}
	return *ss
}

func (c *Context) markRunning(name string) {
	now := time.Now()
	c.mu.Lock()
	ss := c.state.EnsureStep(name)
	ss.Status = stepRunning
	ss.Attempts++
	ss.StartedAt = &now
	c.mu.Unlock()
}

func (c *Context) markSucceeded(name string, outputs map[string]any) {
	now := time.Now()
	c.mu.Lock()
	ss := c.state.EnsureStep(name)
	ss.Status = stepSucceeded
	ss.FinishedAt = &now
	ss.LastError = ""
	for k, v := range outputs {
		ss.Outputs[k] = v
	}
	c.mu.Unlock()
}

func (c *Context) markFailed(name string, cause error) {
	now := time.Now()
	c.mu.Lock()
	ss := c.state.EnsureStep(name)
	ss.Status = stepFailed
	ss.FinishedAt = &now
	if cause != nil {
		ss.LastError = cause.Error()
	}
	c.mu.Unlock()
}

// SaveState flushes the in-memory checkpoint to the run row. The guarded
// update means a run that went terminal elsewhere is never resurrected.
func (c *Context) SaveState() error {
	c.mu.Lock()
	raw := encodeState(c.state)
	c.mu.Unlock()
	_, err := c.runs.UpdateFieldsUnlessTerminal(c.dbc(), c.Run.ID, map[string]interface{}{
		"state":        raw,
		"heartbeat_at": time.Now(),
	})
	return err
}

func (c *Context) advance(stepName, status string) error {
	_, err := c.runs.Advance(c.dbc(), c.Run.ID, stepName, status)
	return err
}

func (c *Context) publish(step string, status stream.Status, reason string) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(c.Run.ID, stream.Event{
		Step:   step,
		Status: status,
		Reason: reason,
		At:     time.Now(),
	})
}
