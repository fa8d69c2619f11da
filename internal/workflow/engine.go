package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
	"github.com/zoonk/zoonk-sub009/internal/stream"
)

/*
Engine executes a Definition against a claimed run. Execution proceeds in
waves: each wave is the ready set (steps whose dependencies have all
succeeded and that are not yet checkpointed as succeeded), run concurrently,
with the checkpoint flushed after every transition. A resumed run therefore
skips finished steps and re-runs only the interrupted ones.

Failure handling follows the step's Fatal flag. Non-fatal failures emit an
error event, substitute the step's Fallback output and keep going. A fatal
failure cancels the wave, runs the definition's compensation, marks the run
failed and closes the stream.
*/
type Engine struct {
	log *logger.Logger
}

func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log.With("component", "WorkflowEngine")}
}

// fatalStepError carries the failing step through errgroup so the engine
// can attribute compensation and the terminal cursor.
type fatalStepError struct {
	step  string
	cause error
}

func (e *fatalStepError) Error() string {
	return fmt.Sprintf("step %s failed fatally: %v", e.step, e.cause)
}

func (e *fatalStepError) Unwrap() error { return e.cause }

func (e *Engine) Execute(c *Context, def Definition) error {
	if err := def.Validate(); err != nil {
		return e.abort(c, "", err)
	}
	if def.Kind != c.Run.Kind {
		return e.abort(c, "", fmt.Errorf("definition kind %q does not match run kind %q", def.Kind, c.Run.Kind))
	}

	baseCtx := c.Ctx
	for {
		ready, remaining := e.readySet(c, def)
		if len(ready) == 0 {
			if remaining == 0 {
				return e.finish(c, def)
			}
			// Remaining steps all have a failed dependency in the
			// checkpoint. Validate rules out cycles, so this only
			// happens when a prior process died mid-failure; treat
			// it as fatal without a step to blame.
			return e.abort(c, c.Run.CurrentStep, errors.New("no runnable steps remain"))
		}

		group, gctx := errgroup.WithContext(baseCtx)
		c.Ctx = gctx
		for _, s := range ready {
			step := s
			group.Go(func() error {
				return e.runStep(c, step)
			})
		}
		err := group.Wait()
		c.Ctx = baseCtx
		if err != nil {
			var fatal *fatalStepError
			if errors.As(err, &fatal) {
				return e.compensateAndFail(c, def, fatal)
			}
			return e.abort(c, c.Run.CurrentStep, err)
		}
	}
}

// readySet returns the steps runnable now and the count of steps still not
// succeeded (including the ready ones).
func (e *Engine) readySet(c *Context, def Definition) ([]Step, int) {
	var ready []Step
	remaining := 0
	for _, s := range def.Steps {
		if c.stepState(s.Name).Status == stepSucceeded {
			continue
		}
		remaining++
		ok := true
		for _, dep := range s.Deps {
			if c.stepState(dep).Status != stepSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready, remaining
}

func (e *Engine) runStep(c *Context, s Step) error {
	c.markRunning(s.Name)
	c.publish(s.Name, stream.StatusStarted, "")
	if err := c.advance(s.Name, types.RunRunning); err != nil {
		return err
	}
	if err := c.SaveState(); err != nil {
		return err
	}

	outputs, err := s.Run(c)
	if err != nil {
		// A sibling's fatal failure cancels the wave context; steps
		// interrupted that way are not failures of their own and emit
		// nothing.
		if c.Ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return err
		}
		if s.Fatal {
			c.markFailed(s.Name, err)
			c.publish(s.Name, stream.StatusError, Reason(err))
			_ = c.SaveState()
			return &fatalStepError{step: s.Name, cause: err}
		}

		c.Log.Warn("step failed; substituting fallback output",
			"step", s.Name,
			"reason", Reason(err),
			"error", err.Error(),
		)
		c.publish(s.Name, stream.StatusError, Reason(err))
		var sub map[string]any
		if s.Fallback != nil {
			sub = s.Fallback(c, err)
		}
		c.markSucceeded(s.Name, sub)
		return c.SaveState()
	}

	c.markSucceeded(s.Name, outputs)
	c.publish(s.Name, stream.StatusCompleted, "")
	return c.SaveState()
}

func (e *Engine) finish(c *Context, def Definition) error {
	last := ""
	if n := len(def.Steps); n > 0 {
		last = def.Steps[n-1].Name
	}
	if err := c.SaveState(); err != nil {
		return err
	}
	if err := c.advance(last, types.RunCompleted); err != nil {
		return err
	}
	if c.pub != nil {
		c.pub.Close(c.Run.ID)
	}
	c.Log.Info("run completed", "steps", len(def.Steps))
	return nil
}

func (e *Engine) compensateAndFail(c *Context, def Definition, fatal *fatalStepError) error {
	if def.Compensate != nil {
		// Compensation runs on the base context: the wave context was
		// canceled by the failure itself.
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.Log.Error("compensation panicked", "step", fatal.step, "panic", fmt.Sprint(r))
				}
			}()
			def.Compensate(c, fatal.step, fatal.cause)
		}()
	}
	return e.fail(c, fatal.step, fatal.cause)
}

// abort marks the run failed without compensation, for engine-level errors
// (invalid definition, lost database) rather than step failures.
func (e *Engine) abort(c *Context, step string, cause error) error {
	return e.fail(c, step, cause)
}

func (e *Engine) fail(c *Context, step string, cause error) error {
	now := time.Now()
	_, _ = c.runs.UpdateFieldsUnlessTerminal(c.dbc(), c.Run.ID, map[string]interface{}{
		"error":         cause.Error(),
		"error_kind":    Reason(cause),
		"last_error_at": now,
		"state":         encodeState(c.state),
	})
	if err := c.advance(step, types.RunFailed); err != nil {
		c.Log.Error("failed to mark run failed", "step", step, "error", err.Error())
	}
	if c.pub != nil {
		c.pub.Close(c.Run.ID)
	}
	c.Log.Error("run failed", "step", step, "error", cause.Error())
	return cause
}
