package workflow

import (
	"fmt"
	"strings"
)

/*
Step is a named, independently invocable unit of work within a workflow
definition. Deps names the steps that must have succeeded before this one
starts; steps with disjoint dependencies run concurrently.

A step must be idempotent up to its storage write: the orchestrator re-runs
a step after a crash only if that step's completion was never checkpointed,
so Run must tolerate re-invocation with the same input. Once Advance has
recorded the step as succeeded, it is never re-run for the same run.

Fatal failures abort the run and trigger the definition's compensation.
Non-fatal failures are substituted with Fallback's output (or empty outputs
when Fallback is nil) and the run continues.
*/
type Step struct {
	Name  string
	Deps  []string
	Fatal bool

	Run      func(ctx *Context) (map[string]any, error)
	Fallback func(ctx *Context, cause error) map[string]any
}

// Definition is a workflow for one generation kind: an ordered/parallel step
// graph expressed as data. Compensate runs after a fatal step failure,
// before the run is marked failed.
type Definition struct {
	Kind  string
	Steps []Step

	Compensate func(ctx *Context, failedStep string, cause error)
}

// Validate checks the step graph: non-empty unique names, known deps, no
// cycles. Kahn topological order is the cycle check.
func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", d.Kind)
	}
	seen := map[string]bool{}
	for _, s := range d.Steps {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("workflow %q: step missing name", d.Kind)
		}
		if seen[name] {
			return fmt.Errorf("workflow %q: duplicate step name %q", d.Kind, name)
		}
		if s.Run == nil {
			return fmt.Errorf("workflow %q: step %q has no Run", d.Kind, name)
		}
		seen[name] = true
	}
	for _, s := range d.Steps {
		for _, dep := range s.Deps {
			if !seen[dep] {
				return fmt.Errorf("workflow %q: step %q depends on unknown step %q", d.Kind, s.Name, dep)
			}
		}
	}

	deg := map[string]int{}
	out := map[string][]string{}
	for _, s := range d.Steps {
		deg[s.Name] = len(s.Deps)
		for _, dep := range s.Deps {
			out[dep] = append(out[dep], s.Name)
		}
	}
	resolved := 0
	queue := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		if deg[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range out[name] {
			deg[next]--
			if deg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if resolved != len(d.Steps) {
		return fmt.Errorf("workflow %q: cycle in step graph", d.Kind)
	}
	return nil
}
