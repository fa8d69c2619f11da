package workflow

import (
	"encoding/json"
	"time"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
)

type stepStatus string

const (
	stepPending   stepStatus = "pending"
	stepRunning   stepStatus = "running"
	stepSucceeded stepStatus = "succeeded"
	stepFailed    stepStatus = "failed"
)

type StepState struct {
	Name       string         `json:"name"`
	Status     stepStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
}

// RunState is the per-run checkpoint persisted into generation_run.state
// after every step transition. It is what makes step completion durable:
// a resumed run skips steps already recorded as succeeded.
type RunState struct {
	Version int                   `json:"version"`
	Steps   map[string]*StepState `json:"steps"`
}

func (s *RunState) ensure() {
	if s.Version <= 0 {
		s.Version = 1
	}
	if s.Steps == nil {
		s.Steps = map[string]*StepState{}
	}
}

func (s *RunState) EnsureStep(name string) *StepState {
	s.ensure()
	ss := s.Steps[name]
	if ss == nil {
		ss = &StepState{Name: name, Status: stepPending}
		s.Steps[name] = ss
	}
	if ss.Outputs == nil {
		ss.Outputs = map[string]any{}
	}
	return ss
}

// LoadState decodes the checkpoint stored on the run row. An absent or
// unreadable state yields a fresh one; resumption then re-runs everything,
// which the idempotence contract makes safe.
func LoadState(run *types.GenerationRun) *RunState {
	st := &RunState{}
	if run != nil && len(run.State) > 0 {
		_ = json.Unmarshal(run.State, st)
	}
	st.ensure()
	return st
}

func encodeState(st *RunState) []byte {
	if st == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return []byte("{}")
	}
	return b
}
