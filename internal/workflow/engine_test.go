package workflow_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/testutil"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/stream"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []stream.Event
	closed bool
}

func (p *capturePublisher) Publish(runID uuid.UUID, ev stream.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) Close(runID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *capturePublisher) snapshot() ([]stream.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stream.Event(nil), p.events...), p.closed
}

var subjectSeq int64 = 10_000

func newTestRun(t *testing.T, repo generation.RunRepo, kind string, state map[string]any) *types.GenerationRun {
	t.Helper()
	subjectSeq++
	run := &types.GenerationRun{Kind: kind, SubjectID: subjectSeq}
	if state != nil {
		raw, err := json.Marshal(state)
		require.NoError(t, err)
		run.State = datatypes.JSON(raw)
	}
	created, err := repo.Create(dbctx.Context{Ctx: context.Background()}, run)
	require.NoError(t, err)
	return created
}

func engineFixture(t *testing.T) (*workflow.Engine, generation.RunRepo, *capturePublisher, func(run *types.GenerationRun) *workflow.Context) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := generation.NewRunRepo(db, log)
	pub := &capturePublisher{}
	mkCtx := func(run *types.GenerationRun) *workflow.Context {
		return workflow.NewContext(context.Background(), db, run, repo, pub, log)
	}
	return workflow.NewEngine(log), repo, pub, mkCtx
}

func TestExecuteHonorsDependencyOrderAndCompletes(t *testing.T) {
	engine, repo, pub, mkCtx := engineFixture(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(c *workflow.Context) (map[string]any, error) {
		return func(c *workflow.Context) (map[string]any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	def := workflow.Definition{
		Kind: types.KindCourse,
		Steps: []workflow.Step{
			{Name: "a", Run: record("a")},
			{Name: "b", Deps: []string{"a"}, Run: record("b")},
			{Name: "c", Deps: []string{"a"}, Run: record("c")},
			{Name: "d", Deps: []string{"b", "c"}, Run: record("d")},
		},
	}

	run := newTestRun(t, repo, types.KindCourse, nil)
	require.NoError(t, engine.Execute(mkCtx(run), def))

	require.Len(t, order, 4)
	require.Equal(t, "a", order[0])
	require.Equal(t, "d", order[3])

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, got.Status)

	events, closed := pub.snapshot()
	require.True(t, closed, "stream must close on completion")

	// Per step: started strictly precedes completed.
	started := map[string]bool{}
	for _, ev := range events {
		switch ev.Status {
		case stream.StatusStarted:
			started[ev.Step] = true
		case stream.StatusCompleted:
			require.True(t, started[ev.Step], "completed before started for %s", ev.Step)
		}
	}
	for _, step := range []string{"a", "b", "c", "d"} {
		require.True(t, started[step], "missing started event for %s", step)
	}
}

func TestExecuteRunsIndependentStepsConcurrently(t *testing.T) {
	engine, repo, _, mkCtx := engineFixture(t)

	// Each side of the fan-out waits for the other; sequential execution
	// would time out.
	bReady := make(chan struct{})
	cReady := make(chan struct{})
	rendezvous := func(mine chan struct{}, other chan struct{}) func(c *workflow.Context) (map[string]any, error) {
		return func(c *workflow.Context) (map[string]any, error) {
			close(mine)
			select {
			case <-other:
				return nil, nil
			case <-time.After(5 * time.Second):
				return nil, workflow.NewStepError(workflow.ContentValidationFailed, context.DeadlineExceeded)
			}
		}
	}

	def := workflow.Definition{
		Kind: types.KindLesson,
		Steps: []workflow.Step{
			{Name: "a", Run: func(c *workflow.Context) (map[string]any, error) { return nil, nil }},
			{Name: "b", Deps: []string{"a"}, Fatal: true, Run: rendezvous(bReady, cReady)},
			{Name: "c", Deps: []string{"a"}, Fatal: true, Run: rendezvous(cReady, bReady)},
		},
	}

	run := newTestRun(t, repo, types.KindLesson, nil)
	require.NoError(t, engine.Execute(mkCtx(run), def))
}

func TestExecuteSubstitutesFallbackOnRecoverableFailure(t *testing.T) {
	engine, repo, pub, mkCtx := engineFixture(t)

	var downstream string
	def := workflow.Definition{
		Kind: types.KindChapter,
		Steps: []workflow.Step{
			{
				Name: "generate",
				Run: func(c *workflow.Context) (map[string]any, error) {
					return nil, workflow.NewStepError(workflow.AIGenerationFailed, context.DeadlineExceeded)
				},
				Fallback: func(c *workflow.Context, cause error) map[string]any {
					return map[string]any{"v": "fallback"}
				},
			},
			{
				Name: "consume",
				Deps: []string{"generate"},
				Run: func(c *workflow.Context) (map[string]any, error) {
					downstream = c.OutputString("generate", "v")
					return nil, nil
				},
			},
		},
	}

	run := newTestRun(t, repo, types.KindChapter, nil)
	require.NoError(t, engine.Execute(mkCtx(run), def))
	require.Equal(t, "fallback", downstream)

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, got.Status)

	events, _ := pub.snapshot()
	var sawError, sawCompletedForFailed bool
	for _, ev := range events {
		if ev.Step == "generate" && ev.Status == stream.StatusError {
			sawError = true
			require.Equal(t, "ai_generation_failed", ev.Reason)
		}
		if ev.Step == "generate" && ev.Status == stream.StatusCompleted {
			sawCompletedForFailed = true
		}
	}
	require.True(t, sawError, "recoverable failure must emit an error event")
	require.False(t, sawCompletedForFailed, "substituted step must not report completed")
}

func TestExecuteCompensatesOnFatalFailure(t *testing.T) {
	engine, repo, pub, mkCtx := engineFixture(t)

	var compensatedStep string
	def := workflow.Definition{
		Kind: types.KindActivity,
		Steps: []workflow.Step{
			{Name: "a", Run: func(c *workflow.Context) (map[string]any, error) { return nil, nil }},
			{
				Name:  "b",
				Deps:  []string{"a"},
				Fatal: true,
				Run: func(c *workflow.Context) (map[string]any, error) {
					return nil, workflow.NewStepError(workflow.ContentValidationFailed, nil)
				},
			},
		},
		Compensate: func(c *workflow.Context, failedStep string, cause error) {
			compensatedStep = failedStep
		},
	}

	run := newTestRun(t, repo, types.KindActivity, nil)
	require.Error(t, engine.Execute(mkCtx(run), def))
	require.Equal(t, "b", compensatedStep)

	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunFailed, got.Status)
	require.Equal(t, "b", got.CurrentStep)
	require.NotEmpty(t, got.Error)
	require.Equal(t, "content_validation_failed", got.ErrorKind)

	events, closed := pub.snapshot()
	require.True(t, closed, "stream must close on failure")
	var sawError bool
	for _, ev := range events {
		if ev.Step == "b" && ev.Status == stream.StatusError {
			sawError = true
			require.Equal(t, "content_validation_failed", ev.Reason)
		}
	}
	require.True(t, sawError)
}

func TestExecuteSkipsCheckpointedSteps(t *testing.T) {
	engine, repo, _, mkCtx := engineFixture(t)

	var ranA, ranB bool
	def := workflow.Definition{
		Kind: types.KindLesson,
		Steps: []workflow.Step{
			{Name: "a", Run: func(c *workflow.Context) (map[string]any, error) {
				ranA = true
				return nil, nil
			}},
			{Name: "b", Deps: []string{"a"}, Run: func(c *workflow.Context) (map[string]any, error) {
				ranB = true
				return map[string]any{"echo": c.OutputString("a", "token")}, nil
			}},
		},
	}

	// A prior process finished step a (with outputs) before dying.
	run := newTestRun(t, repo, types.KindLesson, map[string]any{
		"version": 1,
		"steps": map[string]any{
			"a": map[string]any{
				"name":    "a",
				"status":  "succeeded",
				"outputs": map[string]any{"token": "kept"},
			},
		},
	})

	c := mkCtx(run)
	require.NoError(t, engine.Execute(c, def))
	require.False(t, ranA, "checkpointed step must not re-run")
	require.True(t, ranB)
	require.Equal(t, "kept", c.OutputString("a", "token"), "checkpointed outputs must survive resume")
}
