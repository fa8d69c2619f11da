package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type scriptedGenerator struct {
	results map[string]map[string]any
	errs    map[string]error
	calls   []string
}

func (g *scriptedGenerator) GenerateObject(ctx context.Context, req ai.Request) (map[string]any, error) {
	g.calls = append(g.calls, req.Model)
	if err, ok := g.errs[req.Model]; ok {
		return nil, err
	}
	return g.results[req.Model], nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestGenerateStopsAtFirstSuccess(t *testing.T) {
	gen := &scriptedGenerator{
		errs: map[string]error{"model-a": errors.New("boom")},
		results: map[string]map[string]any{
			"model-b": {"title": "from b"},
			"model-c": {"title": "from c"},
		},
	}
	policy := ai.NewFallbackPolicy(testLogger(t), "model-a", []string{"model-b", "model-c"}, true, time.Second)

	out, model, err := policy.Generate(context.Background(), gen, ai.Request{SchemaName: "title"})
	require.NoError(t, err)
	require.Equal(t, "model-b", model)
	require.Equal(t, "from b", out["title"])
	require.Equal(t, []string{"model-a", "model-b"}, gen.calls, "third model must not be tried")
}

func TestGenerateExhaustsModelList(t *testing.T) {
	boom := errors.New("boom")
	gen := &scriptedGenerator{
		errs: map[string]error{"model-a": boom, "model-b": boom},
	}
	policy := ai.NewFallbackPolicy(testLogger(t), "model-a", []string{"model-b"}, true, time.Second)

	_, _, err := policy.Generate(context.Background(), gen, ai.Request{})
	require.ErrorIs(t, err, ai.ErrAllModelsFailed)
	require.Equal(t, []string{"model-a", "model-b"}, gen.calls)
}

func TestGenerateWithoutFallbackNeverTouchesList(t *testing.T) {
	gen := &scriptedGenerator{
		errs:    map[string]error{"model-a": errors.New("boom")},
		results: map[string]map[string]any{"model-b": {"title": "unused"}},
	}
	policy := ai.NewFallbackPolicy(testLogger(t), "model-a", []string{"model-b"}, false, time.Second)

	_, _, err := policy.Generate(context.Background(), gen, ai.Request{})
	require.ErrorIs(t, err, ai.ErrAllModelsFailed)
	require.Equal(t, []string{"model-a"}, gen.calls)
}

func TestGenerateRespectsCanceledContext(t *testing.T) {
	gen := &scriptedGenerator{results: map[string]map[string]any{"model-a": {}}}
	policy := ai.NewFallbackPolicy(testLogger(t), "model-a", nil, true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := policy.Generate(ctx, gen, ai.Request{})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, gen.calls)
}
