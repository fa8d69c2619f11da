package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopRun(c *Context) (map[string]any, error) { return nil, nil }

func TestValidateAcceptsDiamondGraph(t *testing.T) {
	def := Definition{
		Kind: "course",
		Steps: []Step{
			{Name: "a", Run: noopRun},
			{Name: "b", Deps: []string{"a"}, Run: noopRun},
			{Name: "c", Deps: []string{"a"}, Run: noopRun},
			{Name: "d", Deps: []string{"b", "c"}, Run: noopRun},
		},
	}
	require.NoError(t, def.Validate())
}

func TestValidateRejectsBadGraphs(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
	}{
		{"empty", Definition{Kind: "course"}},
		{"missing name", Definition{Kind: "course", Steps: []Step{{Name: " ", Run: noopRun}}}},
		{"duplicate name", Definition{Kind: "course", Steps: []Step{
			{Name: "a", Run: noopRun},
			{Name: "a", Run: noopRun},
		}}},
		{"nil run", Definition{Kind: "course", Steps: []Step{{Name: "a"}}}},
		{"unknown dep", Definition{Kind: "course", Steps: []Step{
			{Name: "a", Deps: []string{"ghost"}, Run: noopRun},
		}}},
		{"cycle", Definition{Kind: "course", Steps: []Step{
			{Name: "a", Deps: []string{"b"}, Run: noopRun},
			{Name: "b", Deps: []string{"a"}, Run: noopRun},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.def.Validate())
		})
	}
}

func TestReasonExtractsTaxonomyKind(t *testing.T) {
	require.Equal(t, "ai_empty_result", Reason(NewStepError(AIEmptyResult, nil)))
	require.Equal(t, "storage_write_failed", Reason(fmt.Errorf("saving: %w", NewStepError(StorageWriteFailed, errors.New("disk")))))
	require.Equal(t, "internal", Reason(errors.New("plain")))
}
