package pipelines

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/catalog"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
	"github.com/zoonk/zoonk-sub009/internal/workflow"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
)

// TriggerPayload is the caller-supplied generation input, stored on the run
// row and read by the first step of every workflow.
type TriggerPayload struct {
	Prompt      string `json:"prompt,omitempty"`
	Language    string `json:"language,omitempty"`
	CourseTitle string `json:"courseTitle,omitempty"`
}

/*
Pipelines binds the per-kind workflow definitions to their dependencies:
the catalog repositories for storage steps and the model client plus
fallback policy for generation steps. Resolve is the worker's kind
dispatcher.
*/
type Pipelines struct {
	courses    catalog.CourseRepo
	chapters   catalog.ChapterRepo
	lessons    catalog.LessonRepo
	activities catalog.ActivityRepo

	gen    ai.Generator
	policy *ai.FallbackPolicy
	log    *logger.Logger
}

func New(
	courses catalog.CourseRepo,
	chapters catalog.ChapterRepo,
	lessons catalog.LessonRepo,
	activities catalog.ActivityRepo,
	gen ai.Generator,
	policy *ai.FallbackPolicy,
	log *logger.Logger,
) *Pipelines {
	return &Pipelines{
		courses:    courses,
		chapters:   chapters,
		lessons:    lessons,
		activities: activities,
		gen:        gen,
		policy:     policy,
		log:        log.With("component", "Pipelines"),
	}
}

func (p *Pipelines) Resolve(kind string) (workflow.Definition, bool) {
	switch kind {
	case types.KindCourse:
		return p.CourseDefinition(), true
	case types.KindChapter:
		return p.ChapterDefinition(), true
	case types.KindLesson:
		return p.LessonDefinition(), true
	case types.KindActivity:
		return p.ActivityDefinition(), true
	}
	return workflow.Definition{}, false
}

// generateObject runs one structured call through the fallback policy and
// maps client failures onto the step-error taxonomy.
func (p *Pipelines) generateObject(c *workflow.Context, req ai.Request) (map[string]any, error) {
	out, model, err := p.policy.Generate(c.Ctx, p.gen, req)
	if err != nil {
		if errors.Is(err, ai.ErrEmptyResult) {
			return nil, workflow.NewStepError(workflow.AIEmptyResult, err)
		}
		return nil, workflow.NewStepError(workflow.AIGenerationFailed, err)
	}
	c.Log.Debug("generated object", "schema", req.SchemaName, "model", model)
	return out, nil
}

func payload(c *workflow.Context) TriggerPayload {
	var p TriggerPayload
	_ = c.Payload(&p)
	return p
}

func dbcOf(c *workflow.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

// inTx runs fn inside one transaction; the repos pick it up through the
// dbctx handle. Steps that do more than one storage write use this so a
// crash cannot leave half of the step committed.
func inTx(c *workflow.Context, fn func(dbc dbctx.Context) error) error {
	return c.DB.Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: c.Ctx, Tx: tx})
	})
}

// uniqueSlug derives a URL slug from the title with a short random suffix,
// since titles across courses are free to repeat.
func uniqueSlug(title string) string {
	base := slug.Make(title)
	if base == "" {
		base = "untitled"
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

func strField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func listField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func mapListField(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if mv, ok := v.(map[string]any); ok {
			out = append(out, mv)
		}
	}
	return out
}

// Checkpoint outputs survive a JSON round-trip on resume, so typed slices
// may come back as []any. These readers accept both shapes.

func outputStrings(c *workflow.Context, step, key string) []string {
	v, ok := c.Output(step, key)
	if !ok {
		return nil
	}
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func outputMaps(c *workflow.Context, step, key string) []map[string]any {
	v, ok := c.Output(step, key)
	if !ok {
		return nil
	}
	switch l := v.(type) {
	case []map[string]any:
		return l
	case []any:
		out := make([]map[string]any, 0, len(l))
		for _, item := range l {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func jsonList(vals []string) datatypes.JSON {
	if vals == nil {
		vals = []string{}
	}
	b, _ := json.Marshal(vals)
	return datatypes.JSON(b)
}
