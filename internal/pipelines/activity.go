package pipelines

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

func (p *Pipelines) ActivityDefinition() workflow.Definition {
	steps := []workflow.Step{
		{
			Name:  "load_context",
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				activity, err := p.activities.GetByID(dbcOf(c), c.Run.SubjectID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if activity == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("activity %d not found", c.Run.SubjectID))
				}
				lesson, err := p.lessons.GetByID(dbcOf(c), activity.LessonID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if lesson == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("lesson %d not found", activity.LessonID))
				}
				if lesson.Content == "" {
					return nil, workflow.NewStepError(workflow.NoSourceData,
						fmt.Errorf("lesson %d has no content to draw from", lesson.ID))
				}
				if err := p.activities.UpdateFields(dbcOf(c), activity.ID, map[string]interface{}{
					"generation_status": types.GenerationInProgress,
				}); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return map[string]any{
					"activity_id":    activity.ID,
					"activity_title": activity.Title,
					"lesson_title":   lesson.Title,
					"lesson_content": lesson.Content,
				}, nil
			},
		},
		{
			Name:  "generate_options",
			Deps:  []string{"load_context"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System: systemPrompt,
					Prompt: activityOptionsPrompt(
						c.OutputString("load_context", "activity_title"),
						c.OutputString("load_context", "lesson_title"),
						c.OutputString("load_context", "lesson_content"),
						in.Language,
					),
					SchemaName: "activity_options",
					Schema:     activityOptionsSchema(),
				})
				if err != nil {
					return nil, err
				}
				if strField(out, "question") == "" || len(listField(out, "answers")) == 0 {
					return nil, workflow.NewStepError(workflow.ContentValidationFailed,
						fmt.Errorf("options missing question or answers"))
				}
				return map[string]any{
					"question":       strField(out, "question"),
					"answers":        listField(out, "answers"),
					"correct_answer": strField(out, "correct_answer"),
					"explanation":    strField(out, "explanation"),
				}, nil
			},
		},
		{
			Name:  "finalize_activity",
			Deps:  []string{"generate_options"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				options, err := json.Marshal(map[string]any{
					"question":       c.OutputString("generate_options", "question"),
					"answers":        outputStrings(c, "generate_options", "answers"),
					"correct_answer": c.OutputString("generate_options", "correct_answer"),
					"explanation":    c.OutputString("generate_options", "explanation"),
				})
				if err != nil {
					return nil, workflow.NewStepError(workflow.ContentValidationFailed, err)
				}
				if err := p.activities.UpdateFields(dbcOf(c), c.Run.SubjectID, map[string]interface{}{
					"options":           datatypes.JSON(options),
					"generation_status": types.GenerationCompleted,
					"is_published":      true,
				}); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return nil, nil
			},
		},
	}

	return workflow.Definition{
		Kind:  types.KindActivity,
		Steps: steps,
		Compensate: func(c *workflow.Context, failedStep string, cause error) {
			// Activities have no children; a failed draft is removed.
			id := c.Run.SubjectID
			if err := p.activities.UpdateFields(dbcOf(c), id, map[string]interface{}{
				"generation_status": types.GenerationFailed,
			}); err != nil {
				c.Log.Warn("compensation: mark activity failed", "activity_id", id, "error", err.Error())
				return
			}
			if err := p.activities.Delete(dbcOf(c), id); err != nil {
				c.Log.Warn("compensation: delete activity", "activity_id", id, "error", err.Error())
			}
		},
	}
}
