package pipelines

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

func (p *Pipelines) LessonDefinition() workflow.Definition {
	steps := []workflow.Step{
		{
			Name:  "load_context",
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				lesson, err := p.lessons.GetByID(dbcOf(c), c.Run.SubjectID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if lesson == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("lesson %d not found", c.Run.SubjectID))
				}
				chapter, err := p.chapters.GetByID(dbcOf(c), lesson.ChapterID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if chapter == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("chapter %d not found", lesson.ChapterID))
				}
				course, err := p.courses.GetByID(dbcOf(c), chapter.CourseID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if course == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("course %d not found", chapter.CourseID))
				}
				if err := p.lessons.UpdateFields(dbcOf(c), lesson.ID, map[string]interface{}{
					"generation_status": types.GenerationInProgress,
				}); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return map[string]any{
					"lesson_id":     lesson.ID,
					"lesson_title":  lesson.Title,
					"chapter_title": chapter.Title,
					"course_title":  course.Title,
				}, nil
			},
		},
		{
			Name:  "generate_content",
			Deps:  []string{"load_context"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System: systemPrompt,
					Prompt: lessonContentPrompt(
						c.OutputString("load_context", "course_title"),
						c.OutputString("load_context", "chapter_title"),
						c.OutputString("load_context", "lesson_title"),
						in.Language,
					),
					SchemaName: "lesson_content",
					Schema:     lessonContentSchema(),
				})
				if err != nil {
					return nil, err
				}
				content := strField(out, "content")
				if content == "" {
					return nil, workflow.NewStepError(workflow.ContentValidationFailed,
						fmt.Errorf("empty lesson content"))
				}
				return map[string]any{"content": content}, nil
			},
		},
		{
			Name: "generate_activities",
			Deps: []string{"generate_content"},
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System: systemPrompt,
					Prompt: activitiesPrompt(
						c.OutputString("load_context", "lesson_title"),
						c.OutputString("generate_content", "content"),
						in.Language,
					),
					SchemaName: "lesson_activities",
					Schema:     activitiesSchema(),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"activities": mapListField(out, "activities")}, nil
			},
			Fallback: func(c *workflow.Context, cause error) map[string]any {
				return map[string]any{"activities": []map[string]any{}}
			},
		},
		{
			Name: "generate_cover_prompt",
			Deps: []string{"load_context"},
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System:     systemPrompt,
					Prompt:     coverPromptText("lesson", c.OutputString("load_context", "lesson_title"), in.Language),
					SchemaName: "cover_prompt",
					Schema:     coverPromptSchema(),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"cover_prompt": strField(out, "cover_prompt")}, nil
			},
			Fallback: func(c *workflow.Context, cause error) map[string]any {
				return map[string]any{"cover_prompt": ""}
			},
		},
		{
			Name:  "attach_activities",
			Deps:  []string{"generate_activities"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				lessonID := c.OutputInt64("load_context", "lesson_id")
				// A crashed attempt may have committed the insert already;
				// re-running must not attach a second batch.
				n, err := p.activities.CountByLessonID(dbcOf(c), lessonID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if n > 0 {
					return map[string]any{"activity_count": n}, nil
				}
				items := outputMaps(c, "generate_activities", "activities")
				rows := make([]*types.Activity, 0, len(items))
				for i, item := range items {
					title := strField(item, "title")
					if title == "" {
						continue
					}
					options, err := json.Marshal(map[string]any{
						"question":       strField(item, "question"),
						"answers":        item["answers"],
						"correct_answer": strField(item, "correct_answer"),
					})
					if err != nil {
						return nil, workflow.NewStepError(workflow.ContentValidationFailed, err)
					}
					kind := strField(item, "kind")
					if kind == "" {
						kind = "quiz"
					}
					rows = append(rows, &types.Activity{
						LessonID:         lessonID,
						Title:            title,
						Kind:             kind,
						Options:          datatypes.JSON(options),
						Position:         i + 1,
						GenerationStatus: types.GenerationCompleted,
						IsPublished:      true,
					})
				}
				if len(rows) > 0 {
					if _, err := p.activities.Create(dbcOf(c), rows); err != nil {
						return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
					}
				}
				return map[string]any{"activity_count": len(rows)}, nil
			},
		},
		{
			Name:  "finalize_lesson",
			Deps:  []string{"attach_activities", "generate_cover_prompt"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				updates := map[string]interface{}{
					"content":           c.OutputString("generate_content", "content"),
					"generation_status": types.GenerationCompleted,
					"is_published":      true,
				}
				if cp := c.OutputString("generate_cover_prompt", "cover_prompt"); cp != "" {
					updates["cover_prompt"] = cp
				}
				if err := p.lessons.UpdateFields(dbcOf(c), c.Run.SubjectID, updates); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return nil, nil
			},
		},
	}

	return workflow.Definition{
		Kind:  types.KindLesson,
		Steps: steps,
		Compensate: func(c *workflow.Context, failedStep string, cause error) {
			id := c.Run.SubjectID
			if err := p.lessons.UpdateFields(dbcOf(c), id, map[string]interface{}{
				"generation_status": types.GenerationFailed,
			}); err != nil {
				c.Log.Warn("compensation: mark lesson failed", "lesson_id", id, "error", err.Error())
				return
			}
			n, err := p.activities.CountByLessonID(dbcOf(c), id)
			if err != nil || n > 0 {
				return
			}
			if err := p.lessons.Delete(dbcOf(c), id); err != nil {
				c.Log.Warn("compensation: delete lesson", "lesson_id", id, "error", err.Error())
			}
		},
	}
}
