package pipelines

import (
	"fmt"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

/*
CourseDefinition is the widest workflow: three independent generation steps
fan out from the loaded course, converge on the row update, then the chapter
chain runs nested (prefixed step names, events on the same run stream) before
the course is published.

The metadata, cover-prompt and alt-title steps are recoverable: a degraded
course with an empty description still beats a failed run. Storage steps and
the nested chapter chain are fatal.
*/
func (p *Pipelines) CourseDefinition() workflow.Definition {
	steps := []workflow.Step{
		{
			Name:  "load_course",
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				course, err := p.courses.GetByID(dbcOf(c), c.Run.SubjectID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if course == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("course %d not found", c.Run.SubjectID))
				}
				claim := map[string]interface{}{
					"generation_status": types.GenerationInProgress,
				}
				title := course.Title
				if in := payload(c); in.CourseTitle != "" && title == "" {
					title = in.CourseTitle
					claim["title"] = title
				}
				if err := p.courses.UpdateFields(dbcOf(c), course.ID, claim); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return map[string]any{
					"course_id": course.ID,
					"title":     title,
				}, nil
			},
		},
		{
			Name: "generate_metadata",
			Deps: []string{"load_course"},
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System:     systemPrompt,
					Prompt:     courseMetadataPrompt(c.OutputString("load_course", "title"), in.Prompt, in.Language),
					SchemaName: "course_metadata",
					Schema:     courseMetadataSchema(),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"description": strField(out, "description"),
					"categories":  listField(out, "categories"),
				}, nil
			},
			Fallback: func(c *workflow.Context, cause error) map[string]any {
				return map[string]any{"description": "", "categories": []string{}}
			},
		},
		{
			Name: "generate_cover_prompt",
			Deps: []string{"load_course"},
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System:     systemPrompt,
					Prompt:     coverPromptText("course", c.OutputString("load_course", "title"), in.Language),
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
			Name: "generate_alt_titles",
			Deps: []string{"load_course"},
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System:     systemPrompt,
					Prompt:     altTitlesPrompt(c.OutputString("load_course", "title"), in.Language),
					SchemaName: "alt_titles",
					Schema:     altTitlesSchema(),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"alt_titles": listField(out, "alt_titles")}, nil
			},
			Fallback: func(c *workflow.Context, cause error) map[string]any {
				return map[string]any{"alt_titles": []string{}}
			},
		},
		{
			Name:  "update_course",
			Deps:  []string{"generate_metadata", "generate_cover_prompt", "generate_alt_titles"},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				updates := map[string]interface{}{
					"categories": jsonList(outputStrings(c, "generate_metadata", "categories")),
					"alt_titles": jsonList(outputStrings(c, "generate_alt_titles", "alt_titles")),
				}
				if desc := c.OutputString("generate_metadata", "description"); desc != "" {
					updates["description"] = desc
				}
				if cp := c.OutputString("generate_cover_prompt", "cover_prompt"); cp != "" {
					updates["cover_prompt"] = cp
				}
				if err := p.courses.UpdateFields(dbcOf(c), c.Run.SubjectID, updates); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return nil, nil
			},
		},
	}

	steps = append(steps, p.chapterSteps(chapterSource{
		prefix: "chapter_",
		deps:   []string{"update_course"},
		resolve: func(c *workflow.Context) (int64, int64, error) {
			return 0, c.Run.SubjectID, nil
		},
	})...)

	steps = append(steps, workflow.Step{
		Name:  "finalize_course",
		Deps:  []string{"chapter_finalize_chapter"},
		Fatal: true,
		Run: func(c *workflow.Context) (map[string]any, error) {
			err := p.courses.UpdateFields(dbcOf(c), c.Run.SubjectID, map[string]interface{}{
				"generation_status": types.GenerationCompleted,
				"is_published":      true,
			})
			if err != nil {
				return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
			}
			return nil, nil
		},
	})

	return workflow.Definition{
		Kind:  types.KindCourse,
		Steps: steps,
		Compensate: func(c *workflow.Context, failedStep string, cause error) {
			p.compensateChapter(c, "chapter_", 0)
			p.compensateCourse(c)
		},
	}
}

// compensateCourse marks the course failed, deleting the row when the run
// produced no chapters yet.
func (p *Pipelines) compensateCourse(c *workflow.Context) {
	id := c.Run.SubjectID
	if err := p.courses.UpdateFields(dbcOf(c), id, map[string]interface{}{
		"generation_status": types.GenerationFailed,
	}); err != nil {
		c.Log.Warn("compensation: mark course failed", "course_id", id, "error", err.Error())
		return
	}
	n, err := p.chapters.CountByCourseID(dbcOf(c), id)
	if err != nil || n > 0 {
		return
	}
	if err := p.courses.Delete(dbcOf(c), id); err != nil {
		c.Log.Warn("compensation: delete course", "course_id", id, "error", err.Error())
	}
}
