package pipelines

import (
	"fmt"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

/*
chapterSource parameterizes the chapter step chain so it can run standalone
(the run's subject is an existing draft chapter) or nested inside the course
workflow (prefixed step names, a fresh chapter row created under the course).
resolve returns the chapter to work on — chapterID 0 means create one — and
the owning course.
*/
type chapterSource struct {
	prefix  string
	deps    []string
	resolve func(c *workflow.Context) (chapterID, courseID int64, err error)
}

func (p *Pipelines) chapterSteps(src chapterSource) []workflow.Step {
	load := src.prefix + "load_context"
	outline := src.prefix + "generate_outline"
	update := src.prefix + "update_chapter"
	lessons := src.prefix + "create_lessons"
	finalize := src.prefix + "finalize_chapter"

	return []workflow.Step{
		{
			Name:  load,
			Deps:  src.deps,
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				chapterID, courseID, err := src.resolve(c)
				if err != nil {
					return nil, err
				}
				course, err := p.courses.GetByID(dbcOf(c), courseID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if course == nil {
					return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("course %d not found", courseID))
				}

				if chapterID == 0 {
					// The insert may have committed on a prior attempt that
					// died before checkpointing this step; a re-run must end
					// up with the same single row, so reclaim before creating.
					err := inTx(c, func(dbc dbctx.Context) error {
						existing, err := p.chapters.GetByCourseID(dbc, courseID)
						if err != nil {
							return workflow.NewStepError(workflow.StorageReadFailed, err)
						}
						for _, ch := range existing {
							if ch.GenerationStatus == types.GenerationInProgress {
								chapterID = ch.ID
								return nil
							}
						}
						created, err := p.chapters.Create(dbc, []*types.Chapter{{
							CourseID:         courseID,
							Title:            course.Title,
							Slug:             uniqueSlug(course.Title + "-chapter"),
							Position:         len(existing) + 1,
							GenerationStatus: types.GenerationInProgress,
						}})
						if err != nil {
							return workflow.NewStepError(workflow.StorageWriteFailed, err)
						}
						chapterID = created[0].ID
						return nil
					})
					if err != nil {
						return nil, err
					}
				} else {
					chapter, err := p.chapters.GetByID(dbcOf(c), chapterID)
					if err != nil {
						return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
					}
					if chapter == nil {
						return nil, workflow.NewStepError(workflow.NotFound, fmt.Errorf("chapter %d not found", chapterID))
					}
					if err := p.chapters.UpdateFields(dbcOf(c), chapterID, map[string]interface{}{
						"generation_status": types.GenerationInProgress,
					}); err != nil {
						return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
					}
				}

				return map[string]any{
					"chapter_id":         chapterID,
					"course_id":          courseID,
					"course_title":       course.Title,
					"course_description": course.Description,
				}, nil
			},
		},
		{
			Name:  outline,
			Deps:  []string{load},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				in := payload(c)
				out, err := p.generateObject(c, ai.Request{
					System:     systemPrompt,
					Prompt:     chapterOutlinePrompt(c.OutputString(load, "course_title"), c.OutputString(load, "course_description"), in.Prompt, in.Language),
					SchemaName: "chapter_outline",
					Schema:     chapterOutlineSchema(),
				})
				if err != nil {
					return nil, err
				}
				title := strField(out, "title")
				lessonTitles := listField(out, "lessons")
				if title == "" || len(lessonTitles) == 0 {
					return nil, workflow.NewStepError(workflow.ContentValidationFailed,
						fmt.Errorf("outline missing title or lessons"))
				}
				return map[string]any{
					"title":       title,
					"description": strField(out, "description"),
					"lessons":     lessonTitles,
				}, nil
			},
		},
		{
			Name:  update,
			Deps:  []string{outline},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				title := c.OutputString(outline, "title")
				err := p.chapters.UpdateFields(dbcOf(c), c.OutputInt64(load, "chapter_id"), map[string]interface{}{
					"title":       title,
					"description": c.OutputString(outline, "description"),
					"slug":        uniqueSlug(title),
				})
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return nil, nil
			},
		},
		{
			Name:  lessons,
			Deps:  []string{update},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				chapterID := c.OutputInt64(load, "chapter_id")
				titles := outputStrings(c, outline, "lessons")
				if len(titles) == 0 {
					return nil, workflow.NewStepError(workflow.NoSourceData,
						fmt.Errorf("no lesson titles in outline"))
				}
				// Stubs from a crashed attempt count as done: the batch
				// insert commits all rows or none.
				existing, err := p.lessons.GetByChapterID(dbcOf(c), chapterID)
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageReadFailed, err)
				}
				if len(existing) > 0 {
					return map[string]any{"lesson_count": len(existing)}, nil
				}
				rows := make([]*types.Lesson, 0, len(titles))
				for i, title := range titles {
					rows = append(rows, &types.Lesson{
						ChapterID:        chapterID,
						Title:            title,
						Slug:             uniqueSlug(title),
						Position:         i + 1,
						GenerationStatus: types.GenerationInProgress,
					})
				}
				if _, err := p.lessons.Create(dbcOf(c), rows); err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return map[string]any{"lesson_count": len(rows)}, nil
			},
		},
		{
			Name:  finalize,
			Deps:  []string{lessons},
			Fatal: true,
			Run: func(c *workflow.Context) (map[string]any, error) {
				err := p.chapters.UpdateFields(dbcOf(c), c.OutputInt64(load, "chapter_id"), map[string]interface{}{
					"generation_status": types.GenerationCompleted,
					"is_published":      true,
				})
				if err != nil {
					return nil, workflow.NewStepError(workflow.StorageWriteFailed, err)
				}
				return nil, nil
			},
		},
	}
}

func (p *Pipelines) ChapterDefinition() workflow.Definition {
	steps := p.chapterSteps(chapterSource{
		resolve: func(c *workflow.Context) (int64, int64, error) {
			chapter, err := p.chapters.GetByID(dbcOf(c), c.Run.SubjectID)
			if err != nil {
				return 0, 0, workflow.NewStepError(workflow.StorageReadFailed, err)
			}
			if chapter == nil {
				return 0, 0, workflow.NewStepError(workflow.NotFound, fmt.Errorf("chapter %d not found", c.Run.SubjectID))
			}
			return chapter.ID, chapter.CourseID, nil
		},
	})
	return workflow.Definition{
		Kind:  types.KindChapter,
		Steps: steps,
		Compensate: func(c *workflow.Context, failedStep string, cause error) {
			p.compensateChapter(c, "", c.Run.SubjectID)
		},
	}
}

// compensateChapter marks the chapter failed, deleting it outright when no
// lessons were created yet. fallbackID covers a failure before load_context
// checkpointed the chapter id.
func (p *Pipelines) compensateChapter(c *workflow.Context, prefix string, fallbackID int64) {
	id := c.OutputInt64(prefix+"load_context", "chapter_id")
	if id == 0 {
		id = fallbackID
	}
	if id == 0 {
		return
	}
	if err := p.chapters.UpdateFields(dbcOf(c), id, map[string]interface{}{
		"generation_status": types.GenerationFailed,
	}); err != nil {
		c.Log.Warn("compensation: mark chapter failed", "chapter_id", id, "error", err.Error())
		return
	}
	n, err := p.lessons.CountByChapterID(dbcOf(c), id)
	if err != nil || n > 0 {
		return
	}
	if err := p.chapters.Delete(dbcOf(c), id); err != nil {
		c.Log.Warn("compensation: delete chapter", "chapter_id", id, "error", err.Error())
	}
}
