package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/catalog"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pipelines"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

var (
	// ErrInvalidTrigger wraps request validation failures; the HTTP layer
	// maps it to 400.
	ErrInvalidTrigger = errors.New("invalid generation request")

	// ErrSubjectNotFound means the subject entity the run would generate
	// content for does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
)

type TriggerRequest struct {
	Kind      string `json:"kind"`
	SubjectID int64  `json:"subjectId"`
	Prompt    string `json:"prompt,omitempty"`
	Language  string `json:"language,omitempty"`
	// CourseTitle is echoed into the run payload for course workflows so the
	// UI can display the pending course before generation fills the row.
	CourseTitle string `json:"courseTitle,omitempty"`
}

type GenerationService interface {
	Trigger(ctx context.Context, req TriggerRequest) (*types.GenerationRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*types.GenerationRun, error)
}

type generationService struct {
	runs       generation.RunRepo
	courses    catalog.CourseRepo
	chapters   catalog.ChapterRepo
	lessons    catalog.LessonRepo
	activities catalog.ActivityRepo

	entitlements EntitlementService
	log          *logger.Logger
}

func NewGenerationService(
	runs generation.RunRepo,
	courses catalog.CourseRepo,
	chapters catalog.ChapterRepo,
	lessons catalog.LessonRepo,
	activities catalog.ActivityRepo,
	entitlements EntitlementService,
	log *logger.Logger,
) GenerationService {
	return &generationService{
		runs:         runs,
		courses:      courses,
		chapters:     chapters,
		lessons:      lessons,
		activities:   activities,
		entitlements: entitlements,
		log:          log.With("service", "GenerationService"),
	}
}

/*
Trigger validates the request, checks the caller's entitlement and creates a
pending run. Per-subject uniqueness is enforced by the run store's unique
index, not by a read-then-write, so two concurrent triggers cannot both
succeed; the loser gets ErrDuplicateRun.
*/
func (s *generationService) Trigger(ctx context.Context, req TriggerRequest) (*types.GenerationRun, error) {
	if !types.ValidKind(req.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, req.Kind)
	}
	if req.SubjectID <= 0 {
		return nil, fmt.Errorf("%w: missing subjectId", ErrInvalidTrigger)
	}
	if err := s.entitlements.CanGenerate(ctx, req.Kind); err != nil {
		if errors.Is(err, ErrEntitlementRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	if err := s.subjectExists(ctx, req.Kind, req.SubjectID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(pipelines.TriggerPayload{
		Prompt:      req.Prompt,
		Language:    req.Language,
		CourseTitle: req.CourseTitle,
	})
	if err != nil {
		return nil, err
	}

	run, err := s.runs.Create(dbctx.Context{Ctx: ctx}, &types.GenerationRun{
		Kind:      req.Kind,
		SubjectID: req.SubjectID,
		Status:    types.RunPending,
		Payload:   datatypes.JSON(payload),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("run triggered",
		"run_id", run.ID.String(),
		"kind", run.Kind,
		"subject_id", run.SubjectID,
	)
	return run, nil
}

func (s *generationService) subjectExists(ctx context.Context, kind string, id int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	var (
		found bool
		err   error
	)
	switch kind {
	case types.KindCourse:
		var c *types.Course
		c, err = s.courses.GetByID(dbc, id)
		found = c != nil
	case types.KindChapter:
		var ch *types.Chapter
		ch, err = s.chapters.GetByID(dbc, id)
		found = ch != nil
	case types.KindLesson:
		var l *types.Lesson
		l, err = s.lessons.GetByID(dbc, id)
		found = l != nil
	case types.KindActivity:
		var a *types.Activity
		a, err = s.activities.GetByID(dbc, id)
		found = a != nil
	}
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s %d", ErrSubjectNotFound, kind, id)
	}
	return nil
}

func (s *generationService) GetRun(ctx context.Context, id uuid.UUID) (*types.GenerationRun, error) {
	return s.runs.GetByID(dbctx.Context{Ctx: ctx}, id)
}
