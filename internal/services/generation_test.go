package services_test

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/catalog"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/testutil"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/services"
)

func newService(t *testing.T, tx *gorm.DB) services.GenerationService {
	t.Helper()
	log := testutil.Logger(t)
	return services.NewGenerationService(
		generation.NewRunRepo(tx, log),
		catalog.NewCourseRepo(tx, log),
		catalog.NewChapterRepo(tx, log),
		catalog.NewLessonRepo(tx, log),
		catalog.NewActivityRepo(tx, log),
		services.NewEnvEntitlements(log),
		log,
	)
}

func TestTriggerValidatesRequest(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	svc := newService(t, tx)

	_, err := svc.Trigger(ctx, services.TriggerRequest{Kind: "poem", SubjectID: 1})
	if !errors.Is(err, services.ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger for unknown kind, got %v", err)
	}

	_, err = svc.Trigger(ctx, services.TriggerRequest{Kind: types.KindCourse})
	if !errors.Is(err, services.ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger for missing subject, got %v", err)
	}

	_, err = svc.Trigger(ctx, services.TriggerRequest{Kind: types.KindCourse, SubjectID: 999_999})
	if !errors.Is(err, services.ErrSubjectNotFound) {
		t.Fatalf("expected ErrSubjectNotFound, got %v", err)
	}
}

func TestTriggerCreatesPendingRunOnce(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	svc := newService(t, tx)

	course := testutil.SeedCourse(t, ctx, tx, "Triggered Course")

	run, err := svc.Trigger(ctx, services.TriggerRequest{
		Kind:      types.KindCourse,
		SubjectID: course.ID,
		Prompt:    "something specific",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != types.RunPending {
		t.Fatalf("expected pending run, got %s", run.Status)
	}
	if len(run.Payload) == 0 {
		t.Fatal("expected payload to be stored on the run")
	}

	_, err = svc.Trigger(ctx, services.TriggerRequest{Kind: types.KindCourse, SubjectID: course.ID})
	if !errors.Is(err, generation.ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun for second trigger, got %v", err)
	}
}

func TestTriggerEnforcesEntitledKinds(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)

	t.Setenv("GENERATION_ENTITLED_KINDS", "course,chapter")
	svc := services.NewGenerationService(
		generation.NewRunRepo(tx, log),
		catalog.NewCourseRepo(tx, log),
		catalog.NewChapterRepo(tx, log),
		catalog.NewLessonRepo(tx, log),
		catalog.NewActivityRepo(tx, log),
		services.NewEnvEntitlements(log),
		log,
	)

	course := testutil.SeedCourse(t, ctx, tx, "Entitled Course")
	chapter := testutil.SeedChapter(t, ctx, tx, course.ID, 1)
	lesson := testutil.SeedLesson(t, ctx, tx, chapter.ID, 1)

	if _, err := svc.Trigger(ctx, services.TriggerRequest{Kind: types.KindCourse, SubjectID: course.ID}); err != nil {
		t.Fatalf("entitled kind rejected: %v", err)
	}

	_, err := svc.Trigger(ctx, services.TriggerRequest{Kind: types.KindLesson, SubjectID: lesson.ID})
	if !errors.Is(err, services.ErrEntitlementRequired) {
		t.Fatalf("expected ErrEntitlementRequired, got %v", err)
	}
}
