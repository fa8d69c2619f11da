package testutil

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/gorm"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
)

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Course {
	tb.Helper()
	c := &types.Course{
		Slug:             fmt.Sprintf("%s-%d", title, seq()),
		Title:            title,
		GenerationStatus: types.GenerationInProgress,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

func SeedChapter(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID int64, position int) *types.Chapter {
	tb.Helper()
	ch := &types.Chapter{
		CourseID:         courseID,
		Slug:             fmt.Sprintf("chapter-%d", seq()),
		Title:            "chapter",
		Position:         position,
		GenerationStatus: types.GenerationInProgress,
	}
	if err := tx.WithContext(ctx).Create(ch).Error; err != nil {
		tb.Fatalf("seed chapter: %v", err)
	}
	return ch
}

func SeedLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, chapterID int64, position int) *types.Lesson {
	tb.Helper()
	l := &types.Lesson{
		ChapterID:        chapterID,
		Slug:             fmt.Sprintf("lesson-%d", seq()),
		Title:            "lesson",
		Position:         position,
		GenerationStatus: types.GenerationInProgress,
	}
	if err := tx.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed lesson: %v", err)
	}
	return l
}

var seqCounter int64

func seq() int64 {
	seqCounter++
	return seqCounter
}
