package catalog

import (
	"time"

	"gorm.io/gorm"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type LessonRepo interface {
	Create(dbc dbctx.Context, lessons []*types.Lesson) ([]*types.Lesson, error)
	GetByID(dbc dbctx.Context, id int64) (*types.Lesson, error)
	GetByChapterID(dbc dbctx.Context, chapterID int64) ([]*types.Lesson, error)
	CountByChapterID(dbc dbctx.Context, chapterID int64) (int64, error)
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id int64) error
}

type lessonRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonRepo(db *gorm.DB, baseLog *logger.Logger) LessonRepo {
	return &lessonRepo{
		db:  db,
		log: baseLog.With("repo", "LessonRepo"),
	}
}

func (r *lessonRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *lessonRepo) Create(dbc dbctx.Context, lessons []*types.Lesson) ([]*types.Lesson, error) {
	if len(lessons) == 0 {
		return []*types.Lesson{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&lessons).Error; err != nil {
		return nil, err
	}
	return lessons, nil
}

func (r *lessonRepo) GetByID(dbc dbctx.Context, id int64) (*types.Lesson, error) {
	if id == 0 {
		return nil, nil
	}
	var lesson types.Lesson
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&lesson).Error
	if err != nil {
		return nil, err
	}
	if lesson.ID == 0 {
		return nil, nil
	}
	return &lesson, nil
}

func (r *lessonRepo) GetByChapterID(dbc dbctx.Context, chapterID int64) ([]*types.Lesson, error) {
	var out []*types.Lesson
	if chapterID == 0 {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("chapter_id = ?", chapterID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lessonRepo) CountByChapterID(dbc dbctx.Context, chapterID int64) (int64, error) {
	if chapterID == 0 {
		return 0, nil
	}
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Lesson{}).
		Where("chapter_id = ?", chapterID).
		Count(&n).Error
	return n, err
}

func (r *lessonRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
	if id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Lesson{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *lessonRepo) Delete(dbc dbctx.Context, id int64) error {
	if id == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Lesson{}).Error
}
