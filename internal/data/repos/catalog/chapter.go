package catalog

import (
	"time"

	"gorm.io/gorm"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type ChapterRepo interface {
	Create(dbc dbctx.Context, chapters []*types.Chapter) ([]*types.Chapter, error)
	GetByID(dbc dbctx.Context, id int64) (*types.Chapter, error)
	GetByCourseID(dbc dbctx.Context, courseID int64) ([]*types.Chapter, error)
	CountByCourseID(dbc dbctx.Context, courseID int64) (int64, error)
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id int64) error
}

type chapterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChapterRepo(db *gorm.DB, baseLog *logger.Logger) ChapterRepo {
	return &chapterRepo{
		db:  db,
		log: baseLog.With("repo", "ChapterRepo"),
	}
}

func (r *chapterRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chapterRepo) Create(dbc dbctx.Context, chapters []*types.Chapter) ([]*types.Chapter, error) {
	if len(chapters) == 0 {
		return []*types.Chapter{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&chapters).Error; err != nil {
		return nil, err
	}
	return chapters, nil
}

func (r *chapterRepo) GetByID(dbc dbctx.Context, id int64) (*types.Chapter, error) {
	if id == 0 {
		return nil, nil
	}
	var chapter types.Chapter
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&chapter).Error
	if err != nil {
		return nil, err
	}
	if chapter.ID == 0 {
		return nil, nil
	}
	return &chapter, nil
}

func (r *chapterRepo) GetByCourseID(dbc dbctx.Context, courseID int64) ([]*types.Chapter, error) {
	var out []*types.Chapter
	if courseID == 0 {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("course_id = ?", courseID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chapterRepo) CountByCourseID(dbc dbctx.Context, courseID int64) (int64, error) {
	if courseID == 0 {
		return 0, nil
	}
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Chapter{}).
		Where("course_id = ?", courseID).
		Count(&n).Error
	return n, err
}

func (r *chapterRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
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
		Model(&types.Chapter{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chapterRepo) Delete(dbc dbctx.Context, id int64) error {
	if id == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Chapter{}).Error
}
