package catalog

import (
	"time"

	"gorm.io/gorm"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type ActivityRepo interface {
	Create(dbc dbctx.Context, activities []*types.Activity) ([]*types.Activity, error)
	GetByID(dbc dbctx.Context, id int64) (*types.Activity, error)
	GetByLessonID(dbc dbctx.Context, lessonID int64) ([]*types.Activity, error)
	CountByLessonID(dbc dbctx.Context, lessonID int64) (int64, error)
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id int64) error
}

type activityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActivityRepo(db *gorm.DB, baseLog *logger.Logger) ActivityRepo {
	return &activityRepo{
		db:  db,
		log: baseLog.With("repo", "ActivityRepo"),
	}
}

func (r *activityRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *activityRepo) Create(dbc dbctx.Context, activities []*types.Activity) ([]*types.Activity, error) {
	if len(activities) == 0 {
		return []*types.Activity{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}

func (r *activityRepo) GetByID(dbc dbctx.Context, id int64) (*types.Activity, error) {
	if id == 0 {
		return nil, nil
	}
	var activity types.Activity
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&activity).Error
	if err != nil {
		return nil, err
	}
	if activity.ID == 0 {
		return nil, nil
	}
	return &activity, nil
}

func (r *activityRepo) GetByLessonID(dbc dbctx.Context, lessonID int64) ([]*types.Activity, error) {
	var out []*types.Activity
	if lessonID == 0 {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("lesson_id = ?", lessonID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *activityRepo) CountByLessonID(dbc dbctx.Context, lessonID int64) (int64, error) {
	if lessonID == 0 {
		return 0, nil
	}
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Activity{}).
		Where("lesson_id = ?", lessonID).
		Count(&n).Error
	return n, err
}

func (r *activityRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
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
		Model(&types.Activity{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *activityRepo) Delete(dbc dbctx.Context, id int64) error {
	if id == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Activity{}).Error
}
