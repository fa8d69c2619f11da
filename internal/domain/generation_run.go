package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	KindCourse   = "course"
	KindChapter  = "chapter"
	KindLesson   = "lesson"
	KindActivity = "activity"
)

const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// GenerationRun is the durable record of one workflow execution for one
// subject entity. At most one non-terminal run may exist per (kind, subject):
// Active is true while the run is pending/running and set to NULL in the same
// update that makes the run terminal, so the composite unique index only
// bites on live rows.
type GenerationRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Kind        string         `gorm:"column:kind;not null;index;uniqueIndex:uq_generation_run_live,priority:1" json:"kind"`
	SubjectID   int64          `gorm:"column:subject_id;not null;index;uniqueIndex:uq_generation_run_live,priority:2" json:"subject_id"`
	Active      *bool          `gorm:"column:active;uniqueIndex:uq_generation_run_live,priority:3" json:"-"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	CurrentStep string         `gorm:"column:current_step" json:"current_step,omitempty"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	ErrorKind   string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	State       datatypes.JSON `gorm:"column:state;type:jsonb" json:"state,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (GenerationRun) TableName() string { return "generation_run" }

// Terminal reports whether the run has reached a final state.
func (r *GenerationRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

func ValidKind(kind string) bool {
	switch kind {
	case KindCourse, KindChapter, KindLesson, KindActivity:
		return true
	}
	return false
}
