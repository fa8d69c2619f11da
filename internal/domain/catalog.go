package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GenerationInProgress = "in_progress"
	GenerationCompleted  = "completed"
	GenerationFailed     = "failed"
)

// Course is a generated top-level catalog entity. The workflow owns the row
// while a run is live: GenerationStatus stays in_progress until the terminal
// step flips it. Published rows are publicly readable.
type Course struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug             string         `gorm:"column:slug;uniqueIndex" json:"slug"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Description      string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Categories       datatypes.JSON `gorm:"column:categories;type:jsonb" json:"categories,omitempty"`
	AltTitles        datatypes.JSON `gorm:"column:alt_titles;type:jsonb" json:"alt_titles,omitempty"`
	CoverPrompt      string         `gorm:"column:cover_prompt;type:text" json:"cover_prompt,omitempty"`
	GenerationStatus string         `gorm:"column:generation_status;not null;index" json:"generation_status"`
	IsPublished      bool           `gorm:"column:is_published;not null;default:false;index" json:"is_published"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Course) TableName() string { return "course" }

type Chapter struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CourseID         int64     `gorm:"column:course_id;not null;index" json:"course_id"`
	Slug             string    `gorm:"column:slug;uniqueIndex" json:"slug"`
	Title            string    `gorm:"column:title;not null" json:"title"`
	Description      string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Position         int       `gorm:"column:position;not null;default:0" json:"position"`
	GenerationStatus string    `gorm:"column:generation_status;not null;index" json:"generation_status"`
	IsPublished      bool      `gorm:"column:is_published;not null;default:false;index" json:"is_published"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Chapter) TableName() string { return "chapter" }

type Lesson struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChapterID        int64     `gorm:"column:chapter_id;not null;index" json:"chapter_id"`
	Slug             string    `gorm:"column:slug;uniqueIndex" json:"slug"`
	Title            string    `gorm:"column:title;not null" json:"title"`
	Content          string    `gorm:"column:content;type:text" json:"content,omitempty"`
	CoverPrompt      string    `gorm:"column:cover_prompt;type:text" json:"cover_prompt,omitempty"`
	Position         int       `gorm:"column:position;not null;default:0" json:"position"`
	GenerationStatus string    `gorm:"column:generation_status;not null;index" json:"generation_status"`
	IsPublished      bool      `gorm:"column:is_published;not null;default:false;index" json:"is_published"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Lesson) TableName() string { return "lesson" }

type Activity struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	LessonID         int64          `gorm:"column:lesson_id;not null;index" json:"lesson_id"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Kind             string         `gorm:"column:kind;not null" json:"kind"`
	Options          datatypes.JSON `gorm:"column:options;type:jsonb" json:"options,omitempty"`
	Position         int            `gorm:"column:position;not null;default:0" json:"position"`
	GenerationStatus string         `gorm:"column:generation_status;not null;index" json:"generation_status"`
	IsPublished      bool           `gorm:"column:is_published;not null;default:false;index" json:"is_published"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Activity) TableName() string { return "activity" }
