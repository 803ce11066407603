// file: internals/features/school/sessions/sessions/model/assignment_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssignmentType string

const (
	AssignmentHomework AssignmentType = "homework"
	AssignmentQuiz     AssignmentType = "quiz"
	AssignmentProject  AssignmentType = "project"
	AssignmentTest     AssignmentType = "test"
	AssignmentOther    AssignmentType = "other"
)

type AssignmentModel struct {
	AssignmentID        uuid.UUID `gorm:"type:uuid;primaryKey;column:assignment_id" json:"assignment_id"`
	AssignmentSessionID uuid.UUID `gorm:"type:uuid;not null;index;column:assignment_session_id" json:"assignment_session_id"`

	// Mutable, compared field by field on save
	AssignmentTitle       string         `gorm:"type:text;not null;column:assignment_title" json:"assignment_title"`
	AssignmentDescription *string        `gorm:"type:text;column:assignment_description" json:"assignment_description,omitempty"`
	AssignmentType        AssignmentType `gorm:"type:text;not null;default:'homework';column:assignment_type" json:"assignment_type"`
	AssignmentDueDate     *time.Time     `gorm:"type:date;column:assignment_due_date" json:"assignment_due_date,omitempty"`
	AssignmentCategoryID  *uuid.UUID     `gorm:"type:uuid;column:assignment_category_id" json:"assignment_category_id,omitempty"`

	AssignmentAttachments []AssignmentAttachmentModel `gorm:"foreignKey:AttachmentAssignmentID;references:AssignmentID" json:"assignment_attachments"`

	// Client-side key of an unsaved row (e.g. "temp-3"), never stored
	AssignmentClientKey string `gorm:"-" json:"client_key,omitempty"`

	AssignmentCreatedAt time.Time      `gorm:"column:assignment_created_at;autoCreateTime" json:"assignment_created_at"`
	AssignmentUpdatedAt time.Time      `gorm:"column:assignment_updated_at;autoUpdateTime" json:"assignment_updated_at"`
	AssignmentDeletedAt gorm.DeletedAt `gorm:"column:assignment_deleted_at;index" json:"-"`
}

func (AssignmentModel) TableName() string { return "assignments" }

type AssignmentAttachmentModel struct {
	AttachmentID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:attachment_id" json:"attachment_id"`
	AttachmentAssignmentID uuid.UUID         `gorm:"type:uuid;not null;index;column:attachment_assignment_id" json:"attachment_assignment_id"`
	AttachmentFileName     string            `gorm:"type:text;not null;column:attachment_file_name" json:"file_name"`
	AttachmentFileURL      string            `gorm:"type:text;not null;column:attachment_file_url" json:"file_url"`
	AttachmentFileSize     *int64            `gorm:"column:attachment_file_size" json:"file_size,omitempty"`
	AttachmentMimeType     *string           `gorm:"type:text;column:attachment_mime_type" json:"mime_type,omitempty"`
	AttachmentMetadata     datatypes.JSONMap `gorm:"type:jsonb;column:attachment_metadata" json:"metadata,omitempty"`
	AttachmentCreatedAt    time.Time         `gorm:"column:attachment_created_at;autoCreateTime" json:"created_at"`
}

func (AssignmentAttachmentModel) TableName() string { return "assignment_attachments" }

func (a *AssignmentAttachmentModel) BeforeCreate(tx *gorm.DB) error {
	if a.AttachmentID == uuid.Nil {
		a.AttachmentID = uuid.New()
	}
	return nil
}

/* =========================
   Grade stub, one per (assignment, student)
========================= */

type GradeStatus string

const (
	GradePending   GradeStatus = "pending"
	GradeSubmitted GradeStatus = "submitted"
	GradeGraded    GradeStatus = "graded"
)

type AssignmentGradeModel struct {
	AssignmentGradeID           uuid.UUID   `gorm:"type:uuid;primaryKey;column:assignment_grade_id" json:"assignment_grade_id"`
	AssignmentGradeAssignmentID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:uq_assignment_grade_pair;column:assignment_grade_assignment_id" json:"assignment_id"`
	AssignmentGradeStudentID    uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:uq_assignment_grade_pair;column:assignment_grade_student_id" json:"student_id"`
	AssignmentGradeStatus       GradeStatus `gorm:"type:text;not null;default:'pending';column:assignment_grade_status" json:"status"`
	AssignmentGradeScore        *float64    `gorm:"type:numeric(6,2);column:assignment_grade_score" json:"score,omitempty"`
	AssignmentGradeFeedback     *string     `gorm:"type:text;column:assignment_grade_feedback" json:"feedback,omitempty"`
	AssignmentGradeCreatedAt    time.Time   `gorm:"column:assignment_grade_created_at;autoCreateTime" json:"created_at"`
	AssignmentGradeUpdatedAt    time.Time   `gorm:"column:assignment_grade_updated_at;autoUpdateTime" json:"updated_at"`
}

func (AssignmentGradeModel) TableName() string { return "assignment_grades" }

func (g *AssignmentGradeModel) BeforeCreate(tx *gorm.DB) error {
	if g.AssignmentGradeID == uuid.Nil {
		g.AssignmentGradeID = uuid.New()
	}
	return nil
}
