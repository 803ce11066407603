// file: internals/features/school/sessions/sessions/model/session_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/* =========================
   Enum
========================= */

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

const DefaultSessionLocation = "offline"

/* =========================
   Model: ClassroomSessionModel
   Unique (classroom_id, date) among alive rows, see databases.Migrate.
========================= */

type ClassroomSessionModel struct {
	SessionID          uuid.UUID `gorm:"type:uuid;primaryKey;column:session_id" json:"session_id"`
	SessionClassroomID uuid.UUID `gorm:"type:uuid;not null;column:session_classroom_id" json:"session_classroom_id"`
	SessionAcademyID   uuid.UUID `gorm:"type:uuid;not null;index;column:session_academy_id" json:"session_academy_id"`

	// Occurrence
	SessionDate      time.Time      `gorm:"type:date;not null;column:session_date" json:"session_date"`
	SessionStartTime datatypes.Time `gorm:"type:time;not null;column:session_start_time" json:"session_start_time"`
	SessionEndTime   datatypes.Time `gorm:"type:time;not null;column:session_end_time" json:"session_end_time"`

	SessionLocation            string        `gorm:"type:text;not null;default:'offline';column:session_location" json:"session_location"`
	SessionStatus              SessionStatus `gorm:"type:text;not null;default:'scheduled';column:session_status" json:"session_status"`
	SessionNotes               *string       `gorm:"type:text;column:session_notes" json:"session_notes,omitempty"`
	SessionSubstituteTeacherID *uuid.UUID    `gorm:"type:uuid;column:session_substitute_teacher_id" json:"session_substitute_teacher_id,omitempty"`

	// Computed per expansion, never stored
	SessionIsVirtual bool `gorm:"-" json:"is_virtual"`

	SessionCreatedAt time.Time      `gorm:"column:session_created_at;autoCreateTime" json:"session_created_at"`
	SessionUpdatedAt time.Time      `gorm:"column:session_updated_at;autoUpdateTime" json:"session_updated_at"`
	SessionDeletedAt gorm.DeletedAt `gorm:"column:session_deleted_at;index" json:"-"`
}

func (ClassroomSessionModel) TableName() string { return "classroom_sessions" }

func (s *ClassroomSessionModel) BeforeCreate(tx *gorm.DB) error {
	if s.SessionID == uuid.Nil {
		s.SessionID = uuid.New()
	}
	return nil
}

// DateKey is the YYYY-MM-DD form used for dedup keys and cache signatures.
func (s ClassroomSessionModel) DateKey() string {
	return s.SessionDate.Format("2006-01-02")
}
