// file: internals/features/school/classrooms/model/classroom_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/* =========================
   Classroom (owned upstream, read-only here)
========================= */

type ClassroomModel struct {
	ClassroomID        uuid.UUID `gorm:"type:uuid;primaryKey;column:classroom_id" json:"classroom_id"`
	ClassroomAcademyID uuid.UUID `gorm:"type:uuid;not null;index;column:classroom_academy_id" json:"classroom_academy_id"`
	ClassroomName      string    `gorm:"type:text;not null;column:classroom_name" json:"classroom_name"`

	// Default venue for generated sessions, nil = "offline"
	ClassroomDefaultLocation *string `gorm:"type:text;column:classroom_default_location" json:"classroom_default_location,omitempty"`

	// Paused classrooms produce no occurrences at all
	ClassroomIsPaused bool `gorm:"not null;default:false;column:classroom_is_paused" json:"classroom_is_paused"`

	// IANA name, nil = service default
	ClassroomTimezone *string `gorm:"type:text;column:classroom_timezone" json:"classroom_timezone,omitempty"`

	ClassroomCreatedAt time.Time      `gorm:"column:classroom_created_at;autoCreateTime" json:"classroom_created_at"`
	ClassroomUpdatedAt time.Time      `gorm:"column:classroom_updated_at;autoUpdateTime" json:"classroom_updated_at"`
	ClassroomDeletedAt gorm.DeletedAt `gorm:"column:classroom_deleted_at;index" json:"-"`
}

func (ClassroomModel) TableName() string { return "classrooms" }

/* =========================
   Enrollment
========================= */

type ClassroomStudentModel struct {
	ClassroomStudentID          uuid.UUID `gorm:"type:uuid;primaryKey;column:classroom_student_id" json:"classroom_student_id"`
	ClassroomStudentClassroomID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_classroom_student;column:classroom_student_classroom_id" json:"classroom_id"`
	ClassroomStudentStudentID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_classroom_student;column:classroom_student_student_id" json:"student_id"`
	ClassroomStudentCreatedAt   time.Time `gorm:"column:classroom_student_created_at;autoCreateTime" json:"created_at"`
}

func (ClassroomStudentModel) TableName() string { return "classroom_students" }

func (cs *ClassroomStudentModel) BeforeCreate(tx *gorm.DB) error {
	if cs.ClassroomStudentID == uuid.Nil {
		cs.ClassroomStudentID = uuid.New()
	}
	return nil
}

// StudentModel is the per-academy student record referenced by attendance rows.
type StudentModel struct {
	StudentRecordID  uuid.UUID `gorm:"type:uuid;primaryKey;column:student_record_id" json:"student_record_id"`
	StudentUserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;column:student_user_id" json:"student_user_id"`
	StudentAcademyID uuid.UUID `gorm:"type:uuid;not null;index;column:student_academy_id" json:"student_academy_id"`
	StudentName      string    `gorm:"type:text;not null;default:'';column:student_name" json:"student_name"`
	StudentActive    bool      `gorm:"not null;default:true;column:student_active" json:"student_active"`
}

func (StudentModel) TableName() string { return "students" }
