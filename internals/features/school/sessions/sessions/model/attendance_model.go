// file: internals/features/school/sessions/sessions/model/attendance_model.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceStatus string

const (
	AttendancePending AttendanceStatus = "pending"
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
)

type AttendanceModel struct {
	AttendanceID        uuid.UUID `gorm:"type:uuid;primaryKey;column:attendance_id" json:"attendance_id"`
	AttendanceSessionID uuid.UUID `gorm:"type:uuid;not null;index:idx_attendance_session;column:attendance_session_id" json:"attendance_session_id"`
	AttendanceStudentID uuid.UUID `gorm:"type:uuid;not null;index:idx_attendance_student;column:attendance_student_id" json:"attendance_student_id"`

	// students.student_record_id, resolved on insert
	AttendanceStudentRecordID *uuid.UUID `gorm:"type:uuid;column:attendance_student_record_id" json:"attendance_student_record_id,omitempty"`

	AttendanceStatus AttendanceStatus `gorm:"type:varchar(16);not null;default:'pending';column:attendance_status" json:"attendance_status"`
	AttendanceNote   *string          `gorm:"type:text;column:attendance_note" json:"attendance_note,omitempty"`

	// Display only
	AttendanceStudentName string `gorm:"-" json:"student_name,omitempty"`
	AttendanceClientKey   string `gorm:"-" json:"client_key,omitempty"`

	AttendanceCreatedAt time.Time `gorm:"column:attendance_created_at;autoCreateTime" json:"attendance_created_at"`
	AttendanceUpdatedAt time.Time `gorm:"column:attendance_updated_at;autoUpdateTime" json:"attendance_updated_at"`
}

func (AttendanceModel) TableName() string { return "attendance" }
