// file: internals/features/school/sessions/sessions/service/ports.go
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

/*
Store ports. Adapters return ErrNotFound / ErrUniqueViolation / ErrStoreUnavailable
(wrapped or bare) so the service can branch with errors.Is.
*/

type SessionStore interface {
	// ListSessions returns alive sessions of a classroom with from <= date <= to.
	ListSessions(ctx context.Context, classroomID uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error)
	FindSessionByDate(ctx context.Context, classroomID uuid.UUID, date time.Time) (*sessModel.ClassroomSessionModel, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*sessModel.ClassroomSessionModel, error)
	// InsertSession must fail with ErrUniqueViolation when an alive row exists for (classroom, date).
	InsertSession(ctx context.Context, s *sessModel.ClassroomSessionModel) error
}

type AssignmentStore interface {
	ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AssignmentModel, error)
	// InsertAssignment stores the row together with its attachments and sets AssignmentID.
	InsertAssignment(ctx context.Context, a *sessModel.AssignmentModel) error
	// UpdateAssignment writes title, description, type, due date and category only.
	// Writes keyed by row id also match sessionID; a row of another session is ErrNotFound.
	UpdateAssignment(ctx context.Context, sessionID uuid.UUID, a *sessModel.AssignmentModel) error
	SoftDeleteAssignment(ctx context.Context, sessionID, assignmentID uuid.UUID) error
	ReplaceAttachments(ctx context.Context, sessionID, assignmentID uuid.UUID, files []sessModel.AssignmentAttachmentModel) error
}

type GradeStore interface {
	// DeleteGradesByAssignment is a no-op unless the assignment belongs to sessionID.
	DeleteGradesByAssignment(ctx context.Context, sessionID, assignmentID uuid.UUID) error
	ListGradeKeys(ctx context.Context, assignmentIDs []uuid.UUID) ([]GradeKey, error)
	// InsertGrades skips rows whose (assignment, student) pair already exists.
	InsertGrades(ctx context.Context, rows []sessModel.AssignmentGradeModel) error
}

type AttendanceStore interface {
	ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AttendanceModel, error)
	// InsertAttendance fails with ErrUniqueViolation when the student already has a row in the session.
	InsertAttendance(ctx context.Context, a *sessModel.AttendanceModel) error
	// UpdateAttendance writes status and note only.
	UpdateAttendance(ctx context.Context, sessionID uuid.UUID, a *sessModel.AttendanceModel) error
	DeleteAttendance(ctx context.Context, sessionID, attendanceID uuid.UUID) error
}

type StudentRecordLookup interface {
	FindStudentRecordID(ctx context.Context, academyID, studentID uuid.UUID) (uuid.UUID, error)
}

// ScheduleSource reads the upstream classroom configuration.
type ScheduleSource interface {
	GetClassroom(ctx context.Context, academyID, classroomID uuid.UUID) (*classModel.ClassroomModel, error)
	// ListActiveClassrooms returns every classroom that is not paused, across academies.
	ListActiveClassrooms(ctx context.Context) ([]classModel.ClassroomModel, error)
	ListSchedules(ctx context.Context, classroomID uuid.UUID) ([]schedModel.ClassroomScheduleModel, error)
	ListBreaks(ctx context.Context, classroomID uuid.UUID, from, to time.Time) ([]schedModel.ScheduleBreakModel, error)
	ListHolidays(ctx context.Context, academyID uuid.UUID) ([]schedModel.HolidayModel, error)
	ListEnrollment(ctx context.Context, classroomID uuid.UUID) ([]Enrollee, error)
}

// Store bundles every port; a single adapter may back all of them.
type Store struct {
	Sessions    SessionStore
	Assignments AssignmentStore
	Grades      GradeStore
	Attendance  AttendanceStore
	Students    StudentRecordLookup
	Schedules   ScheduleSource
}

// Enrollee is one currently enrolled student of a classroom.
type Enrollee struct {
	StudentID       uuid.UUID `json:"student_id"`
	StudentRecordID uuid.UUID `json:"student_record_id"`
	StudentName     string    `json:"student_name,omitempty"`
}

type GradeKey struct {
	AssignmentID uuid.UUID
	StudentID    uuid.UUID
}
