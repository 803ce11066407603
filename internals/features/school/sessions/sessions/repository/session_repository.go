// file: internals/features/school/sessions/sessions/repository/session_repository.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
	"schoolops_backend/internals/features/school/sessions/sessions/service"
)

const (
	dateLayout     = "2006-01-02"
	gradeBatchSize = 500
)

// Repository is the PostgreSQL adapter for every service port.
type Repository struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Repository { return &Repository{DB: db} }

func (r *Repository) Store() service.Store {
	return service.Store{
		Sessions:    r,
		Assignments: r,
		Grades:      r,
		Attendance:  r,
		Students:    r,
		Schedules:   r,
	}
}

func (r *Repository) tx(ctx context.Context) *gorm.DB { return r.DB.WithContext(ctx) }

/* =========================
   Sessions
========================= */

func (r *Repository) ListSessions(ctx context.Context, classroomID uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error) {
	var rows []sessModel.ClassroomSessionModel
	err := r.tx(ctx).
		Where("session_classroom_id = ? AND session_date BETWEEN ? AND ?",
			classroomID, from.Format(dateLayout), to.Format(dateLayout)).
		Order("session_date ASC, session_start_time ASC").
		Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) FindSessionByDate(ctx context.Context, classroomID uuid.UUID, date time.Time) (*sessModel.ClassroomSessionModel, error) {
	var row sessModel.ClassroomSessionModel
	if err := r.tx(ctx).
		Where("session_classroom_id = ? AND session_date = ?", classroomID, date.Format(dateLayout)).
		Take(&row).Error; err != nil {
		return nil, mapError(err)
	}
	return &row, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID uuid.UUID) (*sessModel.ClassroomSessionModel, error) {
	var row sessModel.ClassroomSessionModel
	if err := r.tx(ctx).Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
		return nil, mapError(err)
	}
	return &row, nil
}

// InsertSession relies on uq_classroom_sessions_classroom_date_alive for concurrent inserts.
func (r *Repository) InsertSession(ctx context.Context, s *sessModel.ClassroomSessionModel) error {
	return mapError(r.tx(ctx).Create(s).Error)
}

/* =========================
   Assignments
========================= */

func (r *Repository) ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AssignmentModel, error) {
	var rows []sessModel.AssignmentModel
	err := r.tx(ctx).
		Preload("AssignmentAttachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("attachment_created_at ASC")
		}).
		Where("assignment_session_id = ?", sessionID).
		Order("assignment_created_at ASC").
		Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) InsertAssignment(ctx context.Context, a *sessModel.AssignmentModel) error {
	return mapError(r.tx(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
			return err
		}
		if len(a.AssignmentAttachments) == 0 {
			return nil
		}
		for i := range a.AssignmentAttachments {
			a.AssignmentAttachments[i].AttachmentAssignmentID = a.AssignmentID
		}
		return tx.Create(&a.AssignmentAttachments).Error
	}))
}

func (r *Repository) UpdateAssignment(ctx context.Context, sessionID uuid.UUID, a *sessModel.AssignmentModel) error {
	return affected(r.tx(ctx).
		Model(&sessModel.AssignmentModel{}).
		Where("assignment_id = ? AND assignment_session_id = ?", a.AssignmentID, sessionID).
		Updates(map[string]any{
			"assignment_title":       a.AssignmentTitle,
			"assignment_description": a.AssignmentDescription,
			"assignment_type":        a.AssignmentType,
			"assignment_due_date":    a.AssignmentDueDate,
			"assignment_category_id": a.AssignmentCategoryID,
			"assignment_updated_at":  time.Now(),
		}))
}

func (r *Repository) SoftDeleteAssignment(ctx context.Context, sessionID, assignmentID uuid.UUID) error {
	return affected(r.tx(ctx).
		Where("assignment_id = ? AND assignment_session_id = ?", assignmentID, sessionID).
		Delete(&sessModel.AssignmentModel{}))
}

func (r *Repository) ReplaceAttachments(ctx context.Context, sessionID, assignmentID uuid.UUID, files []sessModel.AssignmentAttachmentModel) error {
	return mapError(r.tx(ctx).Transaction(func(tx *gorm.DB) error {
		// lock the parent so the attachments of another session stay untouched
		var owner sessModel.AssignmentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("assignment_id").
			Where("assignment_id = ? AND assignment_session_id = ?", assignmentID, sessionID).
			Take(&owner).Error; err != nil {
			return err
		}
		if err := tx.Where("attachment_assignment_id = ?", assignmentID).
			Delete(&sessModel.AssignmentAttachmentModel{}).Error; err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		return tx.Create(&files).Error
	}))
}

/* =========================
   Grades
========================= */

func (r *Repository) DeleteGradesByAssignment(ctx context.Context, sessionID, assignmentID uuid.UUID) error {
	return mapError(r.tx(ctx).
		Where(`assignment_grade_assignment_id IN (
			SELECT assignment_id FROM assignments WHERE assignment_id = ? AND assignment_session_id = ?)`,
			assignmentID, sessionID).
		Delete(&sessModel.AssignmentGradeModel{}).Error)
}

func (r *Repository) ListGradeKeys(ctx context.Context, assignmentIDs []uuid.UUID) ([]service.GradeKey, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	var rows []struct {
		AssignmentID uuid.UUID `gorm:"column:assignment_grade_assignment_id"`
		StudentID    uuid.UUID `gorm:"column:assignment_grade_student_id"`
	}
	if err := r.tx(ctx).
		Model(&sessModel.AssignmentGradeModel{}).
		Select("assignment_grade_assignment_id, assignment_grade_student_id").
		Where("assignment_grade_assignment_id IN ?", assignmentIDs).
		Scan(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]service.GradeKey, 0, len(rows))
	for _, x := range rows {
		out = append(out, service.GradeKey{AssignmentID: x.AssignmentID, StudentID: x.StudentID})
	}
	return out, nil
}

// InsertGrades is idempotent on (assignment, student).
func (r *Repository) InsertGrades(ctx context.Context, rows []sessModel.AssignmentGradeModel) error {
	if len(rows) == 0 {
		return nil
	}
	return mapError(r.tx(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assignment_grade_assignment_id"}, {Name: "assignment_grade_student_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, gradeBatchSize).Error)
}

/* =========================
   Attendance
========================= */

func (r *Repository) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AttendanceModel, error) {
	var rows []sessModel.AttendanceModel
	if err := r.tx(ctx).
		Where("attendance_session_id = ?", sessionID).
		Order("attendance_created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}

	// display names for the edit screen
	ids := make([]uuid.UUID, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.AttendanceStudentID)
	}
	if len(ids) == 0 {
		return rows, nil
	}
	var names []classModel.StudentModel
	if err := r.tx(ctx).
		Select("student_user_id, student_name").
		Where("student_user_id IN ?", ids).
		Find(&names).Error; err != nil {
		return nil, mapError(err)
	}
	byUser := make(map[uuid.UUID]string, len(names))
	for _, n := range names {
		byUser[n.StudentUserID] = n.StudentName
	}
	for i := range rows {
		rows[i].AttendanceStudentName = byUser[rows[i].AttendanceStudentID]
	}
	return rows, nil
}

// InsertAttendance relies on uq_attendance_session_student for a double-submitted student.
func (r *Repository) InsertAttendance(ctx context.Context, a *sessModel.AttendanceModel) error {
	return mapError(r.tx(ctx).Create(a).Error)
}

func (r *Repository) UpdateAttendance(ctx context.Context, sessionID uuid.UUID, a *sessModel.AttendanceModel) error {
	return affected(r.tx(ctx).
		Model(&sessModel.AttendanceModel{}).
		Where("attendance_id = ? AND attendance_session_id = ?", a.AttendanceID, sessionID).
		Updates(map[string]any{
			"attendance_status":     a.AttendanceStatus,
			"attendance_note":       a.AttendanceNote,
			"attendance_updated_at": time.Now(),
		}))
}

func (r *Repository) DeleteAttendance(ctx context.Context, sessionID, attendanceID uuid.UUID) error {
	return affected(r.tx(ctx).
		Where("attendance_id = ? AND attendance_session_id = ?", attendanceID, sessionID).
		Delete(&sessModel.AttendanceModel{}))
}

/* =========================
   Students & schedule source
========================= */

func (r *Repository) FindStudentRecordID(ctx context.Context, academyID, studentID uuid.UUID) (uuid.UUID, error) {
	var s classModel.StudentModel
	if err := r.tx(ctx).
		Select("student_record_id").
		Where("student_user_id = ? AND student_academy_id = ?", studentID, academyID).
		Take(&s).Error; err != nil {
		return uuid.Nil, mapError(err)
	}
	return s.StudentRecordID, nil
}

func (r *Repository) GetClassroom(ctx context.Context, academyID, classroomID uuid.UUID) (*classModel.ClassroomModel, error) {
	var c classModel.ClassroomModel
	if err := r.tx(ctx).
		Where("classroom_id = ? AND classroom_academy_id = ?", classroomID, academyID).
		Take(&c).Error; err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r *Repository) ListActiveClassrooms(ctx context.Context) ([]classModel.ClassroomModel, error) {
	var rows []classModel.ClassroomModel
	err := r.tx(ctx).Where("classroom_is_paused = FALSE").Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) ListSchedules(ctx context.Context, classroomID uuid.UUID) ([]schedModel.ClassroomScheduleModel, error) {
	var rows []schedModel.ClassroomScheduleModel
	err := r.tx(ctx).
		Where("classroom_schedule_classroom_id = ?", classroomID).
		Order("classroom_schedule_day ASC, classroom_schedule_start_time ASC").
		Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) ListBreaks(ctx context.Context, classroomID uuid.UUID, from, to time.Time) ([]schedModel.ScheduleBreakModel, error) {
	var rows []schedModel.ScheduleBreakModel
	err := r.tx(ctx).
		Where("schedule_break_classroom_id = ? AND schedule_break_start_date <= ? AND schedule_break_end_date >= ?",
			classroomID, to.Format(dateLayout), from.Format(dateLayout)).
		Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) ListHolidays(ctx context.Context, academyID uuid.UUID) ([]schedModel.HolidayModel, error) {
	var rows []schedModel.HolidayModel
	err := r.tx(ctx).
		Where("holiday_academy_id = ? AND holiday_is_active = TRUE", academyID).
		Find(&rows).Error
	return rows, mapError(err)
}

func (r *Repository) ListEnrollment(ctx context.Context, classroomID uuid.UUID) ([]service.Enrollee, error) {
	var rows []struct {
		StudentID       uuid.UUID  `gorm:"column:student_id"`
		StudentRecordID *uuid.UUID `gorm:"column:student_record_id"`
		StudentName     *string    `gorm:"column:student_name"`
	}
	const q = `
SELECT
  cs.classroom_student_student_id AS student_id,
  s.student_record_id,
  s.student_name
FROM classroom_students cs
LEFT JOIN students s
  ON s.student_user_id = cs.classroom_student_student_id
 AND s.student_active = TRUE
WHERE cs.classroom_student_classroom_id = ?
ORDER BY s.student_name NULLS LAST, cs.classroom_student_created_at`
	if err := r.tx(ctx).Raw(q, classroomID).Scan(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Enrollee, 0, len(rows))
	for _, x := range rows {
		e := service.Enrollee{StudentID: x.StudentID}
		if x.StudentRecordID != nil {
			e.StudentRecordID = *x.StudentRecordID
		}
		if x.StudentName != nil {
			e.StudentName = *x.StudentName
		}
		out = append(out, e)
	}
	return out, nil
}
