// file: internals/features/school/sessions/sessions/service/reconciler.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

const DefaultRowTimeout = 5 * time.Second

// BatchResult counts what one collection applied. Created maps client keys to new ids.
type BatchResult struct {
	Added      int                  `json:"added"`
	Modified   int                  `json:"modified"`
	Removed    int                  `json:"removed"`
	GradeStubs int                  `json:"grade_stubs"`
	Created    map[string]uuid.UUID `json:"created,omitempty"`
	Failures   []RowFailure         `json:"failures,omitempty"`
}

func (b BatchResult) OK() bool      { return len(b.Failures) == 0 }
func (b BatchResult) Applied() int { return b.Added + b.Modified + b.Removed + b.GradeStubs }

func (b *BatchResult) fail(op string, rowID string, err error) {
	b.Failures = append(b.Failures, RowFailure{Op: op, RowID: rowID, Err: err})
}

func (b *BatchResult) created(clientKey string, id uuid.UUID) {
	if clientKey == "" {
		return
	}
	if b.Created == nil {
		b.Created = map[string]uuid.UUID{}
	}
	b.Created[clientKey] = id
}

type ReconciliationResult struct {
	Assignments BatchResult `json:"assignments"`
	Attendance  BatchResult `json:"attendance"`
}

func (r ReconciliationResult) Applied() int { return r.Assignments.Applied() + r.Attendance.Applied() }

// Err is nil when every row applied, otherwise a *PartialReconciliationFailure.
func (r ReconciliationResult) Err() error {
	pf := &PartialReconciliationFailure{Failures: map[Batch][]RowFailure{}}
	if !r.Assignments.OK() {
		pf.Failed = append(pf.Failed, BatchAssignments)
		pf.Failures[BatchAssignments] = r.Assignments.Failures
	}
	if !r.Attendance.OK() {
		pf.Failed = append(pf.Failed, BatchAttendance)
		pf.Failures[BatchAttendance] = r.Attendance.Failures
	}
	if len(pf.Failed) == 0 {
		return nil
	}
	return pf
}

/* =========================
   Reconciler
========================= */

type Reconciler struct {
	assignments AssignmentStore
	grades      GradeStore
	attendance  AttendanceStore
	students    StudentRecordLookup
	validate    *validator.Validate
	rowTimeout  time.Duration
	log         *zap.Logger
}

func NewReconciler(st Store, rowTimeout time.Duration, log *zap.Logger) *Reconciler {
	if rowTimeout <= 0 {
		rowTimeout = DefaultRowTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		assignments: st.Assignments,
		grades:      st.Grades,
		attendance:  st.Attendance,
		students:    st.Students,
		validate:    validator.New(),
		rowTimeout:  rowTimeout,
		log:         log.Named("reconciler"),
	}
}

/*
Reconcile applies both change sets to one session.

Failures are collected per row and the batch keeps going with independent rows.
Steps that depend on a failed row (soft-delete after its grade cleanup, grade
stubs after its insert) are skipped. Nothing is rolled back.
*/
func (r *Reconciler) Reconcile(
	ctx context.Context,
	session sessModel.ClassroomSessionModel,
	assignments ChangeSet[sessModel.AssignmentModel],
	attendance ChangeSet[sessModel.AttendanceModel],
	enrollment []Enrollee,
) (ReconciliationResult, error) {
	var res ReconciliationResult
	if assignments.IsEmpty() && attendance.IsEmpty() {
		return res, nil
	}
	if err := r.Validate(assignments, attendance); err != nil {
		return res, err
	}

	// New attendees get stubs for new assignments from the assignment batch and
	// for existing ones from their own back-fill.
	stubStudents := enrolledStudentIDs(enrollment)
	for _, a := range attendance.Added {
		stubStudents = appendUnique(stubStudents, a.AttendanceStudentID)
	}
	removing := make(map[uuid.UUID]struct{}, len(assignments.Removed))
	for _, a := range assignments.Removed {
		removing[a.AssignmentID] = struct{}{}
	}

	var g errgroup.Group
	g.Go(func() error {
		res.Assignments = r.applyAssignments(ctx, session.SessionID, assignments, stubStudents)
		return nil
	})
	g.Go(func() error {
		res.Attendance = r.applyAttendance(ctx, session, attendance, enrollment, removing)
		return nil
	})
	_ = g.Wait()

	if err := res.Err(); err != nil {
		r.log.Warn("reconcile finished with failures",
			zap.String("session_id", session.SessionID.String()),
			zap.Int("assignment_failures", len(res.Assignments.Failures)),
			zap.Int("attendance_failures", len(res.Attendance.Failures)),
			zap.Error(err),
		)
		return res, err
	}
	return res, nil
}

// Validate checks both change sets without touching the store.
func (r *Reconciler) Validate(assignments ChangeSet[sessModel.AssignmentModel], attendance ChangeSet[sessModel.AttendanceModel]) error {
	ve := &ValidationError{}
	checkAssignment := func(prefix string, a sessModel.AssignmentModel) {
		if r.validate.Var(strings.TrimSpace(a.AssignmentTitle), "required") != nil {
			ve.Add(prefix+".assignment_title", "title is required")
		}
		if a.AssignmentDueDate == nil || a.AssignmentDueDate.IsZero() {
			ve.Add(prefix+".assignment_due_date", "due date is required")
		}
		if a.AssignmentType != "" && r.validate.Var(string(a.AssignmentType), "oneof=homework quiz project test other") != nil {
			ve.Add(prefix+".assignment_type", "invalid assignment type")
		}
		for j, f := range a.AssignmentAttachments {
			if r.validate.Var(f.AttachmentFileURL, "required,url") != nil {
				ve.Add(fmt.Sprintf("%s.assignment_attachments[%d].file_url", prefix, j), "valid file url is required")
			}
		}
	}
	checkAttendance := func(prefix string, a sessModel.AttendanceModel, requireStudent bool) {
		if requireStudent && a.AttendanceStudentID == uuid.Nil {
			ve.Add(prefix+".attendance_student_id", "student is required")
		}
		if a.AttendanceStatus != "" && r.validate.Var(string(a.AttendanceStatus), "oneof=pending present absent late excused") != nil {
			ve.Add(prefix+".attendance_status", "invalid attendance status")
		}
	}

	for i, a := range assignments.Added {
		checkAssignment(fmt.Sprintf("assignments.added[%d]", i), a)
	}
	for i, a := range assignments.Modified {
		checkAssignment(fmt.Sprintf("assignments.modified[%d]", i), a)
	}
	firstRow := make(map[uuid.UUID]int, len(attendance.Added))
	for i, a := range attendance.Added {
		prefix := fmt.Sprintf("attendance.added[%d]", i)
		checkAttendance(prefix, a, true)
		if a.AttendanceStudentID == uuid.Nil {
			continue
		}
		if j, dup := firstRow[a.AttendanceStudentID]; dup {
			ve.Add(prefix+".attendance_student_id", fmt.Sprintf("student already listed at attendance.added[%d]", j))
			continue
		}
		firstRow[a.AttendanceStudentID] = i
	}
	for i, a := range attendance.Modified {
		checkAttendance(fmt.Sprintf("attendance.modified[%d]", i), a, false)
	}
	return ve.orNil()
}

// row runs one mutation under the row timeout.
func (r *Reconciler) row(ctx context.Context, op, rowID string, fn func(ctx context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, r.rowTimeout)
	defer cancel()

	err := fn(rctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return &TransientStoreError{Op: op, RowID: rowID, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, rowID, err)
}

/* =========================
   Assignments
========================= */

func (r *Reconciler) applyAssignments(ctx context.Context, sessionID uuid.UUID, cs ChangeSet[sessModel.AssignmentModel], students []uuid.UUID) BatchResult {
	var res BatchResult

	// removed: grades first, the assignment must not vanish while its grades remain
	for _, a := range cs.Removed {
		id := a.AssignmentID
		if err := r.row(ctx, "delete grades", id.String(), func(c context.Context) error {
			return r.grades.DeleteGradesByAssignment(c, sessionID, id)
		}); err != nil {
			res.fail("delete grades", id.String(), err)
			continue
		}
		err := r.row(ctx, "delete assignment", id.String(), func(c context.Context) error {
			return r.assignments.SoftDeleteAssignment(c, sessionID, id)
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			res.fail("delete assignment", id.String(), err)
			continue
		}
		res.Removed++
	}

	for i, a := range cs.Modified {
		a.AssignmentSessionID = sessionID
		id := a.AssignmentID.String()
		if err := r.row(ctx, "update assignment", id, func(c context.Context) error {
			return r.assignments.UpdateAssignment(c, sessionID, &a)
		}); err != nil {
			res.fail("update assignment", id, err)
			continue
		}
		filesChanged := i >= len(cs.Previous) || AttachmentsChanged(cs.Previous[i].AssignmentAttachments, a.AssignmentAttachments)
		if filesChanged {
			files := attachmentRows(a.AssignmentID, a.AssignmentAttachments)
			if err := r.row(ctx, "replace attachments", id, func(c context.Context) error {
				return r.assignments.ReplaceAttachments(c, sessionID, a.AssignmentID, files)
			}); err != nil {
				res.fail("replace attachments", id, err)
				continue
			}
		}
		res.Modified++
	}

	for _, a := range cs.Added {
		row := a
		if row.AssignmentID == uuid.Nil {
			row.AssignmentID = uuid.New()
		}
		row.AssignmentSessionID = sessionID
		if row.AssignmentType == "" {
			row.AssignmentType = sessModel.AssignmentHomework
		}
		row.AssignmentAttachments = attachmentRows(row.AssignmentID, row.AssignmentAttachments)
		key := rowKey(row.AssignmentClientKey, row.AssignmentID)

		err := r.row(ctx, "insert assignment", key, func(c context.Context) error {
			return r.assignments.InsertAssignment(c, &row)
		})
		// an id already alive in this session is a retry of an earlier insert
		if errors.Is(err, ErrUniqueViolation) {
			owned, oerr := r.ownsAssignment(ctx, sessionID, row.AssignmentID)
			switch {
			case oerr != nil:
				err = oerr
			case owned:
				err = nil
			default:
				err = fmt.Errorf("%w: %w", ErrForeignRow, err)
			}
		}
		if err != nil {
			res.fail("insert assignment", key, err)
			continue
		}
		res.Added++
		res.created(row.AssignmentClientKey, row.AssignmentID)

		n, err := r.ensureGrades(ctx, []uuid.UUID{row.AssignmentID}, students)
		res.GradeStubs += n
		if err != nil {
			res.fail("grade stubs", row.AssignmentID.String(), err)
		}
	}
	return res
}

func attachmentRows(assignmentID uuid.UUID, files []sessModel.AssignmentAttachmentModel) []sessModel.AssignmentAttachmentModel {
	out := make([]sessModel.AssignmentAttachmentModel, 0, len(files))
	for _, f := range files {
		f.AttachmentID = uuid.New()
		f.AttachmentAssignmentID = assignmentID
		f.AttachmentFileURL = strings.TrimSpace(f.AttachmentFileURL)
		out = append(out, f)
	}
	return out
}

/* =========================
   Attendance
========================= */

func (r *Reconciler) applyAttendance(
	ctx context.Context,
	session sessModel.ClassroomSessionModel,
	cs ChangeSet[sessModel.AttendanceModel],
	enrollment []Enrollee,
	removingAssignments map[uuid.UUID]struct{},
) BatchResult {
	var res BatchResult

	for _, a := range cs.Removed {
		id := a.AttendanceID
		err := r.row(ctx, "delete attendance", id.String(), func(c context.Context) error {
			return r.attendance.DeleteAttendance(c, session.SessionID, id)
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			res.fail("delete attendance", id.String(), err)
			continue
		}
		res.Removed++
	}

	for _, a := range cs.Modified {
		if a.AttendanceStatus == "" {
			a.AttendanceStatus = sessModel.AttendancePending
		}
		id := a.AttendanceID.String()
		if err := r.row(ctx, "update attendance", id, func(c context.Context) error {
			return r.attendance.UpdateAttendance(c, session.SessionID, &a)
		}); err != nil {
			res.fail("update attendance", id, err)
			continue
		}
		res.Modified++
	}

	if len(cs.Added) == 0 {
		return res
	}

	records := make(map[uuid.UUID]uuid.UUID, len(enrollment))
	for _, e := range enrollment {
		if e.StudentRecordID != uuid.Nil {
			records[e.StudentID] = e.StudentRecordID
		}
	}

	// assignments to back-fill, loaded once; removals of this call are excluded
	var (
		assignmentIDs []uuid.UUID
		listErr       error
	)
	listErr = r.row(ctx, "list assignments", session.SessionID.String(), func(c context.Context) error {
		list, err := r.assignments.ListAssignments(c, session.SessionID)
		if err != nil {
			return err
		}
		for _, x := range list {
			if _, gone := removingAssignments[x.AssignmentID]; gone || x.AssignmentDeletedAt.Valid {
				continue
			}
			assignmentIDs = append(assignmentIDs, x.AssignmentID)
		}
		return nil
	})
	if listErr != nil {
		res.fail("list assignments", session.SessionID.String(), listErr)
	}

	for _, a := range cs.Added {
		row := a
		if row.AttendanceID == uuid.Nil {
			row.AttendanceID = uuid.New()
		}
		row.AttendanceSessionID = session.SessionID
		if row.AttendanceStatus == "" {
			row.AttendanceStatus = sessModel.AttendancePending
		}
		key := rowKey(row.AttendanceClientKey, row.AttendanceID)

		if row.AttendanceStudentRecordID == nil {
			rec, err := r.resolveRecord(ctx, session.SessionAcademyID, row.AttendanceStudentID, records)
			if err != nil {
				res.fail("resolve student record", key, err)
				continue
			}
			row.AttendanceStudentRecordID = rec
		}

		err := r.row(ctx, "insert attendance", key, func(c context.Context) error {
			return r.attendance.InsertAttendance(c, &row)
		})
		// same id or same student already recorded for this session: keep that row
		if errors.Is(err, ErrUniqueViolation) {
			existing, oerr := r.findAttendance(ctx, session.SessionID, row)
			switch {
			case oerr != nil:
				err = oerr
			case existing != uuid.Nil:
				row.AttendanceID = existing
				err = nil
			default:
				err = fmt.Errorf("%w: %w", ErrForeignRow, err)
			}
		}
		if err != nil {
			res.fail("insert attendance", key, err)
			continue
		}
		res.Added++
		res.created(row.AttendanceClientKey, row.AttendanceID)

		if listErr != nil {
			continue
		}
		n, err := r.ensureGrades(ctx, assignmentIDs, []uuid.UUID{row.AttendanceStudentID})
		res.GradeStubs += n
		if err != nil {
			res.fail("grade back-fill", key, err)
		}
	}
	return res
}

// resolveRecord prefers the enrollment list and falls back to the student lookup.
// A student without a record is inserted with a nil reference.
func (r *Reconciler) resolveRecord(ctx context.Context, academyID, studentID uuid.UUID, known map[uuid.UUID]uuid.UUID) (*uuid.UUID, error) {
	if rec, ok := known[studentID]; ok {
		return &rec, nil
	}
	if r.students == nil {
		return nil, nil
	}
	var rec uuid.UUID
	err := r.row(ctx, "lookup student record", studentID.String(), func(c context.Context) error {
		var err error
		rec, err = r.students.FindStudentRecordID(c, academyID, studentID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		r.log.Warn("student record not found", zap.String("student_id", studentID.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

/* =========================
   Grade stubs
========================= */

// ensureGrades inserts a pending grade for each missing (assignment, student) pair
// and returns how many rows it asked the store to create.
func (r *Reconciler) ensureGrades(ctx context.Context, assignmentIDs, studentIDs []uuid.UUID) (int, error) {
	if len(assignmentIDs) == 0 || len(studentIDs) == 0 {
		return 0, nil
	}
	var keys []GradeKey
	if err := r.row(ctx, "list grades", assignmentIDs[0].String(), func(c context.Context) error {
		var err error
		keys, err = r.grades.ListGradeKeys(c, assignmentIDs)
		return err
	}); err != nil {
		return 0, err
	}
	have := make(map[GradeKey]struct{}, len(keys))
	for _, k := range keys {
		have[k] = struct{}{}
	}

	rows := make([]sessModel.AssignmentGradeModel, 0, len(assignmentIDs)*len(studentIDs))
	for _, aid := range assignmentIDs {
		for _, sid := range studentIDs {
			if _, ok := have[GradeKey{AssignmentID: aid, StudentID: sid}]; ok {
				continue
			}
			rows = append(rows, sessModel.AssignmentGradeModel{
				AssignmentGradeID:           uuid.New(),
				AssignmentGradeAssignmentID: aid,
				AssignmentGradeStudentID:    sid,
				AssignmentGradeStatus:       sessModel.GradePending,
			})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := r.row(ctx, "insert grades", assignmentIDs[0].String(), func(c context.Context) error {
		return r.grades.InsertGrades(c, rows)
	}); err != nil {
		return 0, err
	}
	return len(rows), nil
}

/*
RepairGradeStubs fills every missing grade of a session's alive assignments, for
the enrolled students and for every student holding an attendance row.
*/
func (r *Reconciler) RepairGradeStubs(ctx context.Context, sessionID uuid.UUID, enrollment []Enrollee) (int, error) {
	var ids []uuid.UUID
	if err := r.row(ctx, "list assignments", sessionID.String(), func(c context.Context) error {
		list, err := r.assignments.ListAssignments(c, sessionID)
		for _, a := range list {
			if !a.AssignmentDeletedAt.Valid {
				ids = append(ids, a.AssignmentID)
			}
		}
		return err
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	students := enrolledStudentIDs(enrollment)
	if err := r.row(ctx, "list attendance", sessionID.String(), func(c context.Context) error {
		list, err := r.attendance.ListAttendance(c, sessionID)
		for _, a := range list {
			if a.AttendanceStudentID != uuid.Nil {
				students = appendUnique(students, a.AttendanceStudentID)
			}
		}
		return err
	}); err != nil {
		return 0, err
	}
	return r.ensureGrades(ctx, ids, students)
}

// ownsAssignment reports whether id is an alive assignment of sessionID.
func (r *Reconciler) ownsAssignment(ctx context.Context, sessionID, id uuid.UUID) (bool, error) {
	owned := false
	err := r.row(ctx, "list assignments", id.String(), func(c context.Context) error {
		list, err := r.assignments.ListAssignments(c, sessionID)
		for _, a := range list {
			if a.AssignmentID == id && !a.AssignmentDeletedAt.Valid {
				owned = true
			}
		}
		return err
	})
	return owned, err
}

// findAttendance returns the id of the session's row matching a by id or by student, or uuid.Nil.
func (r *Reconciler) findAttendance(ctx context.Context, sessionID uuid.UUID, a sessModel.AttendanceModel) (uuid.UUID, error) {
	found := uuid.Nil
	err := r.row(ctx, "list attendance", a.AttendanceID.String(), func(c context.Context) error {
		list, err := r.attendance.ListAttendance(c, sessionID)
		for _, x := range list {
			if x.AttendanceID == a.AttendanceID || x.AttendanceStudentID == a.AttendanceStudentID {
				found = x.AttendanceID
				break
			}
		}
		return err
	})
	return found, err
}

func enrolledStudentIDs(enrollment []Enrollee) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(enrollment))
	for _, e := range enrollment {
		if e.StudentID != uuid.Nil {
			out = appendUnique(out, e.StudentID)
		}
	}
	return out
}

func appendUnique(xs []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, x := range xs {
		if x == id {
			return xs
		}
	}
	return append(xs, id)
}

func rowKey(clientKey string, id uuid.UUID) string {
	if clientKey != "" {
		return clientKey
	}
	return id.String()
}
