package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

type (
	assignmentSet = ChangeSet[sessModel.AssignmentModel]
	attendanceSet = ChangeSet[sessModel.AttendanceModel]
)

func newTestReconciler(f *fixture, timeout time.Duration) *Reconciler {
	return NewReconciler(f.store.Store(), timeout, zap.NewNop())
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func TestReconcile_EmptyChangeSetsTouchNothing(t *testing.T) {
	f := newFixture(3)
	s := f.session("2025-09-08")
	f.store.resetOps()

	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s, assignmentSet{}, attendanceSet{}, f.students)

	require.NoError(t, err)
	assert.Zero(t, res.Applied())
	assert.Zero(t, f.store.calls())
}

func TestReconcile_AddedAssignmentGetsOneGradePerStudent(t *testing.T) {
	f := newFixture(3)
	s := f.session("2025-09-08")
	quiz := assignment(uuid.Nil, "Quiz", "2025-09-12")
	quiz.AssignmentClientKey = "temp-1"

	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s,
		assignmentSet{Added: []sessModel.AssignmentModel{quiz}}, attendanceSet{}, f.students)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Assignments.Added)
	assert.Equal(t, 3, res.Assignments.GradeStubs)
	id := res.Assignments.Created["temp-1"]
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 3, f.store.gradeCount(id))

	stored, ok := f.store.assignment(id)
	require.True(t, ok)
	assert.Equal(t, s.SessionID, stored.AssignmentSessionID)
}

func TestReconcile_RetryAfterGradeFailureYieldsExactlyN(t *testing.T) {
	f := newFixture(4)
	s := f.session("2025-09-08")
	r := newTestReconciler(f, time.Second)
	quiz := assignment(uuid.Nil, "Quiz", "2025-09-12")
	quiz.AssignmentClientKey = "temp-1"

	f.store.failOn["InsertGrades"] = errors.New("connection reset")
	res, err := r.Reconcile(context.Background(), s, assignmentSet{Added: []sessModel.AssignmentModel{quiz}}, attendanceSet{}, f.students)

	var pf *PartialReconciliationFailure
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, []Batch{BatchAssignments}, pf.Failed)
	id := res.Assignments.Created["temp-1"]
	require.NotEqual(t, uuid.Nil, id)
	assert.Zero(t, f.store.gradeCount(id))

	// client resends the row with the id it got back; original is unchanged
	delete(f.store.failOn, "InsertGrades")
	quiz.AssignmentID = id
	cs := Detect(nil, []sessModel.AssignmentModel{quiz}, AssignmentComparator)
	res, err = r.Reconcile(context.Background(), s, cs, attendanceSet{}, f.students)
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.gradeCount(id))

	// and once more for good measure
	_, err = r.Reconcile(context.Background(), s, cs, attendanceSet{}, f.students)
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.gradeCount(id))
	assert.Len(t, f.store.order, 1)
}

func TestReconcile_RemovedAssignmentDropsGradesFirst(t *testing.T) {
	f := newFixture(2)
	s := f.session("2025-09-08")
	a := assignment(uuid.New(), "Essay", "2025-09-01")
	a.AssignmentSessionID = s.SessionID
	f.store.putAssignment(a)
	for _, e := range f.students {
		f.store.putGrade(a.AssignmentID, e.StudentID)
	}

	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s,
		assignmentSet{Removed: []sessModel.AssignmentModel{a}}, attendanceSet{}, f.students)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Assignments.Removed)
	ops := f.store.opLog()
	assert.Less(t, indexOf(ops, "DeleteGradesByAssignment"), indexOf(ops, "SoftDeleteAssignment"))
	assert.Zero(t, f.store.gradeCount(a.AssignmentID))
	stored, _ := f.store.assignment(a.AssignmentID)
	assert.True(t, stored.AssignmentDeletedAt.Valid)
}

func TestReconcile_GradeCleanupFailureKeepsAssignment(t *testing.T) {
	f := newFixture(2)
	s := f.session("2025-09-08")
	a := assignment(uuid.New(), "Essay", "2025-09-01")
	a.AssignmentSessionID = s.SessionID
	f.store.putAssignment(a)
	f.store.failOn["DeleteGradesByAssignment"] = errors.New("boom")

	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s,
		assignmentSet{Removed: []sessModel.AssignmentModel{a}}, attendanceSet{}, f.students)

	require.Error(t, err)
	require.Len(t, res.Assignments.Failures, 1)
	assert.Equal(t, "delete grades", res.Assignments.Failures[0].Op)
	assert.Equal(t, -1, indexOf(f.store.opLog(), "SoftDeleteAssignment"))
	stored, _ := f.store.assignment(a.AssignmentID)
	assert.False(t, stored.AssignmentDeletedAt.Valid)
}

func TestReconcile_RemovedAttendanceLeavesGrades(t *testing.T) {
	f := newFixture(2)
	s := f.session("2025-09-08")
	a := assignment(uuid.New(), "Essay", "2025-09-01")
	a.AssignmentSessionID = s.SessionID
	f.store.putAssignment(a)
	for _, e := range f.students {
		f.store.putGrade(a.AssignmentID, e.StudentID)
	}
	att1 := sessModel.AttendanceModel{
		AttendanceID:        uuid.New(),
		AttendanceSessionID: s.SessionID,
		AttendanceStudentID: f.students[0].StudentID,
		AttendanceStatus:    sessModel.AttendancePending,
	}
	f.store.putAttendance(att1)

	cs := Detect([]sessModel.AttendanceModel{att1}, nil, AttendanceComparator)
	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s, assignmentSet{}, cs, f.students)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Attendance.Removed)
	list, _ := f.store.ListAttendance(context.Background(), s.SessionID)
	assert.Empty(t, list)
	assert.Equal(t, 2, f.store.gradeCount(a.AssignmentID))
}

func TestReconcile_ValidationBlocksAllWrites(t *testing.T) {
	f := newFixture(2)
	s := f.session("2025-09-08")
	f.store.resetOps()
	noTitle := assignment(uuid.Nil, "  ", "2025-09-12")
	noDue := assignment(uuid.Nil, "Quiz", "2025-09-12")
	noDue.AssignmentDueDate = nil
	badStatus := sessModel.AttendanceModel{AttendanceStudentID: uuid.New(), AttendanceStatus: "sleeping"}

	_, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s,
		assignmentSet{Added: []sessModel.AssignmentModel{noTitle, noDue}},
		attendanceSet{Added: []sessModel.AttendanceModel{badStatus}},
		f.students)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "assignments.added[0].assignment_title")
	assert.Contains(t, ve.Fields, "assignments.added[1].assignment_due_date")
	assert.Contains(t, ve.Fields, "attendance.added[0].attendance_status")
	assert.Zero(t, f.store.calls())
}

func TestReconcile_RowTimeoutIsTransient(t *testing.T) {
	f := newFixture(1)
	s := f.session("2025-09-08")
	att := sessModel.AttendanceModel{
		AttendanceID:        uuid.New(),
		AttendanceSessionID: s.SessionID,
		AttendanceStudentID: f.students[0].StudentID,
		AttendanceStatus:    sessModel.AttendancePending,
	}
	f.store.putAttendance(att)
	f.store.hang["UpdateAttendance"] = true

	edited := att
	edited.AttendanceStatus = sessModel.AttendancePresent
	quiz := assignment(uuid.Nil, "Quiz", "2025-09-12")

	res, err := newTestReconciler(f, 20*time.Millisecond).Reconcile(context.Background(), s,
		assignmentSet{Added: []sessModel.AssignmentModel{quiz}},
		Detect([]sessModel.AttendanceModel{att}, []sessModel.AttendanceModel{edited}, AttendanceComparator),
		f.students)

	var pf *PartialReconciliationFailure
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, []Batch{BatchAttendance}, pf.Failed)
	assert.True(t, pf.Retryable())
	var te *TransientStoreError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, att.AttendanceID.String(), te.RowID)

	// the other batch is kept
	assert.Equal(t, 1, res.Assignments.Added)
	assert.True(t, res.Assignments.OK())
}

func TestReconcile_AddedAttendanceBackfillsGrades(t *testing.T) {
	f := newFixture(1)
	s := f.session("2025-09-08")
	keep := assignment(uuid.New(), "Essay", "2025-09-01")
	keep.AssignmentSessionID = s.SessionID
	gone := assignment(uuid.New(), "Old quiz", "2025-09-01")
	gone.AssignmentSessionID = s.SessionID
	f.store.putAssignment(keep)
	f.store.putAssignment(gone)
	for _, a := range []uuid.UUID{keep.AssignmentID, gone.AssignmentID} {
		f.store.putGrade(a, f.students[0].StudentID)
	}

	// student not in the enrollment snapshot, record comes from the lookup
	newcomer, record := uuid.New(), uuid.New()
	f.store.records[newcomer] = record
	arrival := sessModel.AttendanceModel{AttendanceStudentID: newcomer, AttendanceClientKey: "temp-a"}
	fresh := assignment(uuid.Nil, "Project", "2025-09-20")

	res, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s,
		assignmentSet{Added: []sessModel.AssignmentModel{fresh}, Removed: []sessModel.AssignmentModel{gone}},
		attendanceSet{Added: []sessModel.AttendanceModel{arrival}},
		f.students)
	require.NoError(t, err)

	attID := res.Attendance.Created["temp-a"]
	f.store.mu.Lock()
	row := f.store.attendance[attID]
	_, hasKeep := f.store.grades[GradeKey{AssignmentID: keep.AssignmentID, StudentID: newcomer}]
	_, hasGone := f.store.grades[GradeKey{AssignmentID: gone.AssignmentID, StudentID: newcomer}]
	f.store.mu.Unlock()

	require.NotNil(t, row.AttendanceStudentRecordID)
	assert.Equal(t, record, *row.AttendanceStudentRecordID)
	assert.Equal(t, sessModel.AttendancePending, row.AttendanceStatus)
	assert.True(t, hasKeep)
	assert.False(t, hasGone)

	// the new assignment covers the enrolled student and the newcomer
	var freshID uuid.UUID
	for _, id := range f.store.order {
		if a, _ := f.store.assignment(id); a.AssignmentTitle == "Project" {
			freshID = id
		}
	}
	assert.Equal(t, 2, f.store.gradeCount(freshID))
}

func TestReconcile_AttachmentsReplacedOnlyWhenChanged(t *testing.T) {
	f := newFixture(0)
	s := f.session("2025-09-08")
	a := assignment(uuid.New(), "Essay", "2025-09-01")
	a.AssignmentSessionID = s.SessionID
	a.AssignmentAttachments = []sessModel.AssignmentAttachmentModel{{AttachmentFileURL: "https://files.test/a.pdf", AttachmentFileName: "a.pdf"}}
	f.store.putAssignment(a)
	r := newTestReconciler(f, time.Second)

	retitled := a
	retitled.AssignmentTitle = "Essay v2"
	_, err := r.Reconcile(context.Background(), s,
		Detect([]sessModel.AssignmentModel{a}, []sessModel.AssignmentModel{retitled}, AssignmentComparator),
		attendanceSet{}, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, indexOf(f.store.opLog(), "ReplaceAttachments"))

	f.store.resetOps()
	refiled := retitled
	refiled.AssignmentAttachments = []sessModel.AssignmentAttachmentModel{{AttachmentFileURL: "https://files.test/b.pdf", AttachmentFileName: "b.pdf"}}
	_, err = r.Reconcile(context.Background(), s,
		Detect([]sessModel.AssignmentModel{retitled}, []sessModel.AssignmentModel{refiled}, AssignmentComparator),
		attendanceSet{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, -1, indexOf(f.store.opLog(), "ReplaceAttachments"))

	stored, _ := f.store.assignment(a.AssignmentID)
	require.Len(t, stored.AssignmentAttachments, 1)
	assert.Equal(t, "https://files.test/b.pdf", stored.AssignmentAttachments[0].AttachmentFileURL)
	assert.Equal(t, a.AssignmentID, stored.AssignmentAttachments[0].AttachmentAssignmentID)
}

func TestRepairGradeStubs_FillsMissingPairs(t *testing.T) {
	f := newFixture(3)
	s := f.session("2025-09-08")
	a := assignment(uuid.New(), "Essay", "2025-09-01")
	a.AssignmentSessionID = s.SessionID
	f.store.putAssignment(a)
	f.store.putGrade(a.AssignmentID, f.students[0].StudentID)

	r := newTestReconciler(f, time.Second)
	n, err := r.RepairGradeStubs(context.Background(), s.SessionID, f.students)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, f.store.gradeCount(a.AssignmentID))

	n, err = r.RepairGradeStubs(context.Background(), s.SessionID, f.students)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcile_DuplicateStudentIsRejected(t *testing.T) {
	f := newFixture(2)
	s := f.session("2025-09-08")
	f.store.resetOps()
	student := f.students[0].StudentID

	_, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), s, assignmentSet{},
		attendanceSet{Added: []sessModel.AttendanceModel{
			{AttendanceStudentID: student, AttendanceClientKey: "temp-a"},
			{AttendanceStudentID: student, AttendanceClientKey: "temp-b"},
		}}, f.students)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"student already listed at attendance.added[0]"}, ve.Fields["attendance.added[1].attendance_student_id"])
	assert.Zero(t, f.store.calls())
}

func TestReconcile_ChildWritesStayInSession(t *testing.T) {
	f := newFixture(2)
	mine := f.session("2025-09-08")
	_, foreign, foreignAtt := f.foreignChildren("2025-09-15")
	edited := foreignAtt
	edited.AttendanceStatus = sessModel.AttendanceAbsent

	_, err := newTestReconciler(f, time.Second).Reconcile(context.Background(), mine,
		assignmentSet{Removed: []sessModel.AssignmentModel{foreign}},
		attendanceSet{Modified: []sessModel.AttendanceModel{edited}},
		f.students)

	var pf *PartialReconciliationFailure
	require.True(t, errors.As(err, &pf))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ElementsMatch(t, []Batch{BatchAssignments, BatchAttendance}, pf.Failed)

	stored, _ := f.store.assignment(foreign.AssignmentID)
	assert.False(t, stored.AssignmentDeletedAt.Valid)
	assert.Equal(t, 1, f.store.gradeCount(foreign.AssignmentID))
	assert.Equal(t, sessModel.AttendancePresent, f.store.attendance[foreignAtt.AttendanceID].AttendanceStatus)
}
