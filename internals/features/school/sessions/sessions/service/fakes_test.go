package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

var errFlaky = errors.New("connection reset by peer")

// memStore implements every store port in memory and records each call.
type memStore struct {
	mu sync.Mutex

	ops []string

	classrooms map[uuid.UUID]classModel.ClassroomModel
	schedules  map[uuid.UUID][]schedModel.ClassroomScheduleModel
	breaks     map[uuid.UUID][]schedModel.ScheduleBreakModel
	holidays   map[uuid.UUID][]schedModel.HolidayModel
	enrollment map[uuid.UUID][]Enrollee
	records    map[uuid.UUID]uuid.UUID

	sessions    map[uuid.UUID]sessModel.ClassroomSessionModel
	assignments map[uuid.UUID]sessModel.AssignmentModel
	order       []uuid.UUID
	attendance  map[uuid.UUID]sessModel.AttendanceModel
	grades      map[GradeKey]sessModel.AssignmentGradeModel

	// fault injection by op name
	failOn map[string]error
	// fail the next n calls of an op with errFlaky
	failTimes map[string]int
	// ops that wait for their context to expire
	hang map[string]bool
	// runs before InsertSession takes the lock
	beforeInsertSession func()
}

func newMemStore() *memStore {
	return &memStore{
		classrooms:  map[uuid.UUID]classModel.ClassroomModel{},
		schedules:   map[uuid.UUID][]schedModel.ClassroomScheduleModel{},
		breaks:      map[uuid.UUID][]schedModel.ScheduleBreakModel{},
		holidays:    map[uuid.UUID][]schedModel.HolidayModel{},
		enrollment:  map[uuid.UUID][]Enrollee{},
		records:     map[uuid.UUID]uuid.UUID{},
		sessions:    map[uuid.UUID]sessModel.ClassroomSessionModel{},
		assignments: map[uuid.UUID]sessModel.AssignmentModel{},
		attendance:  map[uuid.UUID]sessModel.AttendanceModel{},
		grades:      map[GradeKey]sessModel.AssignmentGradeModel{},
		failOn:      map[string]error{},
		failTimes:   map[string]int{},
		hang:        map[string]bool{},
	}
}

func (m *memStore) Store() Store {
	return Store{Sessions: m, Assignments: m, Grades: m, Attendance: m, Students: m, Schedules: m}
}

func (m *memStore) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	err := m.failOn[op]
	if err == nil && m.failTimes[op] > 0 {
		m.failTimes[op]--
		err = errFlaky
	}
	hang := m.hang[op]
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

func (m *memStore) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *memStore) resetOps() {
	m.mu.Lock()
	m.ops = nil
	m.mu.Unlock()
}

func (m *memStore) gradeCount(assignmentID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.grades {
		if k.AssignmentID == assignmentID {
			n++
		}
	}
	return n
}

func (m *memStore) aliveSessions(classroomID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.SessionClassroomID == classroomID && !s.SessionDeletedAt.Valid {
			n++
		}
	}
	return n
}

/* ---- SessionStore ---- */

func (m *memStore) ListSessions(ctx context.Context, classroomID uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error) {
	if err := m.enter(ctx, "ListSessions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sessModel.ClassroomSessionModel
	for _, s := range m.sessions {
		if s.SessionClassroomID != classroomID || s.SessionDeletedAt.Valid {
			continue
		}
		if s.SessionDate.Before(from) || s.SessionDate.After(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionDate.Before(out[j].SessionDate) })
	return out, nil
}

func (m *memStore) FindSessionByDate(ctx context.Context, classroomID uuid.UUID, date time.Time) (*sessModel.ClassroomSessionModel, error) {
	if err := m.enter(ctx, "FindSessionByDate"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionClassroomID == classroomID && s.SessionDate.Equal(date) && !s.SessionDeletedAt.Valid {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetSession(ctx context.Context, id uuid.UUID) (*sessModel.ClassroomSessionModel, error) {
	if err := m.enter(ctx, "GetSession"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.SessionDeletedAt.Valid {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memStore) InsertSession(ctx context.Context, s *sessModel.ClassroomSessionModel) error {
	if m.beforeInsertSession != nil {
		m.beforeInsertSession()
	}
	if err := m.enter(ctx, "InsertSession"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.sessions {
		if x.SessionClassroomID == s.SessionClassroomID && x.SessionDate.Equal(s.SessionDate) && !x.SessionDeletedAt.Valid {
			return ErrUniqueViolation
		}
	}
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *memStore) putSession(s sessModel.ClassroomSessionModel) {
	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()
}

/* ---- AssignmentStore ---- */

func (m *memStore) ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AssignmentModel, error) {
	if err := m.enter(ctx, "ListAssignments"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []sessModel.AssignmentModel{}
	for _, id := range m.order {
		a := m.assignments[id]
		if a.AssignmentSessionID == sessionID && !a.AssignmentDeletedAt.Valid {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertAssignment(ctx context.Context, a *sessModel.AssignmentModel) error {
	if err := m.enter(ctx, "InsertAssignment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.AssignmentID]; ok {
		return ErrUniqueViolation
	}
	m.assignments[a.AssignmentID] = *a
	m.order = append(m.order, a.AssignmentID)
	return nil
}

func (m *memStore) UpdateAssignment(ctx context.Context, sessionID uuid.UUID, a *sessModel.AssignmentModel) error {
	if err := m.enter(ctx, "UpdateAssignment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[a.AssignmentID]
	if !ok || cur.AssignmentDeletedAt.Valid || cur.AssignmentSessionID != sessionID {
		return ErrNotFound
	}
	cur.AssignmentTitle = a.AssignmentTitle
	cur.AssignmentDescription = a.AssignmentDescription
	cur.AssignmentType = a.AssignmentType
	cur.AssignmentDueDate = a.AssignmentDueDate
	cur.AssignmentCategoryID = a.AssignmentCategoryID
	m.assignments[a.AssignmentID] = cur
	return nil
}

func (m *memStore) SoftDeleteAssignment(ctx context.Context, sessionID, id uuid.UUID) error {
	if err := m.enter(ctx, "SoftDeleteAssignment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[id]
	if !ok || cur.AssignmentDeletedAt.Valid || cur.AssignmentSessionID != sessionID {
		return ErrNotFound
	}
	cur.AssignmentDeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	m.assignments[id] = cur
	return nil
}

func (m *memStore) ReplaceAttachments(ctx context.Context, sessionID, id uuid.UUID, files []sessModel.AssignmentAttachmentModel) error {
	if err := m.enter(ctx, "ReplaceAttachments"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[id]
	if !ok || cur.AssignmentSessionID != sessionID {
		return ErrNotFound
	}
	cur.AssignmentAttachments = append([]sessModel.AssignmentAttachmentModel(nil), files...)
	m.assignments[id] = cur
	return nil
}

func (m *memStore) putAssignment(a sessModel.AssignmentModel) {
	m.mu.Lock()
	m.assignments[a.AssignmentID] = a
	m.order = append(m.order, a.AssignmentID)
	m.mu.Unlock()
}

func (m *memStore) assignment(id uuid.UUID) (sessModel.AssignmentModel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	return a, ok
}

/* ---- GradeStore ---- */

func (m *memStore) DeleteGradesByAssignment(ctx context.Context, sessionID, id uuid.UUID) error {
	if err := m.enter(ctx, "DeleteGradesByAssignment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assignments[id]; !ok || a.AssignmentSessionID != sessionID {
		return nil
	}
	for k := range m.grades {
		if k.AssignmentID == id {
			delete(m.grades, k)
		}
	}
	return nil
}

func (m *memStore) ListGradeKeys(ctx context.Context, ids []uuid.UUID) ([]GradeKey, error) {
	if err := m.enter(ctx, "ListGradeKeys"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []GradeKey
	for k := range m.grades {
		if want[k.AssignmentID] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) InsertGrades(ctx context.Context, rows []sessModel.AssignmentGradeModel) error {
	if err := m.enter(ctx, "InsertGrades"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range rows {
		k := GradeKey{AssignmentID: g.AssignmentGradeAssignmentID, StudentID: g.AssignmentGradeStudentID}
		if _, ok := m.grades[k]; ok {
			continue
		}
		m.grades[k] = g
	}
	return nil
}

func (m *memStore) putGrade(assignmentID, studentID uuid.UUID) {
	m.mu.Lock()
	m.grades[GradeKey{AssignmentID: assignmentID, StudentID: studentID}] = sessModel.AssignmentGradeModel{
		AssignmentGradeID:           uuid.New(),
		AssignmentGradeAssignmentID: assignmentID,
		AssignmentGradeStudentID:    studentID,
		AssignmentGradeStatus:       sessModel.GradePending,
	}
	m.mu.Unlock()
}

/* ---- AttendanceStore ---- */

func (m *memStore) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]sessModel.AttendanceModel, error) {
	if err := m.enter(ctx, "ListAttendance"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []sessModel.AttendanceModel{}
	for _, a := range m.attendance {
		if a.AttendanceSessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttendanceID.String() < out[j].AttendanceID.String() })
	return out, nil
}

func (m *memStore) InsertAttendance(ctx context.Context, a *sessModel.AttendanceModel) error {
	if err := m.enter(ctx, "InsertAttendance"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attendance[a.AttendanceID]; ok {
		return ErrUniqueViolation
	}
	for _, x := range m.attendance {
		if x.AttendanceSessionID == a.AttendanceSessionID && x.AttendanceStudentID == a.AttendanceStudentID {
			return ErrUniqueViolation
		}
	}
	m.attendance[a.AttendanceID] = *a
	return nil
}

func (m *memStore) UpdateAttendance(ctx context.Context, sessionID uuid.UUID, a *sessModel.AttendanceModel) error {
	if err := m.enter(ctx, "UpdateAttendance"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attendance[a.AttendanceID]
	if !ok || cur.AttendanceSessionID != sessionID {
		return ErrNotFound
	}
	cur.AttendanceStatus = a.AttendanceStatus
	cur.AttendanceNote = a.AttendanceNote
	m.attendance[a.AttendanceID] = cur
	return nil
}

func (m *memStore) DeleteAttendance(ctx context.Context, sessionID, id uuid.UUID) error {
	if err := m.enter(ctx, "DeleteAttendance"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.attendance[id]; !ok || cur.AttendanceSessionID != sessionID {
		return ErrNotFound
	}
	delete(m.attendance, id)
	return nil
}

// writes lists the mutating ops recorded so far.
func (m *memStore) writes() []string {
	var out []string
	for _, op := range m.opLog() {
		if strings.HasPrefix(op, "Insert") || strings.HasPrefix(op, "Update") ||
			strings.HasPrefix(op, "Delete") || strings.HasPrefix(op, "SoftDelete") || strings.HasPrefix(op, "Replace") {
			out = append(out, op)
		}
	}
	return out
}

func (m *memStore) attendanceFor(sessionID, studentID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attendance {
		if a.AttendanceSessionID == sessionID && a.AttendanceStudentID == studentID {
			n++
		}
	}
	return n
}

func (m *memStore) putAttendance(a sessModel.AttendanceModel) {
	m.mu.Lock()
	m.attendance[a.AttendanceID] = a
	m.mu.Unlock()
}

/* ---- StudentRecordLookup ---- */

func (m *memStore) FindStudentRecordID(ctx context.Context, _ uuid.UUID, studentID uuid.UUID) (uuid.UUID, error) {
	if err := m.enter(ctx, "FindStudentRecordID"); err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.records[studentID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

/* ---- ScheduleSource ---- */

func (m *memStore) GetClassroom(ctx context.Context, academyID, classroomID uuid.UUID) (*classModel.ClassroomModel, error) {
	if err := m.enter(ctx, "GetClassroom"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classrooms[classroomID]
	if !ok || c.ClassroomAcademyID != academyID {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) ListActiveClassrooms(ctx context.Context) ([]classModel.ClassroomModel, error) {
	if err := m.enter(ctx, "ListActiveClassrooms"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []classModel.ClassroomModel
	for _, c := range m.classrooms {
		if !c.ClassroomIsPaused {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ListSchedules(ctx context.Context, classroomID uuid.UUID) ([]schedModel.ClassroomScheduleModel, error) {
	if err := m.enter(ctx, "ListSchedules"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schedModel.ClassroomScheduleModel(nil), m.schedules[classroomID]...), nil
}

func (m *memStore) ListBreaks(ctx context.Context, classroomID uuid.UUID, _, _ time.Time) ([]schedModel.ScheduleBreakModel, error) {
	if err := m.enter(ctx, "ListBreaks"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schedModel.ScheduleBreakModel(nil), m.breaks[classroomID]...), nil
}

func (m *memStore) ListHolidays(ctx context.Context, academyID uuid.UUID) ([]schedModel.HolidayModel, error) {
	if err := m.enter(ctx, "ListHolidays"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schedModel.HolidayModel(nil), m.holidays[academyID]...), nil
}

func (m *memStore) ListEnrollment(ctx context.Context, classroomID uuid.UUID) ([]Enrollee, error) {
	if err := m.enter(ctx, "ListEnrollment"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Enrollee(nil), m.enrollment[classroomID]...), nil
}

/* ---- fixtures ---- */

func day(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dayPtr(s string) *time.Time {
	d := day(s)
	return &d
}

func strPtr(s string) *string { return &s }

func mondaySlot(classroomID uuid.UUID) schedModel.ClassroomScheduleModel {
	return schedModel.ClassroomScheduleModel{
		ClassroomScheduleID:            uuid.New(),
		ClassroomScheduleClassroomID:   classroomID,
		ClassroomScheduleDay:           int(time.Monday),
		ClassroomScheduleStartTime:     datatypes.NewTime(9, 0, 0, 0),
		ClassroomScheduleEndTime:       datatypes.NewTime(10, 30, 0, 0),
		ClassroomScheduleIntervalWeeks: 1,
		ClassroomScheduleWeekParity:    schedModel.WeekParityAll,
	}
}

// fixture seeds one academy with one Monday classroom and n enrolled students.
type fixture struct {
	store     *memStore
	academy   uuid.UUID
	classroom uuid.UUID
	students  []Enrollee
}

func newFixture(n int) *fixture {
	f := &fixture{store: newMemStore(), academy: uuid.New(), classroom: uuid.New()}
	f.store.classrooms[f.classroom] = classModel.ClassroomModel{
		ClassroomID:        f.classroom,
		ClassroomAcademyID: f.academy,
		ClassroomName:      "3A",
	}
	f.store.schedules[f.classroom] = []schedModel.ClassroomScheduleModel{mondaySlot(f.classroom)}
	for i := 0; i < n; i++ {
		e := Enrollee{StudentID: uuid.New(), StudentRecordID: uuid.New()}
		f.students = append(f.students, e)
	}
	f.store.enrollment[f.classroom] = f.students
	return f
}

func (f *fixture) calendar() ClassroomCalendar {
	return NewClassroomCalendar(f.store.classrooms[f.classroom],
		NewWeeklyRule(false, f.store.schedules[f.classroom], f.store.breaks[f.classroom], nil), time.UTC)
}

// session stores a persisted session on date and returns it.
func (f *fixture) session(date string) sessModel.ClassroomSessionModel {
	s := sessModel.ClassroomSessionModel{
		SessionID:          uuid.New(),
		SessionClassroomID: f.classroom,
		SessionAcademyID:   f.academy,
		SessionDate:        day(date),
		SessionStartTime:   datatypes.NewTime(9, 0, 0, 0),
		SessionEndTime:     datatypes.NewTime(10, 30, 0, 0),
		SessionLocation:    sessModel.DefaultSessionLocation,
		SessionStatus:      sessModel.SessionScheduled,
	}
	f.store.putSession(s)
	return s
}
