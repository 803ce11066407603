// file: internals/features/school/sessions/sessions/service/session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
	"schoolops_backend/internals/helpers/cache"
)

// DefaultHorizonDays caps one MaterializeRange call (about six months).
const DefaultHorizonDays = 183

type Options struct {
	RowTimeout      time.Duration
	DefaultTimezone string
	// MaterializeHorizonDays bounds to-from of MaterializeRange; 0 means DefaultHorizonDays.
	MaterializeHorizonDays int
	Logger                 *zap.Logger
}

// SessionService is what the HTTP layer and the scheduler talk to.
type SessionService struct {
	store        Store
	materializer *Materializer
	reconciler   *Reconciler
	cache        cache.Port
	invalidator  *cache.Coordinator
	defaultLoc   *time.Location
	horizonDays  int
	log          *zap.Logger
	now          func() time.Time
}

func NewSessionService(st Store, c cache.Port, opts Options) *SessionService {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc := time.UTC
	if opts.DefaultTimezone != "" {
		if l, err := time.LoadLocation(opts.DefaultTimezone); err == nil {
			loc = l
		} else {
			log.Warn("unknown default timezone, using UTC", zap.String("tz", opts.DefaultTimezone))
		}
	}
	horizon := opts.MaterializeHorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	return &SessionService{
		store:        st,
		materializer: NewMaterializer(st.Sessions, log),
		reconciler:   NewReconciler(st, opts.RowTimeout, log),
		cache:        c,
		invalidator:  cache.NewCoordinator(c, log),
		defaultLoc:   loc,
		horizonDays:  horizon,
		log:          log.Named("sessions"),
		now:          time.Now,
	}
}

/* =========================
   Calendar
========================= */

// calendarInputs is the upstream configuration a classroom's occurrences expand from.
type calendarInputs struct {
	Classroom classModel.ClassroomModel           `json:"classroom"`
	Schedules []schedModel.ClassroomScheduleModel `json:"schedules"`
	Breaks    []schedModel.ScheduleBreakModel     `json:"breaks"`
	Holidays  []schedModel.HolidayModel           `json:"holidays"`
}

func (in calendarInputs) calendar(fallback *time.Location) ClassroomCalendar {
	rule := NewWeeklyRule(in.Classroom.ClassroomIsPaused, in.Schedules, in.Breaks, in.Holidays)
	return NewClassroomCalendar(in.Classroom, rule, fallback)
}

func (s *SessionService) loadInputs(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) (calendarInputs, error) {
	src := s.store.Schedules
	cls, err := src.GetClassroom(ctx, academyID, classroomID)
	if err != nil {
		return calendarInputs{}, fmt.Errorf("get classroom: %w", err)
	}
	if cls.ClassroomAcademyID != academyID {
		return calendarInputs{}, ErrNotFound
	}
	in := calendarInputs{Classroom: *cls}
	if cls.ClassroomIsPaused {
		return in, nil
	}

	if in.Schedules, err = src.ListSchedules(ctx, classroomID); err != nil {
		return calendarInputs{}, fmt.Errorf("list schedules: %w", err)
	}
	if in.Breaks, err = src.ListBreaks(ctx, classroomID, CivilDate(from), CivilDate(to)); err != nil {
		return calendarInputs{}, fmt.Errorf("list breaks: %w", err)
	}
	if in.Holidays, err = src.ListHolidays(ctx, academyID); err != nil {
		return calendarInputs{}, fmt.Errorf("list holidays: %w", err)
	}
	return in, nil
}

// Calendar loads the recurrence inputs of one classroom scoped to academyID.
func (s *SessionService) Calendar(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) (ClassroomCalendar, error) {
	in, err := s.loadInputs(ctx, academyID, classroomID, from, to)
	if err != nil {
		return ClassroomCalendar{}, err
	}
	return in.calendar(s.defaultLoc), nil
}

func calendarKey(academyID, classroomID uuid.UUID, from, to time.Time) string {
	return cache.Key(cache.AreaClassrooms, academyID,
		fmt.Sprintf("calendar:%s:%s:%s", classroomID, CivilDate(from).Format(dateLayout), CivilDate(to).Format(dateLayout)))
}

// cachedCalendar is Calendar behind the cache port. Only upstream configuration is cached.
func (s *SessionService) cachedCalendar(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) (ClassroomCalendar, error) {
	if s.cache == nil {
		return s.Calendar(ctx, academyID, classroomID, from, to)
	}
	key := calendarKey(academyID, classroomID, from, to)
	var in calendarInputs
	hit, err := cache.GetJSON(ctx, s.cache, key, &in)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return in.calendar(s.defaultLoc), nil
	}

	if in, err = s.loadInputs(ctx, academyID, classroomID, from, to); err != nil {
		return ClassroomCalendar{}, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, in, s.now()); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return in.calendar(s.defaultLoc), nil
}

/*
ListOccurrences merges persisted sessions with virtual ones for [from, to].
The calendar inputs may come from the cache; persisted sessions are read on
every call, so a row materialized elsewhere always replaces its virtual twin.
*/
func (s *SessionService) ListOccurrences(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}
	from, to = CivilDate(from), CivilDate(to)
	if to.Before(from) {
		return []sessModel.ClassroomSessionModel{}, nil
	}

	cal, err := s.cachedCalendar(ctx, academyID, classroomID, from, to)
	if err != nil {
		return nil, err
	}
	persisted, err := s.store.Sessions.ListSessions(ctx, classroomID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return MergeOccurrences(persisted, Expand(cal, from, to, persisted)), nil
}

/* =========================
   Materialize
========================= */

// Materialize returns the persisted session of classroomID on date, creating it from the rule if needed.
func (s *SessionService) Materialize(ctx context.Context, academyID, classroomID uuid.UUID, date time.Time, ov *MaterializeOverrides) (*sessModel.ClassroomSessionModel, error) {
	date = CivilDate(date)

	existing, err := s.store.Sessions.FindSessionByDate(ctx, classroomID, date)
	switch {
	case err == nil:
		if existing.SessionAcademyID != academyID {
			return nil, ErrNotFound
		}
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("find session: %w", err)
	}

	cal, err := s.Calendar(ctx, academyID, classroomID, date, date)
	if err != nil {
		return nil, err
	}
	slot, ok := cal.Rule.MeetingOn(date)
	if !ok {
		return nil, ErrNoOccurrence
	}

	out, created, err := s.materializer.materialize(ctx, cal.VirtualSession(date, slot), ov)
	if err != nil {
		return nil, err
	}
	if created {
		s.invalidate(ctx, academyID)
	}
	return out, nil
}

// MaterializeRange persists every virtual occurrence in [from, to] and returns how many rows it created.
func (s *SessionService) MaterializeRange(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) (int, error) {
	if err := ValidateRange(from, to); err != nil {
		return 0, err
	}
	if err := s.checkHorizon(from, to); err != nil {
		return 0, err
	}
	cal, err := s.Calendar(ctx, academyID, classroomID, from, to)
	if err != nil {
		return 0, err
	}
	persisted, err := s.store.Sessions.ListSessions(ctx, classroomID, CivilDate(from), CivilDate(to))
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	created := 0
	var firstErr error
	for v := range ExpandSeq(cal, from, to, persisted) {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		_, ok, err := s.materializer.materialize(ctx, v, nil)
		if err != nil {
			firstErr = fmt.Errorf("materialize %s: %w", v.DateKey(), err)
			break
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		s.invalidate(ctx, academyID)
	}
	return created, firstErr
}

func (s *SessionService) checkHorizon(from, to time.Time) error {
	span := int(CivilDate(to).Sub(CivilDate(from)).Hours() / 24)
	if span <= s.horizonDays {
		return nil
	}
	v := &ValidationError{cause: ErrRangeTooLarge}
	v.Add("to", fmt.Sprintf("range may span at most %d days", s.horizonDays))
	return v
}

// MaterializeDay materializes the current day of every active classroom. Used by the cron job.
func (s *SessionService) MaterializeDay(ctx context.Context) (int, error) {
	classrooms, err := s.store.Schedules.ListActiveClassrooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list classrooms: %w", err)
	}
	total := 0
	var errs []error
	for _, c := range classrooms {
		day := NewClassroomCalendar(c, nil, s.defaultLoc).Today(s.now())
		n, err := s.MaterializeRange(ctx, c.ClassroomAcademyID, c.ClassroomID, day, day)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("classroom %s: %w", c.ClassroomID, err))
		}
	}
	return total, errors.Join(errs...)
}

/* =========================
   Edit & save
========================= */

// EditState is one side of an edit: the snapshot taken at open time or the working copy.
type EditState struct {
	Assignments []sessModel.AssignmentModel `json:"assignments"`
	Attendance  []sessModel.AttendanceModel `json:"attendance"`
}

type EditSnapshot struct {
	Session sessModel.ClassroomSessionModel `json:"session"`
	EditState
	Enrollment []Enrollee `json:"enrollment"`
}

type Changes struct {
	Assignments ChangeSet[sessModel.AssignmentModel] `json:"assignments"`
	Attendance  ChangeSet[sessModel.AttendanceModel] `json:"attendance"`
}

func (c Changes) IsEmpty() bool { return c.Assignments.IsEmpty() && c.Attendance.IsEmpty() }

// Dirty is what the edit screen shows per collection.
func (c Changes) Dirty() map[string]bool {
	return map[string]bool{
		"assignments": !c.Assignments.IsEmpty(),
		"attendance":  !c.Attendance.IsEmpty(),
	}
}

type SaveOutcome struct {
	Changes Changes              `json:"changes"`
	Result  ReconciliationResult `json:"result"`
}

func (s *SessionService) session(ctx context.Context, academyID, sessionID uuid.UUID) (*sessModel.ClassroomSessionModel, error) {
	sess, err := s.store.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.SessionAcademyID != academyID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// LoadEditSnapshot reads a session and its child collections concurrently.
func (s *SessionService) LoadEditSnapshot(ctx context.Context, academyID, sessionID uuid.UUID) (*EditSnapshot, error) {
	sess, err := s.session(ctx, academyID, sessionID)
	if err != nil {
		return nil, err
	}
	snap := &EditSnapshot{Session: *sess}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.store.Assignments.ListAssignments(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("list assignments: %w", err)
		}
		snap.Assignments = list
		return nil
	})
	g.Go(func() error {
		list, err := s.store.Attendance.ListAttendance(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("list attendance: %w", err)
		}
		snap.Attendance = list
		return nil
	})
	g.Go(func() error {
		list, err := s.store.Schedules.ListEnrollment(gctx, sess.SessionClassroomID)
		if err != nil {
			return fmt.Errorf("list enrollment: %w", err)
		}
		snap.Enrollment = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if snap.Assignments == nil {
		snap.Assignments = []sessModel.AssignmentModel{}
	}
	if snap.Attendance == nil {
		snap.Attendance = []sessModel.AttendanceModel{}
	}
	return snap, nil
}

// Preview is the pure diff of an edit.
func Preview(original, current EditState) Changes {
	return Changes{
		Assignments: Detect(original.Assignments, current.Assignments, AssignmentComparator),
		Attendance:  Detect(original.Attendance, current.Attendance, AttendanceComparator),
	}
}

/*
SaveChildren detects, reconciles then invalidates.

Every id in original must be a child of the session as stored; anything else is
a ValidationError before any write. Grade stubs of the session are re-asserted
after the diff is applied, also when the diff is empty, so saving a reloaded
snapshot repairs stubs an earlier save failed to create. Caches are dropped as
soon as at least one row was applied, even when other rows failed.
*/
func (s *SessionService) SaveChildren(ctx context.Context, academyID, sessionID uuid.UUID, original, current EditState) (*SaveOutcome, error) {
	out := &SaveOutcome{}
	snap, err := s.LoadEditSnapshot(ctx, academyID, sessionID)
	if err != nil {
		return out, err
	}
	if err := checkOriginal(snap.EditState, original); err != nil {
		return out, err
	}

	out.Changes = Preview(original, current)
	var res ReconciliationResult
	if !out.Changes.IsEmpty() {
		if err := s.reconciler.Validate(out.Changes.Assignments, out.Changes.Attendance); err != nil {
			return out, err
		}
		var pf *PartialReconciliationFailure
		res, err = s.reconciler.Reconcile(ctx, snap.Session, out.Changes.Assignments, out.Changes.Attendance, snap.Enrollment)
		if err != nil && !errors.As(err, &pf) {
			return out, err
		}
	}

	n, err := s.reconciler.RepairGradeStubs(ctx, sessionID, snap.Enrollment)
	res.Assignments.GradeStubs += n
	if err != nil {
		res.Assignments.fail("grade stubs", sessionID.String(), err)
	}

	out.Result = res
	if res.Applied() > 0 {
		s.invalidate(ctx, academyID)
	}
	return out, res.Err()
}

// checkOriginal rejects original rows whose id the stored session does not hold.
func checkOriginal(stored, original EditState) error {
	assignments := make(map[uuid.UUID]struct{}, len(stored.Assignments))
	for _, a := range stored.Assignments {
		assignments[a.AssignmentID] = struct{}{}
	}
	attendance := make(map[uuid.UUID]struct{}, len(stored.Attendance))
	for _, a := range stored.Attendance {
		attendance[a.AttendanceID] = struct{}{}
	}

	ve := &ValidationError{}
	for i, a := range original.Assignments {
		if _, ok := assignments[a.AssignmentID]; a.AssignmentID != uuid.Nil && !ok {
			ve.Add(fmt.Sprintf("original.assignments[%d].assignment_id", i), "not an assignment of this session, reload and retry")
		}
	}
	for i, a := range original.Attendance {
		if _, ok := attendance[a.AttendanceID]; a.AttendanceID != uuid.Nil && !ok {
			ve.Add(fmt.Sprintf("original.attendance[%d].attendance_id", i), "not an attendance row of this session, reload and retry")
		}
	}
	return ve.orNil()
}

// RepairGradeStubs creates any grade rows missing for a session's current enrollment.
func (s *SessionService) RepairGradeStubs(ctx context.Context, academyID, sessionID uuid.UUID) (int, error) {
	sess, err := s.session(ctx, academyID, sessionID)
	if err != nil {
		return 0, err
	}
	enrollment, err := s.store.Schedules.ListEnrollment(ctx, sess.SessionClassroomID)
	if err != nil {
		return 0, fmt.Errorf("list enrollment: %w", err)
	}
	n, err := s.reconciler.RepairGradeStubs(ctx, sessionID, enrollment)
	if n > 0 {
		s.invalidate(ctx, academyID, cache.AreaAssignments)
	}
	return n, err
}

// invalidate never fails the mutation that triggered it.
func (s *SessionService) invalidate(ctx context.Context, academyID uuid.UUID, areas ...cache.FeatureArea) {
	if len(areas) == 0 {
		areas = cache.AreasForSessionMutation()
	}
	if err := s.invalidator.Invalidate(ctx, academyID, areas...); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("academy_id", academyID.String()), zap.Error(err))
	}
}
