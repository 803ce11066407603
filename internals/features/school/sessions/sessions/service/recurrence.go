// file: internals/features/school/sessions/sessions/service/recurrence.go
package service

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
)

const dateLayout = "2006-01-02"

// CivilDate truncates t to its calendar day as UTC midnight.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// Slot is the time window of one meeting.
type Slot struct {
	ScheduleID uuid.UUID
	Start      datatypes.Time
	End        datatypes.Time
}

// RecurrenceRule answers whether a classroom meets on a calendar day.
type RecurrenceRule interface {
	Paused() bool
	MeetingOn(date time.Time) (Slot, bool)
}

/* =========================
   WeeklyRule
========================= */

type dateSpan struct{ from, to time.Time }

func (s dateSpan) contains(d time.Time) bool { return !d.Before(s.from) && !d.After(s.to) }

type holidaySpan struct {
	dateSpan
	yearly bool
}

func (h holidaySpan) contains(d time.Time) bool {
	if !h.yearly {
		return h.dateSpan.contains(d)
	}
	md := monthDay(d)
	from, to := monthDay(h.from), monthDay(h.to)
	if from <= to {
		return md >= from && md <= to
	}
	// wraps the new year, e.g. 12-28 .. 01-03
	return md >= from || md <= to
}

func monthDay(t time.Time) int { return int(t.Month())*100 + t.Day() }

// epochAnchor is week 0 for slots without an effective_from.
var epochAnchor = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// WeeklyRule combines a classroom's weekly slots with its breaks and academy holidays.
// When several slots match one date the earliest start wins.
type WeeklyRule struct {
	paused   bool
	slots    []schedModel.ClassroomScheduleModel
	breaks   []dateSpan
	holidays []holidaySpan
}

func NewWeeklyRule(
	paused bool,
	slots []schedModel.ClassroomScheduleModel,
	breaks []schedModel.ScheduleBreakModel,
	holidays []schedModel.HolidayModel,
) *WeeklyRule {
	r := &WeeklyRule{paused: paused}

	r.slots = make([]schedModel.ClassroomScheduleModel, 0, len(slots))
	for _, s := range slots {
		if s.ClassroomScheduleDeletedAt.Valid {
			continue
		}
		r.slots = append(r.slots, s)
	}
	sort.SliceStable(r.slots, func(i, j int) bool {
		return r.slots[i].ClassroomScheduleStartTime < r.slots[j].ClassroomScheduleStartTime
	})

	for _, b := range breaks {
		r.breaks = append(r.breaks, dateSpan{CivilDate(b.ScheduleBreakStartDate), CivilDate(b.ScheduleBreakEndDate)})
	}
	for _, h := range holidays {
		if !h.HolidayIsActive || h.HolidayDeletedAt.Valid {
			continue
		}
		r.holidays = append(r.holidays, holidaySpan{
			dateSpan: dateSpan{CivilDate(h.HolidayStartDate), CivilDate(h.HolidayEndDate)},
			yearly:   h.HolidayIsRecurringYearly,
		})
	}
	return r
}

func (r *WeeklyRule) Paused() bool { return r.paused }

func (r *WeeklyRule) MeetingOn(date time.Time) (Slot, bool) {
	if r.paused {
		return Slot{}, false
	}
	d := CivilDate(date)
	for _, b := range r.breaks {
		if b.contains(d) {
			return Slot{}, false
		}
	}
	for _, h := range r.holidays {
		if h.contains(d) {
			return Slot{}, false
		}
	}
	// slots are sorted by start, first match is the earliest
	for _, s := range r.slots {
		if slotMatches(s, d) {
			return Slot{
				ScheduleID: s.ClassroomScheduleID,
				Start:      s.ClassroomScheduleStartTime,
				End:        s.ClassroomScheduleEndTime,
			}, true
		}
	}
	return Slot{}, false
}

func slotMatches(s schedModel.ClassroomScheduleModel, d time.Time) bool {
	if int(d.Weekday()) != s.ClassroomScheduleDay {
		return false
	}
	base := epochAnchor
	if s.ClassroomScheduleEffectiveFrom != nil {
		base = CivilDate(*s.ClassroomScheduleEffectiveFrom)
		if d.Before(base) {
			return false
		}
	}
	if s.ClassroomScheduleEffectiveUntil != nil && d.After(CivilDate(*s.ClassroomScheduleEffectiveUntil)) {
		return false
	}

	wkAdj := weeksBetween(base, d) - s.ClassroomScheduleStartOffsetWeeks
	if wkAdj < 0 {
		return false
	}
	interval := s.ClassroomScheduleIntervalWeeks
	if interval <= 0 {
		interval = 1
	}
	if wkAdj%interval != 0 {
		return false
	}

	// Parity counts meetings of this slot, the first one is odd
	switch s.ClassroomScheduleWeekParity {
	case schedModel.WeekParityOdd:
		if ((wkAdj/interval)+1)%2 != 1 {
			return false
		}
	case schedModel.WeekParityEven:
		if ((wkAdj/interval)+1)%2 != 0 {
			return false
		}
	}

	inWeeks := len(s.ClassroomScheduleWeeksOfMonth) > 0 && containsInt64(s.ClassroomScheduleWeeksOfMonth, int64(weekOfMonth(d)))
	last := s.ClassroomScheduleLastWeekOfMonth && isLastWeekOfMonth(d)
	switch {
	case len(s.ClassroomScheduleWeeksOfMonth) > 0 && s.ClassroomScheduleLastWeekOfMonth:
		return inWeeks || last
	case len(s.ClassroomScheduleWeeksOfMonth) > 0:
		return inWeeks
	case s.ClassroomScheduleLastWeekOfMonth:
		return last
	}
	return true
}

// weekOfMonth is the ordinal of the weekday within its month (1..5).
func weekOfMonth(d time.Time) int { return (d.Day()-1)/7 + 1 }

func isLastWeekOfMonth(d time.Time) bool { return d.AddDate(0, 0, 7).Month() != d.Month() }

func weeksBetween(base, target time.Time) int {
	days := int(target.Sub(base).Hours() / 24)
	if days < 0 {
		return -((-days + 6) / 7)
	}
	return days / 7
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

/* =========================
   ClassroomCalendar
========================= */

// ClassroomCalendar is everything the expander needs about one classroom.
type ClassroomCalendar struct {
	ClassroomID     uuid.UUID
	AcademyID       uuid.UUID
	DefaultLocation string
	Location        *time.Location
	Rule            RecurrenceRule
}

func NewClassroomCalendar(c classModel.ClassroomModel, rule RecurrenceRule, fallback *time.Location) ClassroomCalendar {
	cal := ClassroomCalendar{
		ClassroomID:     c.ClassroomID,
		AcademyID:       c.ClassroomAcademyID,
		DefaultLocation: DefaultLocation(c.ClassroomDefaultLocation),
		Location:        fallback,
		Rule:            rule,
	}
	if c.ClassroomTimezone != nil && *c.ClassroomTimezone != "" {
		if loc, err := time.LoadLocation(*c.ClassroomTimezone); err == nil {
			cal.Location = loc
		}
	}
	if cal.Location == nil {
		cal.Location = time.UTC
	}
	return cal
}

// Today is the current calendar day in the classroom's timezone.
func (c ClassroomCalendar) Today(now time.Time) time.Time {
	return CivilDate(now.In(c.Location))
}
