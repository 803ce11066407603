// file: internals/features/school/sessions/sessions/service/expander.go
package service

import (
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

// MaxExpandDays bounds a single expansion request.
const MaxExpandDays = 366

// virtualNamespace seeds UUIDv5 ids of virtual sessions. Changing it changes every virtual id.
var virtualNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7f-9a10-2b4c6d8e0f13")

// VirtualSessionID is stable for a (classroom, date) pair across calls and processes.
func VirtualSessionID(classroomID uuid.UUID, date time.Time) uuid.UUID {
	return uuid.NewSHA1(virtualNamespace, []byte(classroomID.String()+"|"+CivilDate(date).Format(dateLayout)))
}

func IsVirtualID(id, classroomID uuid.UUID, date time.Time) bool {
	return id == VirtualSessionID(classroomID, date)
}

func DefaultLocation(p *string) string {
	if p != nil {
		if s := strings.TrimSpace(*p); s != "" {
			return s
		}
	}
	return sessModel.DefaultSessionLocation
}

// VirtualSession builds the unsaved occurrence for date.
func (c ClassroomCalendar) VirtualSession(date time.Time, slot Slot) sessModel.ClassroomSessionModel {
	d := CivilDate(date)
	loc := c.DefaultLocation
	if loc == "" {
		loc = sessModel.DefaultSessionLocation
	}
	return sessModel.ClassroomSessionModel{
		SessionID:          VirtualSessionID(c.ClassroomID, d),
		SessionClassroomID: c.ClassroomID,
		SessionAcademyID:   c.AcademyID,
		SessionDate:        d,
		SessionStartTime:   slot.Start,
		SessionEndTime:     slot.End,
		SessionLocation:    loc,
		SessionStatus:      sessModel.SessionScheduled,
		SessionIsVirtual:   true,
	}
}

/*
ExpandSeq yields one virtual session per meeting day in [from, to] that has no
alive persisted session in known. A persisted row, cancelled included, suppresses
the virtual one. The sequence holds no state and can be ranged over again.
*/
func ExpandSeq(cal ClassroomCalendar, from, to time.Time, known []sessModel.ClassroomSessionModel) iter.Seq[sessModel.ClassroomSessionModel] {
	from, to = CivilDate(from), CivilDate(to)
	return func(yield func(sessModel.ClassroomSessionModel) bool) {
		if cal.Rule == nil || cal.Rule.Paused() || to.Before(from) {
			return
		}
		persisted := make(map[string]struct{}, len(known))
		for _, s := range known {
			if s.SessionClassroomID != cal.ClassroomID || s.SessionDeletedAt.Valid {
				continue
			}
			persisted[s.DateKey()] = struct{}{}
		}
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			slot, ok := cal.Rule.MeetingOn(d)
			if !ok {
				continue
			}
			if _, dup := persisted[d.Format(dateLayout)]; dup {
				continue
			}
			if !yield(cal.VirtualSession(d, slot)) {
				return
			}
		}
	}
}

func Expand(cal ClassroomCalendar, from, to time.Time, known []sessModel.ClassroomSessionModel) []sessModel.ClassroomSessionModel {
	out := make([]sessModel.ClassroomSessionModel, 0)
	for s := range ExpandSeq(cal, from, to, known) {
		out = append(out, s)
	}
	return out
}

// MergeOccurrences flattens persisted and virtual sessions into one list ordered by date and start.
func MergeOccurrences(persisted, virtual []sessModel.ClassroomSessionModel) []sessModel.ClassroomSessionModel {
	out := make([]sessModel.ClassroomSessionModel, 0, len(persisted)+len(virtual))
	for _, s := range persisted {
		if s.SessionDeletedAt.Valid {
			continue
		}
		s.SessionIsVirtual = false
		out = append(out, s)
	}
	for _, s := range virtual {
		s.SessionIsVirtual = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := CivilDate(out[i].SessionDate), CivilDate(out[j].SessionDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].SessionStartTime < out[j].SessionStartTime
	})
	return out
}

// ValidateRange rejects ranges longer than MaxExpandDays. An inverted range is valid and empty.
func ValidateRange(from, to time.Time) error {
	from, to = CivilDate(from), CivilDate(to)
	if to.Before(from) {
		return nil
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxExpandDays {
		v := &ValidationError{cause: ErrRangeTooLarge}
		v.Add("to", "range must not exceed 366 days")
		return v
	}
	return nil
}
