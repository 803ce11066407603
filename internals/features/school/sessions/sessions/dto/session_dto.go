// file: internals/features/school/sessions/sessions/dto/session_dto.go
package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
	"schoolops_backend/internals/features/school/sessions/sessions/service"
)

const dateLayout = "2006-01-02"

/* =========================================================
   Session (response)
   ========================================================= */

type SessionResponse struct {
	SessionID                  uuid.UUID  `json:"session_id"`
	SessionClassroomID         uuid.UUID  `json:"session_classroom_id"`
	SessionDate                string     `json:"session_date"`
	SessionStartTime           string     `json:"session_start_time"`
	SessionEndTime             string     `json:"session_end_time"`
	SessionLocation            string     `json:"session_location"`
	SessionStatus              string     `json:"session_status"`
	SessionNotes               *string    `json:"session_notes,omitempty"`
	SessionSubstituteTeacherID *uuid.UUID `json:"session_substitute_teacher_id,omitempty"`
	SessionIsVirtual           bool       `json:"is_virtual"`
}

func FromSessionModel(m sessModel.ClassroomSessionModel) SessionResponse {
	return SessionResponse{
		SessionID:                  m.SessionID,
		SessionClassroomID:         m.SessionClassroomID,
		SessionDate:                m.DateKey(),
		SessionStartTime:           m.SessionStartTime.String(),
		SessionEndTime:             m.SessionEndTime.String(),
		SessionLocation:            m.SessionLocation,
		SessionStatus:              string(m.SessionStatus),
		SessionNotes:               m.SessionNotes,
		SessionSubstituteTeacherID: m.SessionSubstituteTeacherID,
		SessionIsVirtual:           m.SessionIsVirtual,
	}
}

func FromSessionModels(list []sessModel.ClassroomSessionModel) []SessionResponse {
	out := make([]SessionResponse, 0, len(list))
	for _, m := range list {
		out = append(out, FromSessionModel(m))
	}
	return out
}

/* =========================================================
   Materialize (request)
   ========================================================= */

type MaterializeRequest struct {
	Date                string  `json:"date" validate:"required,datetime=2006-01-02"`
	Status              *string `json:"status" validate:"omitempty,oneof=scheduled completed cancelled"`
	Location            *string `json:"location" validate:"omitempty,max=160"`
	Notes               *string `json:"notes" validate:"omitempty,max=2000"`
	SubstituteTeacherID *string `json:"substitute_teacher_id" validate:"omitempty,uuid"`
}

func (r *MaterializeRequest) Normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.Status = trimPtr(r.Status)
	r.Location = trimPtr(r.Location)
	r.Notes = trimPtr(r.Notes)
	r.SubstituteTeacherID = trimPtr(r.SubstituteTeacherID)
}

// ToOverrides is called after validation. A request without any override yields nil.
func (r MaterializeRequest) ToOverrides() (time.Time, *service.MaterializeOverrides) {
	d, _ := service.ParseDate(r.Date)
	if r.Status == nil && r.Location == nil && r.Notes == nil && r.SubstituteTeacherID == nil {
		return d, nil
	}
	ov := &service.MaterializeOverrides{Location: r.Location, Notes: r.Notes}
	if r.Status != nil {
		st := sessModel.SessionStatus(*r.Status)
		ov.Status = &st
	}
	if r.SubstituteTeacherID != nil {
		if id, err := uuid.Parse(*r.SubstituteTeacherID); err == nil {
			ov.SubstituteTeacherID = &id
		}
	}
	return d, ov
}

type MaterializeRangeRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

type MaterializeRangeResponse struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Created int    `json:"created"`
}

/* =========================================================
   Edit payload: children of one session
   Rows not saved yet carry an empty id or a client id such as "temp-3";
   both map to uuid.Nil and the client id is kept as the client key.
   ========================================================= */

type AttachmentItem struct {
	AttachmentID *uuid.UUID     `json:"attachment_id,omitempty"`
	FileName     string         `json:"file_name"`
	FileURL      string         `json:"file_url"`
	FileSize     *int64         `json:"file_size,omitempty"`
	MimeType     *string        `json:"mime_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type AssignmentItem struct {
	AssignmentID          string           `json:"assignment_id"`
	ClientKey             string           `json:"client_key,omitempty"`
	AssignmentTitle       string           `json:"assignment_title"`
	AssignmentDescription *string          `json:"assignment_description,omitempty"`
	AssignmentType        string           `json:"assignment_type,omitempty"`
	AssignmentDueDate     *string          `json:"assignment_due_date,omitempty"`
	AssignmentCategoryID  *uuid.UUID       `json:"assignment_category_id,omitempty"`
	AssignmentAttachments []AttachmentItem `json:"assignment_attachments"`
}

type AttendanceItem struct {
	AttendanceID        string    `json:"attendance_id"`
	ClientKey           string    `json:"client_key,omitempty"`
	AttendanceStudentID uuid.UUID `json:"attendance_student_id"`
	AttendanceStatus    string    `json:"attendance_status"`
	AttendanceNote      *string   `json:"attendance_note,omitempty"`
	StudentName         string    `json:"student_name,omitempty"` // read-only
}

type EditStatePayload struct {
	Assignments []AssignmentItem `json:"assignments"`
	Attendance  []AttendanceItem `json:"attendance"`
}

type EditRequest struct {
	Original EditStatePayload `json:"original"`
	Current  EditStatePayload `json:"current"`
}

// identity splits a wire id into a persisted id or a client key.
func identity(raw, clientKey string) (uuid.UUID, string) {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id, strings.TrimSpace(clientKey)
	}
	if ck := strings.TrimSpace(clientKey); ck != "" {
		return uuid.Nil, ck
	}
	return uuid.Nil, raw
}

func (it AssignmentItem) ToModel(sessionID uuid.UUID) (sessModel.AssignmentModel, error) {
	id, ck := identity(it.AssignmentID, it.ClientKey)
	m := sessModel.AssignmentModel{
		AssignmentID:          id,
		AssignmentSessionID:   sessionID,
		AssignmentTitle:       strings.TrimSpace(it.AssignmentTitle),
		AssignmentDescription: trimPtr(it.AssignmentDescription),
		AssignmentType:        sessModel.AssignmentType(strings.ToLower(strings.TrimSpace(it.AssignmentType))),
		AssignmentCategoryID:  it.AssignmentCategoryID,
		AssignmentClientKey:   ck,
		AssignmentAttachments: make([]sessModel.AssignmentAttachmentModel, 0, len(it.AssignmentAttachments)),
	}
	if m.AssignmentType == "" {
		m.AssignmentType = sessModel.AssignmentHomework
	}
	if due := trimPtr(it.AssignmentDueDate); due != nil {
		d, err := time.Parse(dateLayout, *due)
		if err != nil {
			return m, fmt.Errorf("assignment_due_date must be YYYY-MM-DD")
		}
		m.AssignmentDueDate = &d
	}
	for _, f := range it.AssignmentAttachments {
		a := sessModel.AssignmentAttachmentModel{
			AttachmentFileName: strings.TrimSpace(f.FileName),
			AttachmentFileURL:  strings.TrimSpace(f.FileURL),
			AttachmentFileSize: f.FileSize,
			AttachmentMimeType: trimPtr(f.MimeType),
			AttachmentMetadata: f.Metadata,
		}
		if f.AttachmentID != nil {
			a.AttachmentID = *f.AttachmentID
		}
		m.AssignmentAttachments = append(m.AssignmentAttachments, a)
	}
	return m, nil
}

func (it AttendanceItem) ToModel(sessionID uuid.UUID) sessModel.AttendanceModel {
	id, ck := identity(it.AttendanceID, it.ClientKey)
	st := sessModel.AttendanceStatus(strings.ToLower(strings.TrimSpace(it.AttendanceStatus)))
	if st == "" {
		st = sessModel.AttendancePending
	}
	return sessModel.AttendanceModel{
		AttendanceID:        id,
		AttendanceSessionID: sessionID,
		AttendanceStudentID: it.AttendanceStudentID,
		AttendanceStatus:    st,
		AttendanceNote:      trimPtr(it.AttendanceNote),
		AttendanceClientKey: ck,
	}
}

/*
ToState converts one side of the payload. Parse problems are reported per
field under prefix (e.g. "current.assignments[2].assignment_due_date").
*/
func (p EditStatePayload) ToState(prefix string, sessionID uuid.UUID) (service.EditState, map[string][]string) {
	st := service.EditState{
		Assignments: make([]sessModel.AssignmentModel, 0, len(p.Assignments)),
		Attendance:  make([]sessModel.AttendanceModel, 0, len(p.Attendance)),
	}
	var errs map[string][]string
	for i, it := range p.Assignments {
		m, err := it.ToModel(sessionID)
		if err != nil {
			if errs == nil {
				errs = map[string][]string{}
			}
			key := fmt.Sprintf("%s.assignments[%d].assignment_due_date", prefix, i)
			errs[key] = append(errs[key], err.Error())
		}
		st.Assignments = append(st.Assignments, m)
	}
	for _, it := range p.Attendance {
		st.Attendance = append(st.Attendance, it.ToModel(sessionID))
	}
	return st, errs
}

// ToStates converts both sides, merging their field errors.
func (r EditRequest) ToStates(sessionID uuid.UUID) (original, current service.EditState, errs map[string][]string) {
	original, e1 := r.Original.ToState("original", sessionID)
	current, e2 := r.Current.ToState("current", sessionID)
	for k, v := range e2 {
		if e1 == nil {
			e1 = map[string][]string{}
		}
		e1[k] = append(e1[k], v...)
	}
	return original, current, e1
}

/* =========================================================
   Edit responses
   ========================================================= */

func FromAssignmentModel(m sessModel.AssignmentModel) AssignmentItem {
	it := AssignmentItem{
		AssignmentTitle:       m.AssignmentTitle,
		AssignmentDescription: m.AssignmentDescription,
		AssignmentType:        string(m.AssignmentType),
		AssignmentCategoryID:  m.AssignmentCategoryID,
		ClientKey:             m.AssignmentClientKey,
		AssignmentAttachments: make([]AttachmentItem, 0, len(m.AssignmentAttachments)),
	}
	if m.AssignmentID != uuid.Nil {
		it.AssignmentID = m.AssignmentID.String()
	}
	if m.AssignmentDueDate != nil {
		s := m.AssignmentDueDate.Format(dateLayout)
		it.AssignmentDueDate = &s
	}
	for _, a := range m.AssignmentAttachments {
		ai := AttachmentItem{
			FileName: a.AttachmentFileName,
			FileURL:  a.AttachmentFileURL,
			FileSize: a.AttachmentFileSize,
			MimeType: a.AttachmentMimeType,
			Metadata: a.AttachmentMetadata,
		}
		if a.AttachmentID != uuid.Nil {
			id := a.AttachmentID
			ai.AttachmentID = &id
		}
		it.AssignmentAttachments = append(it.AssignmentAttachments, ai)
	}
	return it
}

func FromAttendanceModel(m sessModel.AttendanceModel) AttendanceItem {
	it := AttendanceItem{
		AttendanceStudentID: m.AttendanceStudentID,
		AttendanceStatus:    string(m.AttendanceStatus),
		AttendanceNote:      m.AttendanceNote,
		ClientKey:           m.AttendanceClientKey,
		StudentName:         m.AttendanceStudentName,
	}
	if m.AttendanceID != uuid.Nil {
		it.AttendanceID = m.AttendanceID.String()
	}
	return it
}

func FromEditState(st service.EditState) EditStatePayload {
	out := EditStatePayload{
		Assignments: make([]AssignmentItem, 0, len(st.Assignments)),
		Attendance:  make([]AttendanceItem, 0, len(st.Attendance)),
	}
	for _, a := range st.Assignments {
		out.Assignments = append(out.Assignments, FromAssignmentModel(a))
	}
	for _, a := range st.Attendance {
		out.Attendance = append(out.Attendance, FromAttendanceModel(a))
	}
	return out
}

type EditSnapshotResponse struct {
	Session SessionResponse `json:"session"`
	EditStatePayload
	Enrollment []service.Enrollee `json:"enrollment"`
}

func FromEditSnapshot(s service.EditSnapshot) EditSnapshotResponse {
	enr := s.Enrollment
	if enr == nil {
		enr = []service.Enrollee{}
	}
	return EditSnapshotResponse{
		Session:          FromSessionModel(s.Session),
		EditStatePayload: FromEditState(s.EditState),
		Enrollment:       enr,
	}
}

type ChangeSetResponse[T any] struct {
	Added    []T `json:"added"`
	Modified []T `json:"modified"`
	Removed  []T `json:"removed"`
}

func mapChangeSet[M, T any](cs service.ChangeSet[M], f func(M) T) ChangeSetResponse[T] {
	conv := func(xs []M) []T {
		out := make([]T, 0, len(xs))
		for _, x := range xs {
			out = append(out, f(x))
		}
		return out
	}
	return ChangeSetResponse[T]{Added: conv(cs.Added), Modified: conv(cs.Modified), Removed: conv(cs.Removed)}
}

type ChangesResponse struct {
	Assignments ChangeSetResponse[AssignmentItem] `json:"assignments"`
	Attendance  ChangeSetResponse[AttendanceItem] `json:"attendance"`
	Dirty       map[string]bool                   `json:"dirty"`
}

func FromChanges(c service.Changes) ChangesResponse {
	return ChangesResponse{
		Assignments: mapChangeSet(c.Assignments, FromAssignmentModel),
		Attendance:  mapChangeSet(c.Attendance, FromAttendanceModel),
		Dirty:       c.Dirty(),
	}
}

type SaveResponse struct {
	Changes ChangesResponse              `json:"changes"`
	Result  service.ReconciliationResult `json:"result"`
}

func FromSaveOutcome(o service.SaveOutcome) SaveResponse {
	return SaveResponse{Changes: FromChanges(o.Changes), Result: o.Result}
}

/* =========================================================
   Helpers
   ========================================================= */

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
