// file: internals/features/school/sessions/sessions/service/materializer.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

// MaterializeOverrides are applied to a freshly inserted row only, never to an adopted one.
type MaterializeOverrides struct {
	Status              *sessModel.SessionStatus
	Location            *string
	Notes               *string
	SubstituteTeacherID *uuid.UUID
}

type Materializer struct {
	sessions SessionStore
	log      *zap.Logger
}

func NewMaterializer(sessions SessionStore, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{sessions: sessions, log: log}
}

// Materialize persists a virtual session. If another actor already stored the
// same (classroom, date) the existing row is returned instead.
// A non-virtual input is returned unchanged.
func (m *Materializer) Materialize(ctx context.Context, virtual sessModel.ClassroomSessionModel, ov *MaterializeOverrides) (*sessModel.ClassroomSessionModel, error) {
	s, _, err := m.materialize(ctx, virtual, ov)
	return s, err
}

func (m *Materializer) materialize(ctx context.Context, virtual sessModel.ClassroomSessionModel, ov *MaterializeOverrides) (*sessModel.ClassroomSessionModel, bool, error) {
	if !virtual.SessionIsVirtual {
		out := virtual
		return &out, false, nil
	}

	// A concurrent delete between our insert and the re-read empties the slot again,
	// so one more insert is attempted before giving up.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		row := persistedFrom(virtual, ov)
		err := m.sessions.InsertSession(ctx, &row)
		if err == nil {
			return &row, true, nil
		}
		if !errors.Is(err, ErrUniqueViolation) {
			return nil, false, fmt.Errorf("insert session: %w", err)
		}

		conflict := &ConflictError{ClassroomID: row.SessionClassroomID, Date: row.SessionDate, Err: err}
		existing, ferr := m.sessions.FindSessionByDate(ctx, row.SessionClassroomID, row.SessionDate)
		if ferr == nil {
			m.log.Debug("adopted existing session",
				zap.String("classroom_id", row.SessionClassroomID.String()),
				zap.String("date", row.DateKey()),
				zap.String("session_id", existing.SessionID.String()),
			)
			existing.SessionIsVirtual = false
			return existing, false, nil
		}
		if !errors.Is(ferr, ErrNotFound) {
			return nil, false, fmt.Errorf("re-read after %v: %w", conflict, ferr)
		}
		lastErr = conflict
	}
	return nil, false, fmt.Errorf("materialize: %w", lastErr)
}

func persistedFrom(v sessModel.ClassroomSessionModel, ov *MaterializeOverrides) sessModel.ClassroomSessionModel {
	row := sessModel.ClassroomSessionModel{
		SessionID:          uuid.New(),
		SessionClassroomID: v.SessionClassroomID,
		SessionAcademyID:   v.SessionAcademyID,
		SessionDate:        CivilDate(v.SessionDate),
		SessionStartTime:   v.SessionStartTime,
		SessionEndTime:     v.SessionEndTime,
		SessionLocation:    DefaultLocation(&v.SessionLocation),
		SessionStatus:      sessModel.SessionScheduled,
		SessionNotes:       v.SessionNotes,
	}
	if ov == nil {
		return row
	}
	if ov.Status != nil && *ov.Status != "" {
		row.SessionStatus = *ov.Status
	}
	if ov.Location != nil && strings.TrimSpace(*ov.Location) != "" {
		row.SessionLocation = strings.TrimSpace(*ov.Location)
	}
	if ov.Notes != nil {
		row.SessionNotes = ov.Notes
	}
	if ov.SubstituteTeacherID != nil {
		row.SessionSubstituteTeacherID = ov.SubstituteTeacherID
	}
	return row
}
