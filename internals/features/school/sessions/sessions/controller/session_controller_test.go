package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
	"schoolops_backend/internals/features/school/sessions/sessions/service"
	helper "schoolops_backend/internals/helpers"
	helperAuth "schoolops_backend/internals/helpers/auth"
)

type fakeAPI struct {
	academyID uuid.UUID
	from, to  time.Time
	date      time.Time
	ov        *service.MaterializeOverrides
	current   service.EditState

	list     []sessModel.ClassroomSessionModel
	session  *sessModel.ClassroomSessionModel
	snapshot *service.EditSnapshot
	outcome  *service.SaveOutcome
	err      error
}

func (f *fakeAPI) ListOccurrences(_ context.Context, academyID, _ uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error) {
	f.academyID, f.from, f.to = academyID, from, to
	return f.list, f.err
}

func (f *fakeAPI) Materialize(_ context.Context, academyID, _ uuid.UUID, date time.Time, ov *service.MaterializeOverrides) (*sessModel.ClassroomSessionModel, error) {
	f.academyID, f.date, f.ov = academyID, date, ov
	return f.session, f.err
}

func (f *fakeAPI) MaterializeRange(_ context.Context, academyID, _ uuid.UUID, from, to time.Time) (int, error) {
	f.academyID, f.from, f.to = academyID, from, to
	return 3, f.err
}

func (f *fakeAPI) LoadEditSnapshot(_ context.Context, academyID, _ uuid.UUID) (*service.EditSnapshot, error) {
	f.academyID = academyID
	return f.snapshot, f.err
}

func (f *fakeAPI) SaveChildren(_ context.Context, academyID, _ uuid.UUID, original, current service.EditState) (*service.SaveOutcome, error) {
	f.academyID, f.current = academyID, current
	if f.outcome != nil {
		return f.outcome, f.err
	}
	return &service.SaveOutcome{Changes: service.Preview(original, current)}, f.err
}

func (f *fakeAPI) RepairGradeStubs(_ context.Context, academyID, _ uuid.UUID) (int, error) {
	f.academyID = academyID
	return 2, f.err
}

var testAcademy = uuid.MustParse("0b7d2f4e-1111-4c3a-9d2e-5a6b7c8d9e0f")

func newTestApp(api SessionAPI, withAcademy bool) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: helper.FromFiberError})
	app.Use(func(c *fiber.Ctx) error {
		if withAcademy {
			c.Locals(helperAuth.LocAcademyID, testAcademy.String())
		}
		c.Locals(helperAuth.LocRoles, []string{"teacher"})
		return c.Next()
	})
	ctl := NewSessionController(api, nil)
	app.Get("/classrooms/:classroom_id/occurrences", ctl.ListOccurrences)
	app.Post("/classrooms/:classroom_id/occurrences/materialize", ctl.Materialize)
	app.Post("/classrooms/:classroom_id/occurrences/materialize-range", ctl.MaterializeRange)
	app.Get("/sessions/:id/edit", ctl.GetEdit)
	app.Post("/sessions/:id/changes/preview", ctl.Preview)
	app.Put("/sessions/:id/children", ctl.SaveChildren)
	return app
}

type envelope struct {
	Success   bool                `json:"success"`
	ErrorCode string              `json:"error_code"`
	Errors    map[string][]string `json:"errors"`
	Data      json.RawMessage     `json:"data"`
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

func TestListOccurrences(t *testing.T) {
	classroom := uuid.New()
	api := &fakeAPI{list: []sessModel.ClassroomSessionModel{{
		SessionID:          uuid.New(),
		SessionClassroomID: classroom,
		SessionDate:        time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		SessionStartTime:   datatypes.NewTime(9, 0, 0, 0),
		SessionEndTime:     datatypes.NewTime(10, 0, 0, 0),
		SessionStatus:      sessModel.SessionScheduled,
		SessionIsVirtual:   true,
	}}}
	app := newTestApp(api, true)

	code, env := do(t, app, "GET", "/classrooms/"+classroom.String()+"/occurrences?from=2024-03-01&to=2024-03-31", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, testAcademy, api.academyID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), api.from)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), api.to)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-04", rows[0]["session_date"])
	assert.Equal(t, "09:00:00", rows[0]["session_start_time"])
	assert.Equal(t, true, rows[0]["is_virtual"])
}

func TestListOccurrencesErrors(t *testing.T) {
	classroom := uuid.New().String()

	code, env := do(t, newTestApp(&fakeAPI{}, true), "GET", "/classrooms/"+classroom+"/occurrences?from=03-01-2024", nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "from")

	code, _ = do(t, newTestApp(&fakeAPI{}, true), "GET", "/classrooms/nope/occurrences", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, newTestApp(&fakeAPI{}, false), "GET", "/classrooms/"+classroom+"/occurrences", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	ve := &service.ValidationError{}
	ve.Add("range", "too large")
	code, env = do(t, newTestApp(&fakeAPI{err: ve}, true), "GET", "/classrooms/"+classroom+"/occurrences", nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)
}

func TestMaterialize(t *testing.T) {
	classroom := uuid.New()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{session: &sessModel.ClassroomSessionModel{SessionID: uuid.New(), SessionClassroomID: classroom, SessionDate: date}}
	app := newTestApp(api, true)
	path := "/classrooms/" + classroom.String() + "/occurrences/materialize"

	code, _ := do(t, app, "POST", path, map[string]any{"date": "2024-03-04", "status": "cancelled"})
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, date, api.date)
	require.NotNil(t, api.ov)
	assert.Equal(t, sessModel.SessionCancelled, *api.ov.Status)

	code, env := do(t, app, "POST", path, map[string]any{"date": "2024-03-04", "status": "postponed"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "status")

	code, env = do(t, newTestApp(&fakeAPI{err: service.ErrNoOccurrence}, true), "POST", path, map[string]any{"date": "2024-03-05"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "date")
}

func TestMaterializeRange(t *testing.T) {
	classroom := uuid.New().String()
	api := &fakeAPI{}
	code, env := do(t, newTestApp(api, true), "POST", "/classrooms/"+classroom+"/occurrences/materialize-range",
		map[string]any{"from": "2024-03-01", "to": "2024-08-31"})
	require.Equal(t, fiber.StatusOK, code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.EqualValues(t, 3, out["created"])

	code, _ = do(t, newTestApp(&fakeAPI{}, true), "POST", "/classrooms/"+classroom+"/occurrences/materialize-range",
		map[string]any{"from": "2024-03-01"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
}

func TestGetEditNotFound(t *testing.T) {
	code, env := do(t, newTestApp(&fakeAPI{err: service.ErrNotFound}, true), "GET", "/sessions/"+uuid.NewString()+"/edit", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.ErrorCode)
}

func editBody(student uuid.UUID) map[string]any {
	return map[string]any{
		"original": map[string]any{"assignments": []any{}, "attendance": []any{}},
		"current": map[string]any{
			"assignments": []any{map[string]any{
				"assignment_id":       "temp-1",
				"assignment_title":    "Essay",
				"assignment_due_date": "2024-03-08",
			}},
			"attendance": []any{map[string]any{
				"attendance_id":         "",
				"client_key":            "att-1",
				"attendance_student_id": student.String(),
				"attendance_status":     "present",
			}},
		},
	}
}

func TestPreview(t *testing.T) {
	code, env := do(t, newTestApp(&fakeAPI{}, true), "POST", "/sessions/"+uuid.NewString()+"/changes/preview", editBody(uuid.New()))
	require.Equal(t, fiber.StatusOK, code)

	var out struct {
		Assignments struct {
			Added []map[string]any `json:"added"`
		} `json:"assignments"`
		Dirty map[string]bool `json:"dirty"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out.Assignments.Added, 1)
	assert.Equal(t, "temp-1", out.Assignments.Added[0]["client_key"])
	assert.True(t, out.Dirty["assignments"])
	assert.True(t, out.Dirty["attendance"])
}

func TestSaveChildren(t *testing.T) {
	student := uuid.New()
	api := &fakeAPI{}
	code, _ := do(t, newTestApp(api, true), "PUT", "/sessions/"+uuid.NewString()+"/children", editBody(student))
	require.Equal(t, fiber.StatusOK, code)
	require.Len(t, api.current.Attendance, 1)
	assert.Equal(t, "att-1", api.current.Attendance[0].AttendanceClientKey)
	assert.Equal(t, student, api.current.Attendance[0].AttendanceStudentID)

	bad := editBody(student)
	bad["current"].(map[string]any)["assignments"].([]any)[0].(map[string]any)["assignment_due_date"] = "soon"
	code, env := do(t, newTestApp(&fakeAPI{}, true), "PUT", "/sessions/"+uuid.NewString()+"/children", bad)
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "current.assignments[0].assignment_due_date")
}

func TestSaveChildrenPartialAndTransient(t *testing.T) {
	pf := &service.PartialReconciliationFailure{
		Failed: []service.Batch{service.BatchAttendance},
		Failures: map[service.Batch][]service.RowFailure{
			service.BatchAttendance: {{Op: "insert", RowID: "att-1", Err: errors.New("boom")}},
		},
	}
	api := &fakeAPI{
		err:     pf,
		outcome: &service.SaveOutcome{Result: service.ReconciliationResult{Assignments: service.BatchResult{Added: 1}}},
	}
	code, env := do(t, newTestApp(api, true), "PUT", "/sessions/"+uuid.NewString()+"/children", editBody(uuid.New()))
	assert.Equal(t, fiber.StatusMultiStatus, code)
	assert.Equal(t, "PARTIAL_FAILURE", env.ErrorCode)
	assert.Contains(t, env.Errors, "attendance")
	assert.NotEmpty(t, env.Data)

	api = &fakeAPI{err: &service.TransientStoreError{Op: "list enrollment", Err: service.ErrStoreUnavailable}}
	code, _ = do(t, newTestApp(api, true), "PUT", "/sessions/"+uuid.NewString()+"/children", editBody(uuid.New()))
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
}

func TestMaterializeRangeHorizon(t *testing.T) {
	api := &fakeAPI{err: &service.ValidationError{Fields: map[string][]string{"to": {"range may span at most 183 days"}}}}
	code, env := do(t, newTestApp(api, true), "POST", "/classrooms/"+uuid.NewString()+"/occurrences/materialize-range",
		map[string]any{"from": "2024-03-01", "to": "2024-12-31"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Equal(t, []string{"range may span at most 183 days"}, env.Errors["to"])
	want, err := service.ParseDate("2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, want, api.to)
}
