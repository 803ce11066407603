// file: internals/features/school/sessions/sessions/controller/session_controller.go
package controller

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	sessDTO "schoolops_backend/internals/features/school/sessions/sessions/dto"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
	"schoolops_backend/internals/features/school/sessions/sessions/service"
	helper "schoolops_backend/internals/helpers"
	helperAuth "schoolops_backend/internals/helpers/auth"
	"schoolops_backend/internals/helpers/dbtime"
)

// defaultWindowDays is used when a listing has no explicit "to".
const defaultWindowDays = 30

// SessionAPI is the part of service.SessionService the handlers use.
type SessionAPI interface {
	ListOccurrences(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) ([]sessModel.ClassroomSessionModel, error)
	Materialize(ctx context.Context, academyID, classroomID uuid.UUID, date time.Time, ov *service.MaterializeOverrides) (*sessModel.ClassroomSessionModel, error)
	MaterializeRange(ctx context.Context, academyID, classroomID uuid.UUID, from, to time.Time) (int, error)
	LoadEditSnapshot(ctx context.Context, academyID, sessionID uuid.UUID) (*service.EditSnapshot, error)
	SaveChildren(ctx context.Context, academyID, sessionID uuid.UUID, original, current service.EditState) (*service.SaveOutcome, error)
	RepairGradeStubs(ctx context.Context, academyID, sessionID uuid.UUID) (int, error)
}

type SessionController struct {
	svc      SessionAPI
	validate *validator.Validate
	log      *zap.Logger
}

func NewSessionController(svc SessionAPI, log *zap.Logger) *SessionController {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &SessionController{svc: svc, validate: v, log: log.Named("http.sessions")}
}

/* ========== small helpers ========== */

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params(name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, name+" is not a valid UUID")
	}
	return id, nil
}

// queryRange reads ?from=&to= with today and today+30 as defaults.
func queryRange(c *fiber.Ctx) (time.Time, time.Time, map[string][]string) {
	errs := map[string][]string{}
	from := dbtime.TodayInAcademy(c)
	if s := strings.TrimSpace(c.Query("from")); s != "" {
		d, err := service.ParseDate(s)
		if err != nil {
			errs["from"] = append(errs["from"], "must be YYYY-MM-DD")
		}
		from = d
	}
	to := from.AddDate(0, 0, defaultWindowDays)
	if s := strings.TrimSpace(c.Query("to")); s != "" {
		d, err := service.ParseDate(s)
		if err != nil {
			errs["to"] = append(errs["to"], "must be YYYY-MM-DD")
		}
		to = d
	}
	if len(errs) == 0 {
		errs = nil
	}
	return from, to, errs
}

func (ctrl *SessionController) fieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		for _, fe := range ves {
			out[fe.Field()] = append(out[fe.Field()], "failed on "+fe.Tag())
		}
		return out
	}
	out["body"] = []string{err.Error()}
	return out
}

// writeServiceError maps service errors to the JSON envelope.
func (ctrl *SessionController) writeServiceError(c *fiber.Ctx, err error) error {
	var ve *service.ValidationError
	var te *service.TransientStoreError
	switch {
	case errors.As(err, &ve):
		return helper.JsonValidationError(c, ve.Fields)
	case errors.Is(err, service.ErrNotFound):
		return helper.JsonError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, service.ErrNoOccurrence):
		return helper.JsonValidationError(c, map[string][]string{"date": {err.Error()}})
	case errors.As(err, &te), errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.Set(fiber.HeaderRetryAfter, "1")
		return helper.JsonError(c, fiber.StatusServiceUnavailable, "store temporarily unavailable, retry")
	default:
		ctrl.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.Any("request_id", c.Locals("reqid")),
			zap.Error(err),
		)
		return helper.JsonError(c, fiber.StatusInternalServerError, "")
	}
}

func partialErrors(pf *service.PartialReconciliationFailure) map[string][]string {
	out := make(map[string][]string, len(pf.Failed))
	for _, b := range pf.Failed {
		for _, f := range pf.Failures[b] {
			out[string(b)] = append(out[string(b)], f.Error())
		}
	}
	return out
}

/* =========================================================
   GET /api/a/classrooms/:classroom_id/occurrences?from=&to=
========================================================= */

func (ctrl *SessionController) ListOccurrences(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	classroomID, err := uuidParam(c, "classroom_id")
	if err != nil {
		return err
	}
	from, to, ferr := queryRange(c)
	if ferr != nil {
		return helper.JsonValidationError(c, ferr)
	}

	list, err := ctrl.svc.ListOccurrences(c.UserContext(), academyID, classroomID, from, to)
	if err != nil {
		return ctrl.writeServiceError(c, err)
	}
	return helper.JsonOK(c, "ok", sessDTO.FromSessionModels(list))
}

/* =========================================================
   POST /api/a/classrooms/:classroom_id/occurrences/materialize
========================================================= */

func (ctrl *SessionController) Materialize(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	classroomID, err := uuidParam(c, "classroom_id")
	if err != nil {
		return err
	}

	var req sessDTO.MaterializeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Normalize()
	if err := ctrl.validate.Struct(&req); err != nil {
		return helper.JsonValidationError(c, ctrl.fieldErrors(err))
	}

	date, ov := req.ToOverrides()
	s, err := ctrl.svc.Materialize(c.UserContext(), academyID, classroomID, date, ov)
	if err != nil {
		return ctrl.writeServiceError(c, err)
	}
	return helper.JsonOK(c, "materialized", sessDTO.FromSessionModel(*s))
}

/* =========================================================
   POST /api/a/classrooms/:classroom_id/occurrences/materialize-range
========================================================= */

func (ctrl *SessionController) MaterializeRange(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	classroomID, err := uuidParam(c, "classroom_id")
	if err != nil {
		return err
	}

	var req sessDTO.MaterializeRangeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := ctrl.validate.Struct(&req); err != nil {
		return helper.JsonValidationError(c, ctrl.fieldErrors(err))
	}
	from, _ := service.ParseDate(req.From)
	to, _ := service.ParseDate(req.To)

	n, err := ctrl.svc.MaterializeRange(c.UserContext(), academyID, classroomID, from, to)
	if err != nil {
		if n > 0 {
			ctrl.log.Warn("materialize range stopped early", zap.Int("created", n), zap.Error(err))
		}
		return ctrl.writeServiceError(c, err)
	}
	return helper.JsonOK(c, "materialized", sessDTO.MaterializeRangeResponse{From: req.From, To: req.To, Created: n})
}

/* =========================================================
   GET /api/a/sessions/:id/edit
========================================================= */

func (ctrl *SessionController) GetEdit(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	snap, err := ctrl.svc.LoadEditSnapshot(c.UserContext(), academyID, sessionID)
	if err != nil {
		return ctrl.writeServiceError(c, err)
	}
	return helper.JsonOK(c, "ok", sessDTO.FromEditSnapshot(*snap))
}

// parseEdit returns field errors separately so callers can answer 422.
func (ctrl *SessionController) parseEdit(c *fiber.Ctx) (uuid.UUID, service.EditState, service.EditState, map[string][]string, error) {
	var zero service.EditState
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return uuid.Nil, zero, zero, nil, err
	}
	var req sessDTO.EditRequest
	if err := c.BodyParser(&req); err != nil {
		return uuid.Nil, zero, zero, nil, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	original, current, ferr := req.ToStates(sessionID)
	return sessionID, original, current, ferr, nil
}

/* =========================================================
   POST /api/a/sessions/:id/changes/preview
========================================================= */

func (ctrl *SessionController) Preview(c *fiber.Ctx) error {
	if _, err := helperAuth.GetAcademyIDFromToken(c); err != nil {
		return err
	}
	_, original, current, ferr, err := ctrl.parseEdit(c)
	if err != nil {
		return err
	}
	if ferr != nil {
		return helper.JsonValidationError(c, ferr)
	}
	return helper.JsonOK(c, "ok", sessDTO.FromChanges(service.Preview(original, current)))
}

/* =========================================================
   PUT /api/a/sessions/:id/children
========================================================= */

func (ctrl *SessionController) SaveChildren(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	sessionID, original, current, ferr, err := ctrl.parseEdit(c)
	if err != nil {
		return err
	}
	if ferr != nil {
		return helper.JsonValidationError(c, ferr)
	}

	out, err := ctrl.svc.SaveChildren(c.UserContext(), academyID, sessionID, original, current)
	if err != nil {
		var pf *service.PartialReconciliationFailure
		if errors.As(err, &pf) && out != nil {
			if pf.Retryable() {
				c.Set(fiber.HeaderRetryAfter, "1")
			}
			return helper.JsonPartial(c, pf.Error(), sessDTO.FromSaveOutcome(*out), partialErrors(pf))
		}
		return ctrl.writeServiceError(c, err)
	}
	if out.Changes.IsEmpty() && out.Result.Applied() == 0 {
		return helper.JsonOK(c, "no changes", sessDTO.FromSaveOutcome(*out))
	}
	return helper.JsonUpdated(c, "saved", sessDTO.FromSaveOutcome(*out))
}

/* =========================================================
   POST /api/a/sessions/:id/grades/repair
========================================================= */

func (ctrl *SessionController) RepairGrades(c *fiber.Ctx) error {
	academyID, err := helperAuth.GetAcademyIDFromToken(c)
	if err != nil {
		return err
	}
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	n, err := ctrl.svc.RepairGradeStubs(c.UserContext(), academyID, sessionID)
	if err != nil {
		return ctrl.writeServiceError(c, err)
	}
	return helper.JsonOK(c, "repaired", fiber.Map{"grade_stubs": n})
}
