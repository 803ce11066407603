// file: internals/features/school/sessions/sessions/route/session_route.go
package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"schoolops_backend/internals/constants"
	sessCtrl "schoolops_backend/internals/features/school/sessions/sessions/controller"
	helperAuth "schoolops_backend/internals/helpers/auth"
	"schoolops_backend/internals/middlewares"
)

// SessionRoutes mounts under an authenticated /api/a group.
func SessionRoutes(r fiber.Router, svc sessCtrl.SessionAPI, log *zap.Logger) {
	ctl := sessCtrl.NewSessionController(svc, log)
	canWrite := helperAuth.RequireAnyRole("sessions", constants.WriterRoles...)

	// =====================
	// Occurrences (virtual + persisted)
	// =====================
	occ := r.Group("/classrooms/:classroom_id/occurrences")
	occ.Get("/", ctl.ListOccurrences)
	occ.Post("/materialize", canWrite, ctl.Materialize)
	occ.Post("/materialize-range", canWrite, middlewares.MaterializeRateLimiter(), ctl.MaterializeRange)

	// =====================
	// Session children (assignments, attendance)
	// =====================
	sess := r.Group("/sessions/:id")
	sess.Get("/edit", ctl.GetEdit)
	sess.Post("/changes/preview", ctl.Preview)
	sess.Put("/children", canWrite, ctl.SaveChildren)
	sess.Post("/grades/repair", canWrite, ctl.RepairGrades)
}
