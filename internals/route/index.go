// file: internals/route/index.go
package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	sessRoute "schoolops_backend/internals/features/school/sessions/sessions/route"
	sessService "schoolops_backend/internals/features/school/sessions/sessions/service"
	authAcademy "schoolops_backend/internals/middlewares/auth_academy"
)

var startTime = time.Now()

type Deps struct {
	JWTSecret string
	Sessions  *sessService.SessionService
	Ping      func() error
	Log       *zap.Logger
}

func SetupRoutes(app *fiber.App, d Deps) {
	startTime = time.Now()

	BaseRoutes(app, d.Ping)

	// ===================== ADMIN (per academy) =====================
	d.Log.Info("setting up /api/a group (auth + academy scope)")
	admin := app.Group("/api/a",
		authAcademy.AuthJWT(authAcademy.AuthJWTOpts{
			Secret:              d.JWTSecret,
			AllowCookieFallback: true,
		}),
	)
	sessRoute.SessionRoutes(admin, d.Sessions, d.Log)
}
