// file: internals/helpers/auth/academy_context.go
package helper

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"schoolops_backend/internals/constants"
)

/* ============================================
   Locals Keys (AuthJWT sets these)
   ============================================ */

const (
	LocUserID          = "user_id"          // string
	LocAcademyID       = "academy_id"       // string UUID
	LocAcademyTimezone = "academy_timezone" // string, e.g. "Asia/Seoul"
	LocRoles           = "roles"            // []string
)

var (
	ErrAcademyContextMissing = fiber.NewError(fiber.StatusUnauthorized, "academy_id is missing from token")
	ErrAcademyContextInvalid = fiber.NewError(fiber.StatusUnauthorized, "academy_id in token is not a valid UUID")
)

func normalizeLocalsToStrings(v any) []string {
	out := make([]string, 0)
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, it := range t {
			switch vv := it.(type) {
			case string:
				if s := strings.TrimSpace(vv); s != "" {
					out = append(out, s)
				}
			case uuid.UUID:
				if vv != uuid.Nil {
					out = append(out, vv.String())
				}
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case uuid.UUID:
		if t != uuid.Nil {
			out = append(out, t.String())
		}
	}
	return out
}

func parseFirstUUIDFromLocals(c *fiber.Ctx, key string, missing, invalid error) (uuid.UUID, error) {
	items := normalizeLocalsToStrings(c.Locals(key))
	if len(items) == 0 {
		return uuid.Nil, missing
	}
	id, err := uuid.Parse(items[0])
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalid
	}
	return id, nil
}

// GetAcademyIDFromToken reads the academy every /api/a request is scoped to.
func GetAcademyIDFromToken(c *fiber.Ctx) (uuid.UUID, error) {
	return parseFirstUUIDFromLocals(c, LocAcademyID, ErrAcademyContextMissing, ErrAcademyContextInvalid)
}

func GetUserIDFromToken(c *fiber.Ctx) (uuid.UUID, error) {
	return parseFirstUUIDFromLocals(c, LocUserID,
		fiber.NewError(fiber.StatusUnauthorized, "user_id is missing from token"),
		fiber.NewError(fiber.StatusUnauthorized, "user_id in token is not a valid UUID"),
	)
}

func HasAnyRole(c *fiber.Ctx, roles ...string) bool {
	have := normalizeLocalsToStrings(c.Locals(LocRoles))
	for _, h := range have {
		for _, r := range roles {
			if strings.EqualFold(h, r) {
				return true
			}
		}
	}
	return false
}

// RequireAnyRole guards write routes. Mount after AuthJWT.
func RequireAnyRole(feature string, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasAnyRole(c, roles...) {
			return fiber.NewError(fiber.StatusForbidden, constants.RoleErrorWriter(feature))
		}
		return c.Next()
	}
}
