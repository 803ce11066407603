// file: internals/helpers/dbtime/dbtime.go
package dbtime

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Locals names follow what AuthJWT sets.
const (
	LocAcademyTimezone = "academy_timezone" // string, e.g. "Asia/Seoul"
	LocAcademyLoc      = "academy_loc"      // *time.Location
)

var defaultLoc = time.UTC

// SetDefaultTimezone is called once at startup with DEFAULT_TIMEZONE.
func SetDefaultTimezone(name string) error {
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	defaultLoc = loc
	return nil
}

// GetAcademyLocation resolves the request's timezone:
// 1) c.Locals("academy_loc") set earlier in the request
// 2) "academy_timezone" from the token, loaded and cached in locals
// 3) the service default
func GetAcademyLocation(c *fiber.Ctx) *time.Location {
	if c == nil {
		return defaultLoc
	}
	if v := c.Locals(LocAcademyLoc); v != nil {
		if loc, ok := v.(*time.Location); ok && loc != nil {
			return loc
		}
	}
	if v := c.Locals(LocAcademyTimezone); v != nil {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			if loc, err := time.LoadLocation(strings.TrimSpace(s)); err == nil {
				c.Locals(LocAcademyLoc, loc)
				return loc
			}
		}
	}
	return defaultLoc
}

func NowInAcademy(c *fiber.Ctx) time.Time {
	return time.Now().In(GetAcademyLocation(c))
}

// TodayInAcademy is the academy's calendar date as UTC midnight.
func TodayInAcademy(c *fiber.Ctx) time.Time {
	now := NowInAcademy(c)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
