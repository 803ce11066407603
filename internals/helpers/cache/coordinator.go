package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AreasForSessionMutation lists every view that embeds session fields.
// A session edit touches all three even when only the session row changed.
func AreasForSessionMutation() []FeatureArea {
	return []FeatureArea{AreaSessions, AreaAssignments, AreaAttendance}
}

// Coordinator drops whole feature areas of one academy after a mutation.
type Coordinator struct {
	port Port
	log  *zap.Logger
}

func NewCoordinator(port Port, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{port: port, log: log.Named("cache")}
}

// Invalidate tries every area even if one fails and joins the errors.
func (c *Coordinator) Invalidate(ctx context.Context, academyID uuid.UUID, areas ...FeatureArea) error {
	if c == nil || c.port == nil {
		return nil
	}
	seen := make(map[FeatureArea]struct{}, len(areas))
	var errs []error
	for _, a := range areas {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if err := c.port.InvalidatePrefix(ctx, academyID, a); err != nil {
			c.log.Warn("invalidate failed",
				zap.String("academy_id", academyID.String()),
				zap.String("area", string(a)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("invalidate %s: %w", a, err))
		}
	}
	return errors.Join(errs...)
}
