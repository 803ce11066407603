// Package cache holds the academy-scoped view cache and its invalidation.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type FeatureArea string

const (
	AreaSessions    FeatureArea = "sessions"
	AreaAssignments FeatureArea = "assignments"
	AreaAttendance  FeatureArea = "attendance"
	AreaClassrooms  FeatureArea = "classrooms"
	AreaStudents    FeatureArea = "students"
)

// Entry is one cached value and the time it was produced.
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// Port is the cache seen by services. Get returns (nil, nil) on a miss.
type Port interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value []byte, ts time.Time) error
	InvalidatePrefix(ctx context.Context, academyID uuid.UUID, area FeatureArea) error
}

func Prefix(area FeatureArea, academyID uuid.UUID) string {
	return fmt.Sprintf("%s-%s-", area, academyID)
}

// Key builds "<area>-<academyID>-<signature>".
func Key(area FeatureArea, academyID uuid.UUID, signature string) string {
	return Prefix(area, academyID) + signature
}

func GetJSON[T any](ctx context.Context, p Port, key string, out *T) (bool, error) {
	e, err := p.Get(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	if err := sonic.Unmarshal(e.Value, out); err != nil {
		return false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, p Port, key string, v any, ts time.Time) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	return p.Set(ctx, key, b, ts)
}
