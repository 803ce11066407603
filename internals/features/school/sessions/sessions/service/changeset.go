// file: internals/features/school/sessions/sessions/service/changeset.go
package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

// ChangeSet partitions one child collection of a session.
// Previous holds the original of each Modified item at the same index.
type ChangeSet[T any] struct {
	Added    []T `json:"added"`
	Modified []T `json:"modified"`
	Removed  []T `json:"removed"`
	Previous []T `json:"-"`
}

func (c ChangeSet[T]) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

func (c ChangeSet[T]) Size() int { return len(c.Added) + len(c.Modified) + len(c.Removed) }

// Comparator tells the detector how to identify and compare items.
// Identity returns uuid.Nil for items not yet persisted.
type Comparator[T any] struct {
	Identity func(T) uuid.UUID
	Changed  func(original, current T) bool
}

/*
Detect diffs current against original.

  - no identity: added
  - identity in both: modified if Changed, otherwise unchanged
  - identity only in original: removed
  - identity only in current: added

Added and Modified follow the order of current, Removed the order of original.
Repeated identities collapse to their first occurrence.
*/
func Detect[T any](original, current []T, cmp Comparator[T]) ChangeSet[T] {
	cs := ChangeSet[T]{
		Added:    []T{},
		Modified: []T{},
		Removed:  []T{},
		Previous: []T{},
	}

	orig := make(map[uuid.UUID]int, len(original))
	for i, o := range original {
		id := cmp.Identity(o)
		if id == uuid.Nil {
			continue
		}
		if _, ok := orig[id]; !ok {
			orig[id] = i
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(current))
	for _, c := range current {
		id := cmp.Identity(c)
		if id == uuid.Nil {
			cs.Added = append(cs.Added, c)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		i, ok := orig[id]
		if !ok {
			cs.Added = append(cs.Added, c)
			continue
		}
		if cmp.Changed(original[i], c) {
			cs.Modified = append(cs.Modified, c)
			cs.Previous = append(cs.Previous, original[i])
		}
	}

	for _, o := range original {
		id := cmp.Identity(o)
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cs.Removed = append(cs.Removed, o)
	}
	return cs
}

/* =========================
   Comparators
========================= */

var AssignmentComparator = Comparator[sessModel.AssignmentModel]{
	Identity: func(a sessModel.AssignmentModel) uuid.UUID { return a.AssignmentID },
	Changed:  assignmentChanged,
}

var AttendanceComparator = Comparator[sessModel.AttendanceModel]{
	Identity: func(a sessModel.AttendanceModel) uuid.UUID { return a.AttendanceID },
	Changed:  attendanceChanged,
}

func assignmentChanged(o, c sessModel.AssignmentModel) bool {
	return o.AssignmentTitle != c.AssignmentTitle ||
		!sameText(o.AssignmentDescription, c.AssignmentDescription) ||
		o.AssignmentType != c.AssignmentType ||
		!sameDay(o.AssignmentDueDate, c.AssignmentDueDate) ||
		!sameUUID(o.AssignmentCategoryID, c.AssignmentCategoryID) ||
		AttachmentsChanged(o.AssignmentAttachments, c.AssignmentAttachments)
}

func attendanceChanged(o, c sessModel.AttendanceModel) bool {
	return o.AttendanceStatus != c.AttendanceStatus || !sameText(o.AttendanceNote, c.AttendanceNote)
}

// AttachmentsChanged compares two attachment lists as sets of file URLs.
func AttachmentsChanged(a, b []sessModel.AssignmentAttachmentModel) bool {
	as, bs := urlSet(a), urlSet(b)
	if len(as) != len(bs) {
		return true
	}
	for u := range as {
		if _, ok := bs[u]; !ok {
			return true
		}
	}
	return false
}

func urlSet(xs []sessModel.AssignmentAttachmentModel) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[strings.TrimSpace(x.AttachmentFileURL)] = struct{}{}
	}
	return m
}

// nil and "" are the same note
func sameText(a, b *string) bool {
	var x, y string
	if a != nil {
		x = *a
	}
	if b != nil {
		y = *b
	}
	return x == y
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return CivilDate(*a).Equal(CivilDate(*b))
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
