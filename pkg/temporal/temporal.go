// Package temporal answers point-in-time questions over the entity
// version history kept by the store: who was active when, how an entity
// looked on a date, and whether its history is internally consistent.
package temporal

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// Service exposes the temporal read operations. It requires a backend
// with the temporal capability.
type Service struct {
	store store.GraphStore
}

func New(s store.GraphStore) *Service {
	return &Service{store: s}
}

// FieldDiff is one changed field between two versions.
type FieldDiff struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// VersionComparison is the field-level diff between two versions of the
// same entity.
type VersionComparison struct {
	EntityID    string      `json:"entity_id"`
	FromVersion int         `json:"from_version"`
	ToVersion   int         `json:"to_version"`
	Changes     []FieldDiff `json:"changes"`
}

// Violation is one temporal consistency problem found during
// validation. Violations are reported, never thrown.
type Violation struct {
	EntityID string `json:"entity_id"`
	Versions []int  `json:"versions"`
	Message  string `json:"message"`
}

// ValidationReport is the outcome of a consistency check.
type ValidationReport struct {
	EntityID   string      `json:"entity_id"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// ActiveOnDate returns every entity version whose validity window
// covers the given date.
func (s *Service) ActiveOnDate(ctx context.Context, date time.Time) ([]common.EntityVersion, error) {
	temporal, err := store.Temporal(s.store)
	if err != nil {
		return nil, err
	}
	return temporal.GetVersionsActiveOn(ctx, date)
}

// Range returns every entity version whose validity window intersects
// [start, end).
func (s *Service) Range(ctx context.Context, start, end time.Time) ([]common.EntityVersion, error) {
	if !end.After(start) {
		return nil, common.Invalid("end", "must be after start")
	}
	temporal, err := store.Temporal(s.store)
	if err != nil {
		return nil, err
	}
	return temporal.GetVersionsInRange(ctx, start, end)
}

// History returns all versions of an entity in ascending version order.
func (s *Service) History(ctx context.Context, id string) ([]common.EntityVersion, error) {
	if id == "" {
		return nil, common.Invalid("id", "must not be empty")
	}
	temporal, err := store.Temporal(s.store)
	if err != nil {
		return nil, err
	}
	return temporal.GetEntityVersions(ctx, id)
}

// StateAt reconstructs the entity state valid on the given date. A date
// before the entity's first version is a typed not-found, not an error.
func (s *Service) StateAt(ctx context.Context, id string, date time.Time) (*common.Entity, error) {
	versions, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].ActiveAt(date) {
			state := versions[i].State
			return &state, nil
		}
	}
	return nil, fmt.Errorf("no version of %s active on %s: %w", id, date.Format(time.DateOnly), store.ErrNotFound)
}

// Compare diffs two versions of an entity field by field.
func (s *Service) Compare(ctx context.Context, id string, v1, v2 int) (*VersionComparison, error) {
	if v1 == v2 {
		return nil, common.Invalid("versions", "must differ")
	}
	versions, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}

	var from, to *common.EntityVersion
	for i := range versions {
		if versions[i].Version == v1 {
			from = &versions[i]
		}
		if versions[i].Version == v2 {
			to = &versions[i]
		}
	}
	if from == nil {
		return nil, fmt.Errorf("version %d of %s: %w", v1, id, store.ErrNotFound)
	}
	if to == nil {
		return nil, fmt.Errorf("version %d of %s: %w", v2, id, store.ErrNotFound)
	}

	return &VersionComparison{
		EntityID:    id,
		FromVersion: v1,
		ToVersion:   v2,
		Changes:     diffStates(from.State, to.State),
	}, nil
}

// Validate checks an entity's history for monotonic version numbers and
// non-overlapping validity windows.
func (s *Service) Validate(ctx context.Context, id string) (*ValidationReport, error) {
	versions, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{EntityID: id, Valid: true}
	for i := 1; i < len(versions); i++ {
		prev, cur := versions[i-1], versions[i]
		if cur.Version <= prev.Version {
			report.Violations = append(report.Violations, Violation{
				EntityID: id,
				Versions: []int{prev.Version, cur.Version},
				Message:  fmt.Sprintf("version numbers not strictly increasing: %d then %d", prev.Version, cur.Version),
			})
		}
		if overlaps(prev, cur) {
			report.Violations = append(report.Violations, Violation{
				EntityID: id,
				Versions: []int{prev.Version, cur.Version},
				Message:  fmt.Sprintf("validity windows of versions %d and %d overlap", prev.Version, cur.Version),
			})
		}
	}
	report.Valid = len(report.Violations) == 0
	return report, nil
}

// overlaps reports whether two validity windows intersect. An open
// ValidTo extends to infinity.
func overlaps(a, b common.EntityVersion) bool {
	if a.ValidTo == nil {
		return b.ValidTo == nil || b.ValidTo.After(a.ValidFrom)
	}
	if b.ValidTo == nil {
		return a.ValidTo.After(b.ValidFrom)
	}
	return a.ValidFrom.Before(*b.ValidTo) && b.ValidFrom.Before(*a.ValidTo)
}

func diffStates(a, b common.Entity) []FieldDiff {
	var changes []FieldDiff
	add := func(field string, before, after any) {
		if !reflect.DeepEqual(before, after) {
			changes = append(changes, FieldDiff{Field: field, Before: before, After: after})
		}
	}
	add("type", a.Type, b.Type)
	add("name", a.Name, b.Name)
	add("description", a.Description, b.Description)
	add("uri", a.URI, b.URI)
	add("metadata", a.Metadata, b.Metadata)
	add("hierarchy", a.Hierarchy, b.Hierarchy)
	add("tombstoned", a.Tombstoned, b.Tombstoned)
	return changes
}
