package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for caller-contract violations. Both indicate a bug in the
// collection routine and are fatal to the run.
var (
	// ErrMissingIdentifier is returned when an entity is emitted without an ID.
	ErrMissingIdentifier = errors.New("entity has no identifier")

	// ErrNoProperties is returned when an entity is emitted without any
	// property values.
	ErrNoProperties = errors.New("entity has no properties")
)

// Decompose converts an entity into its atomic statements: one per
// property-value pair, each carrying the entity identifier, the owning
// dataset, the unique flag and the entity's target designation. The result
// is ordered by property name, values in emission order.
//
// Decompose is pure and touches no external state.
func Decompose(entity *Entity, unique bool, runID string, now time.Time) ([]*Statement, error) {
	if !entity.HasProperties() {
		return nil, fmt.Errorf("%w: %s", ErrNoProperties, entity.ID)
	}

	var statements []*Statement

	for _, prop := range entity.Properties() {
		for _, value := range entity.Values(prop) {
			statements = append(statements, &Statement{
				Dataset:   entity.Dataset,
				EntityID:  entity.ID,
				Prop:      prop,
				Value:     value,
				Schema:    entity.Schema,
				Unique:    unique,
				Target:    entity.Target,
				RunID:     runID,
				FirstSeen: now,
				LastSeen:  now,
			})
		}
	}

	return statements, nil
}
