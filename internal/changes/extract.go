// Package changes derives change events from consecutive snapshots of one entity.
package changes

import (
	"iter"
	"strconv"

	"github.com/rpattn/cohortwatch/internal/domain"
)

var categoryByField = map[string]domain.ChangeCategory{
	domain.FieldDescription: domain.ChangeDescriptionUpdate,
	domain.FieldTags:        domain.ChangeTagsUpdate,
	domain.FieldStage:       domain.ChangeStageTransition,
	domain.FieldTeamSize:    domain.ChangeTeamSize,
	domain.FieldLocation:    domain.ChangeRelocation,
	domain.FieldBatch:       domain.ChangeBatchReassignment,
}

// CategoryFor returns the change category for an observed field.
func CategoryFor(field string) (domain.ChangeCategory, bool) {
	category, ok := categoryByField[field]
	return category, ok
}

// Between diffs two adjacent snapshots field by field. It returns nothing when
// the fingerprints match. Each touched field yields its own event stamped with
// the capture time of cur.
func Between(prev, cur domain.Snapshot) []domain.ChangeEvent {
	if prev.Fingerprint == cur.Fingerprint {
		return nil
	}

	before := prev.Observation.Normalize()
	after := cur.Observation.Normalize()

	var events []domain.ChangeEvent
	for _, field := range domain.ObservationFields {
		oldValue := before.Value(field)
		newValue := after.Value(field)
		if oldValue == newValue {
			continue
		}
		events = append(events, domain.ChangeEvent{
			EntityID:   cur.EntityID,
			Category:   categoryByField[field],
			Field:      field,
			OldValue:   oldValue,
			NewValue:   newValue,
			DetectedAt: cur.CapturedAt,
		})
	}

	if len(events) == 0 {
		events = append(events, domain.ChangeEvent{
			EntityID:   cur.EntityID,
			Category:   domain.ChangeSchemaRevision,
			Field:      "schema_version",
			OldValue:   strconv.Itoa(before.SchemaVersion),
			NewValue:   strconv.Itoa(after.SchemaVersion),
			DetectedAt: cur.CapturedAt,
		})
	}

	return events
}

// Extract lazily yields the change events of an ascending snapshot history.
// The first snapshot has no predecessor and yields nothing. The sequence can
// be ranged over any number of times.
func Extract(history []domain.Snapshot) iter.Seq[domain.ChangeEvent] {
	return func(yield func(domain.ChangeEvent) bool) {
		for i := 1; i < len(history); i++ {
			for _, event := range Between(history[i-1], history[i]) {
				if !yield(event) {
					return
				}
			}
		}
	}
}

// NewestFirst derives all change events of an ascending history, newest
// detection first. Events of one snapshot pair keep field order.
func NewestFirst(history []domain.Snapshot) []domain.ChangeEvent {
	events := []domain.ChangeEvent{}
	for i := len(history) - 1; i >= 1; i-- {
		events = append(events, Between(history[i-1], history[i])...)
	}
	return events
}
