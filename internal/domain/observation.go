package domain

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ObservationSchemaVersion tags the field set below. Bump it whenever a field is
// added or removed so fingerprints of different shapes never collide.
const ObservationSchemaVersion = 1

// Observation field names, in the order change events are emitted.
const (
	FieldDescription = "description"
	FieldTags        = "tags"
	FieldStage       = "stage"
	FieldTeamSize    = "team_size"
	FieldLocation    = "location"
	FieldBatch       = "batch"
)

// ObservationFields lists the observed fields in canonical order.
var ObservationFields = []string{
	FieldDescription,
	FieldTags,
	FieldStage,
	FieldTeamSize,
	FieldLocation,
	FieldBatch,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Observation is the closed set of fields read from one company page.
type Observation struct {
	SchemaVersion int      `json:"schema_version"`
	Description   string   `json:"description" validate:"max=4000"`
	Tags          []string `json:"tags" validate:"max=64,dive,max=80"`
	Stage         string   `json:"stage" validate:"max=64"`
	TeamSize      string   `json:"team_size" validate:"max=32"`
	Location      string   `json:"location" validate:"max=200"`
	Batch         string   `json:"batch" validate:"max=32"`
}

// Normalize returns a copy with whitespace collapsed and tags lower-cased, deduplicated and sorted.
// An unset schema version is stamped with the current one.
func (o Observation) Normalize() Observation {
	out := Observation{
		SchemaVersion: o.SchemaVersion,
		Description:   collapseSpace(o.Description),
		Stage:         collapseSpace(o.Stage),
		TeamSize:      collapseSpace(o.TeamSize),
		Location:      collapseSpace(o.Location),
		Batch:         collapseSpace(o.Batch),
		Tags:          []string{},
	}
	if out.SchemaVersion == 0 {
		out.SchemaVersion = ObservationSchemaVersion
	}
	for _, tag := range o.Tags {
		tag = strings.ToLower(collapseSpace(tag))
		if tag == "" {
			continue
		}
		out.Tags = append(out.Tags, tag)
	}
	slices.Sort(out.Tags)
	out.Tags = slices.Compact(out.Tags)
	return out
}

// Empty reports whether no observed field carries a value.
func (o Observation) Empty() bool {
	return o.Description == "" && len(o.Tags) == 0 && o.Stage == "" &&
		o.TeamSize == "" && o.Location == "" && o.Batch == ""
}

// Validate checks field limits and rejects observations with nothing in them.
func (o Observation) Validate() error {
	if o.Empty() {
		return &ValidationError{Field: "observation", Reason: "no observed fields"}
	}
	if err := validate.Struct(o); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " " + fe.Param()}
		}
		return &ValidationError{Field: "observation", Reason: err.Error()}
	}
	return nil
}

// Record returns the canonical field map used for fingerprinting.
func (o Observation) Record() map[string]any {
	tags := make([]any, len(o.Tags))
	for i, tag := range o.Tags {
		tags[i] = tag
	}
	return map[string]any{
		"schema_version": o.SchemaVersion,
		FieldDescription: o.Description,
		FieldTags:        tags,
		FieldStage:       o.Stage,
		FieldTeamSize:    o.TeamSize,
		FieldLocation:    o.Location,
		FieldBatch:       o.Batch,
	}
}

// Value returns the text form of one field; tags are rendered as a JSON array.
func (o Observation) Value(field string) string {
	switch field {
	case FieldDescription:
		return o.Description
	case FieldTags:
		return tagsText(o.Tags)
	case FieldStage:
		return o.Stage
	case FieldTeamSize:
		return o.TeamSize
	case FieldLocation:
		return o.Location
	case FieldBatch:
		return o.Batch
	default:
		return ""
	}
}

// SearchText is the text indexed for relevance ranking.
func (o Observation) SearchText() string {
	parts := []string{o.Description, strings.Join(o.Tags, " "), o.Stage, o.Location, o.Batch}
	return collapseSpace(strings.Join(parts, " "))
}

func tagsText(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return strings.Join(tags, ",")
	}
	return string(encoded)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
