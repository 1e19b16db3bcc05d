package fingerprint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/domain"
)

func TestOfIgnoresInsertionOrder(t *testing.T) {
	first := map[string]any{}
	first["stage"] = "seed"
	first["description"] = "Payments for bakeries"
	first["tags"] = []any{"fintech", "b2b"}
	first["meta"] = map[string]any{"z": 1, "a": "x"}

	second := map[string]any{}
	second["meta"] = map[string]any{"a": "x", "z": 1}
	second["tags"] = []any{"fintech", "b2b"}
	second["description"] = "Payments for bakeries"
	second["stage"] = "seed"

	a, err := Of(first)
	require.NoError(t, err)
	b, err := Of(second)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
}

func TestOfIsDeterministicAcrossCalls(t *testing.T) {
	record := map[string]any{"stage": "seed", "batch": "W24"}
	first, err := Of(record)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Of(record)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestOfListOrderMatters(t *testing.T) {
	a, err := Of(map[string]any{"tags": []any{"a", "b"}})
	require.NoError(t, err)
	b, err := Of(map[string]any{"tags": []any{"b", "a"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCanonicalEncoding(t *testing.T) {
	canonical, err := Canonical(map[string]any{
		"stage": "<seed>",
		"count": 3.0,
		"tags":  []string{"x"},
		"empty": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"empty":null,"stage":"<seed>","tags":["x"]}`, string(canonical))
}

func TestOfAcceptsEveryPrimitiveKind(t *testing.T) {
	type stage string
	canonical, err := Canonical(map[string]any{
		"i8":     int8(-1),
		"i16":    int16(3),
		"u":      uint(3),
		"u8":     uint8(4),
		"u16":    uint16(5),
		"u64":    uint64(6),
		"huge":   uint64(math.MaxUint64),
		"stage":  stage("seed"),
		"sizes":  []int{1, 2},
		"ids":    []int64{7},
		"ratios": []float64{1.5},
		"flags":  []bool{true, false},
		"fixed":  [2]uint16{8, 9},
		"names":  []stage{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"fixed":[8,9],"flags":[true,false],"huge":18446744073709551615,"i16":3,"i8":-1,"ids":[7],"names":["a"],`+
			`"ratios":[1.5],"sizes":[1,2],"stage":"seed","u":3,"u16":5,"u64":6,"u8":4}`,
		string(canonical))
}

func TestOfTypedSlicesHashLikeGenericLists(t *testing.T) {
	typed, err := Of(map[string]any{"sizes": []int{1, 2}, "count": uint(3), "tags": []string{"b2b"}})
	require.NoError(t, err)
	generic, err := Of(map[string]any{"sizes": []any{1, 2}, "count": 3, "tags": []any{"b2b"}})
	require.NoError(t, err)
	assert.Equal(t, generic, typed)

	_, err = Of(map[string]any{"ratios": []float64{math.Inf(1)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ratios[0]`)
}

func TestOfRejectsUnsupportedValues(t *testing.T) {
	_, err := Of(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)

	_, err = Of(map[string]any{"nested": map[string]any{"f": func() {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `nested.f`)
}

func TestOfObservationNormalizes(t *testing.T) {
	a, err := OfObservation(domain.Observation{
		Description: "  Payments   for bakeries ",
		Tags:        []string{"fintech", "B2B", "fintech", " "},
		Stage:       "seed",
	})
	require.NoError(t, err)

	b, err := OfObservation(domain.Observation{
		SchemaVersion: domain.ObservationSchemaVersion,
		Description:   "Payments for bakeries",
		Tags:          []string{"B2B", "fintech"},
		Stage:         "seed",
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestOfObservationSchemaVersionChangesDigest(t *testing.T) {
	obs := domain.Observation{Stage: "seed"}
	current, err := OfObservation(obs)
	require.NoError(t, err)

	obs.SchemaVersion = domain.ObservationSchemaVersion + 1
	next, err := OfObservation(obs)
	require.NoError(t, err)

	assert.NotEqual(t, current, next)
}
