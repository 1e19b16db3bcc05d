// Package fingerprint produces stable content hashes of observation records.
//
// A record is a map of field name to value where values are primitives,
// nested records, or ordered lists of those. Records are encoded as JSON with
// keys sorted at every depth and HTML escaping disabled, then hashed with
// SHA-256. Two records with the same content always produce the same digest,
// whatever order their keys were inserted in.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// Size is the length of a hex encoded fingerprint.
const Size = sha256.Size * 2

// Of returns the hex SHA-256 digest of the canonical encoding of record.
func Of(record map[string]any) (string, error) {
	canonical, err := Canonical(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// OfObservation fingerprints the normalized form of obs.
func OfObservation(obs domain.Observation) (string, error) {
	return Of(obs.Normalize().Record())
}

// Canonical returns the canonical byte encoding of record.
func Canonical(record map[string]any) ([]byte, error) {
	normalized, err := normalize("", record)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize converts value into the small set of shapes the encoder handles
// deterministically. encoding/json sorts map[string]any keys on output.
func normalize(path string, value any) (any, error) {
	switch typed := value.(type) {
	case nil, string, bool:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint32:
		return int64(typed), nil
	case float32:
		return normalizeFloat(path, float64(typed))
	case float64:
		return normalizeFloat(path, typed)
	case []string:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = item
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			normalized, err := normalize(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			next := key
			if path != "" {
				next = path + "." + key
			}
			normalized, err := normalize(next, item)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	default:
		return normalizeReflect(path, reflect.ValueOf(value))
	}
}

// normalizeReflect handles the remaining primitive kinds, named primitive
// types and typed slices or arrays of them.
func normalizeReflect(path string, v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u <= math.MaxInt64 {
			return int64(u), nil
		}
		return u, nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(path, v.Float())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make([]any, v.Len())
		for i := range out {
			normalized, err := normalize(fmt.Sprintf("%s[%d]", path, i), v.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			next := key
			if path != "" {
				next = path + "." + key
			}
			normalized, err := normalize(next, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s at %q", v.Type(), path)
}

func normalizeFloat(path string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number at %q", path)
	}
	// Integral floats encode like integers so 3 and 3.0 hash alike.
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}
