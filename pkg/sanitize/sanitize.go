// Package sanitize turns raw backend records into response envelopes.
package sanitize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trproxy/trproxy/pkg/models"
)

const (
	// HeaderEchoPrefix marks protocol header fields echoed by the backend.
	HeaderEchoPrefix = "TRX_HEADER"
	// FillerPrefix marks fixed-width padding fields.
	FillerPrefix = "filler"

	contKeyField = "contKey"
)

// ErrMalformedResponse is returned when a backend record violates the
// expected structure.
var ErrMalformedResponse = errors.New("malformed backend response")

// Hidden reports whether a field is stripped from responses.
func Hidden(name string) bool {
	return strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, HeaderEchoPrefix) ||
		strings.HasPrefix(name, FillerPrefix)
}

// Body returns a deep copy of raw with hidden fields removed from the top
// level and from every record reached through a sequence. Every element of
// such a sequence must be a record. Any other nested value is copied as is.
func Body(raw models.Record) (models.Record, error) {
	return record(raw, "")
}

// Envelope wraps the sanitized body of raw in a success envelope. A
// continuation key in the echoed protocol header is surfaced in the
// envelope header.
func Envelope(raw models.Record) (*models.Envelope, error) {
	body, err := Body(raw)
	if err != nil {
		return nil, err
	}
	header := models.SuccessHeader()
	if h, ok := raw[HeaderEchoPrefix].(map[string]any); ok {
		if k, ok := h[contKeyField].(string); ok {
			header.ContKey = k
		}
	}
	return &models.Envelope{DataHeader: header, DataBody: body}, nil
}

func record(in models.Record, path string) (models.Record, error) {
	out := make(models.Record, len(in))
	for k, v := range in {
		if Hidden(k) {
			continue
		}
		fieldPath := join(path, k)
		switch val := v.(type) {
		case []any:
			items, err := sequence(val, fieldPath)
			if err != nil {
				return nil, err
			}
			out[k] = items
		case map[string]any:
			out[k] = clone(val)
		default:
			out[k] = v
		}
	}
	return out, nil
}

func sequence(in []any, path string) ([]any, error) {
	out := make([]any, 0, len(in))
	for i, item := range in {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, want record", ErrMalformedResponse, path, i, item)
		}
		child, err := record(rec, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

// clone deep-copies v without filtering or validating it.
func clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = clone(item)
		}
		return out
	default:
		return v
	}
}
