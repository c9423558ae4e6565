package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trproxy/trproxy/pkg/models"
)

// CacheKey identifies a cached response within a tier.
type CacheKey struct {
	Code string
	// Body is the canonical JSON encoding of the preprocessed request.
	Body string
	// ContKey is the continuation token; HasContKey distinguishes an absent
	// token from any present one.
	ContKey    string
	HasContKey bool
}

// NewCacheKey builds the key for a request. Bodies that differ only in field
// order or whitespace produce the same key.
func NewCacheKey(code string, body models.Record, contKey string) (CacheKey, error) {
	canonical, err := Canonical(body)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{
		Code:       code,
		Body:       canonical,
		ContKey:    contKey,
		HasContKey: contKey != "",
	}, nil
}

// String encodes the key for use as a map key. The code and body never
// contain a NUL byte once JSON encoded, so the encoding is unambiguous.
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(k.Code)
	b.WriteByte(0)
	b.WriteString(k.Body)
	b.WriteByte(0)
	if k.HasContKey {
		b.WriteByte('+')
		b.WriteString(k.ContKey)
	} else {
		b.WriteByte('-')
	}
	return b.String()
}

// Canonical returns a stable JSON encoding of body: object keys sorted, no
// insignificant whitespace, numbers kept in their literal form.
func Canonical(body models.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
