// Package registry holds the per-code transaction profiles loaded at startup.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/trproxy/trproxy/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrMalformedSource is returned when the profiles source cannot be used.
var ErrMalformedSource = errors.New("malformed profiles source")

// profileRecord is the on-disk shape of a single code entry. The file is the
// JSON document used by the backend team; YAML is accepted as well.
type profileRecord struct {
	TTL       *int64 `yaml:"ttl"`
	Alias     string `yaml:"alias"`
	ArrayName string `yaml:"arrayName"`
}

// Registry is an immutable index of transaction profiles. It is safe for
// concurrent use without locking.
type Registry struct {
	profiles map[string]models.TransactionProfile
	aliases  map[string]string
	exempt   map[string]struct{}
}

// Load reads the profiles file at path and builds a Registry.
func Load(path string, exemptCodes []string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return Parse(data, exemptCodes)
}

// Parse builds a Registry from a code → {ttl, alias, arrayName} document.
func Parse(data []byte, exemptCodes []string) (*Registry, error) {
	var records map[string]*profileRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}

	profiles := make([]models.TransactionProfile, 0, len(records))
	for code, rec := range records {
		if rec == nil || rec.TTL == nil {
			return nil, fmt.Errorf("%w: code %q has no ttl", ErrMalformedSource, code)
		}
		profiles = append(profiles, models.TransactionProfile{
			Code:           code,
			TTLSeconds:     *rec.TTL,
			Alias:          rec.Alias,
			ArrayFieldName: rec.ArrayName,
		})
	}
	return New(profiles, exemptCodes)
}

// New builds a Registry from already decoded profiles. The exemption flag of
// each profile is set from exemptCodes.
func New(profiles []models.TransactionProfile, exemptCodes []string) (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]models.TransactionProfile, len(profiles)),
		aliases:  make(map[string]string),
		exempt:   make(map[string]struct{}, len(exemptCodes)),
	}
	for _, code := range exemptCodes {
		r.exempt[code] = struct{}{}
	}

	for _, p := range profiles {
		if p.Code == "" {
			return nil, fmt.Errorf("%w: empty transaction code", ErrMalformedSource)
		}
		if p.TTLSeconds < 0 {
			return nil, fmt.Errorf("%w: code %q has negative ttl %d", ErrMalformedSource, p.Code, p.TTLSeconds)
		}
		if _, dup := r.profiles[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %q", ErrMalformedSource, p.Code)
		}
		if p.Alias != "" {
			if other, dup := r.aliases[p.Alias]; dup {
				return nil, fmt.Errorf("%w: alias %q used by %q and %q", ErrMalformedSource, p.Alias, other, p.Code)
			}
			r.aliases[p.Alias] = p.Code
		}
		_, p.EvictionExempt = r.exempt[p.Code]
		r.profiles[p.Code] = p
	}
	return r, nil
}

// ProfileByCode returns the profile configured for code.
func (r *Registry) ProfileByCode(code string) (models.TransactionProfile, bool) {
	p, ok := r.profiles[code]
	return p, ok
}

// CodeByAlias returns the transaction code an alias maps to.
func (r *Registry) CodeByAlias(alias string) (string, bool) {
	code, ok := r.aliases[alias]
	return code, ok
}

// ExemptCodes returns the sorted list of eviction-exempt codes.
func (r *Registry) ExemptCodes() []string {
	codes := make([]string, 0, len(r.exempt))
	for code := range r.exempt {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Profiles returns every profile sorted by code.
func (r *Registry) Profiles() []models.TransactionProfile {
	out := make([]models.TransactionProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of loaded profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}
