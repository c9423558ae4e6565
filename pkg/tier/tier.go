// Package tier defines the fixed cache tiers and maps configured TTLs onto them.
package tier

import (
	"fmt"
	"time"
)

// Name identifies a cache tier.
type Name string

const (
	NoEviction   Name = "no-eviction"
	EightHour    Name = "8-hour"
	OneHour      Name = "1-hour"
	ThirtyMinute Name = "30-minute"
	TenMinute    Name = "10-minute"
	SixtySecond  Name = "60-second"
	ThirtySecond Name = "30-second"
	TenSecond    Name = "10-second"
	ThreeSecond  Name = "3-second"
	TwoSecond    Name = "2-second"

	// Uncached is not backed by a cache; requests resolving to it go
	// straight to the backend.
	Uncached Name = "uncached"
)

// Cached lists every tier that owns a cache, longest TTL first.
var Cached = []Name{
	NoEviction,
	EightHour,
	OneHour,
	ThirtyMinute,
	TenMinute,
	SixtySecond,
	ThirtySecond,
	TenSecond,
	ThreeSecond,
	TwoSecond,
}

// Tier is a named cache bucket with a nominal TTL and a capacity bound.
type Tier struct {
	Name       Name
	TTL        time.Duration
	MaxEntries int
	// Exempt tiers never expire entries by TTL and are skipped by the sweep.
	Exempt bool
}

// Override replaces the TTL and/or capacity of a tier. Zero fields keep the default.
type Override struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// Table holds the configured tiers keyed by name.
type Table map[Name]Tier

// DefaultTable returns the stock tier table.
func DefaultTable() Table {
	return Table{
		NoEviction:   {Name: NoEviction, TTL: 24 * time.Hour, MaxEntries: 10000, Exempt: true},
		EightHour:    {Name: EightHour, TTL: 8 * time.Hour, MaxEntries: 10000},
		OneHour:      {Name: OneHour, TTL: time.Hour, MaxEntries: 10000},
		ThirtyMinute: {Name: ThirtyMinute, TTL: 30 * time.Minute, MaxEntries: 7000},
		TenMinute:    {Name: TenMinute, TTL: 10 * time.Minute, MaxEntries: 5000},
		SixtySecond:  {Name: SixtySecond, TTL: 60 * time.Second, MaxEntries: 3000},
		ThirtySecond: {Name: ThirtySecond, TTL: 30 * time.Second, MaxEntries: 2000},
		TenSecond:    {Name: TenSecond, TTL: 10 * time.Second, MaxEntries: 1000},
		ThreeSecond:  {Name: ThreeSecond, TTL: 3 * time.Second, MaxEntries: 1000},
		TwoSecond:    {Name: TwoSecond, TTL: 2 * time.Second, MaxEntries: 1000},
	}
}

// WithOverrides returns a copy of t with the given overrides applied.
func (t Table) WithOverrides(overrides map[Name]Override) (Table, error) {
	out := make(Table, len(t))
	for name, tr := range t {
		out[name] = tr
	}
	for name, o := range overrides {
		tr, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("unknown cache tier %q", name)
		}
		if o.TTL < 0 || o.Capacity < 0 {
			return nil, fmt.Errorf("tier %q: ttl and capacity must not be negative", name)
		}
		if o.TTL > 0 {
			tr.TTL = o.TTL
		}
		if o.Capacity > 0 {
			tr.MaxEntries = o.Capacity
		}
		out[name] = tr
	}
	return out, nil
}

// Resolve maps a configured TTL in seconds to a tier name. Exempt codes
// always land in the no-eviction tier. The first matching threshold wins;
// TTLs of 1, 2 and 3 seconds match none of the thresholds and fall through
// to the 30-second tier.
func Resolve(ttlSeconds int64, exempt bool) Name {
	if exempt {
		return NoEviction
	}
	switch {
	case ttlSeconds >= 28800:
		return EightHour
	case ttlSeconds >= 3600:
		return OneHour
	case ttlSeconds >= 1800:
		return ThirtyMinute
	case ttlSeconds >= 600:
		return TenMinute
	case ttlSeconds >= 60:
		return SixtySecond
	case ttlSeconds > 30:
		return TenSecond
	case ttlSeconds > 10:
		return ThreeSecond
	case ttlSeconds > 3:
		return TwoSecond
	case ttlSeconds == 0:
		return Uncached
	default:
		return ThirtySecond
	}
}
