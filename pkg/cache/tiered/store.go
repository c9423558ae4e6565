// Package tiered implements the per-tier response cache.
//
// Every tier owns an independent LRU bounded by capacity and TTL. Entries
// expire a fixed TTL after insertion; since reads never outlive writes this
// also bounds the idle time of an entry. Concurrent misses for the same key
// within a tier share a single computation.
//
// Each tier with a finite TTL runs a background expiry goroutine owned by the
// LRU library, which has no way to stop it. A Store therefore lives for the
// whole process; build one at startup and share it.
package tiered

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/tier"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownTier is returned for operations on a tier the store does not own.
var ErrUnknownTier = errors.New("unknown cache tier")

// Outcome describes how a ComputeIfAbsent call was served.
type Outcome int

const (
	// Hit means the value was already cached.
	Hit Outcome = iota
	// Miss means this call ran the computation.
	Miss
	// Coalesced means the call waited on a computation started by another caller.
	Coalesced
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return models.OutcomeHit
	case Coalesced:
		return "coalesced"
	default:
		return models.OutcomeMiss
	}
}

// ComputeFunc produces the value for a missing key.
type ComputeFunc func() (*models.Envelope, error)

type bucket struct {
	tier  tier.Tier
	lru   *expirable.LRU[string, *models.Envelope]
	group singleflight.Group

	// generation is bumped on every purge; a computation that started under
	// an older generation does not insert its result. mu orders inserts
	// against purges.
	mu         sync.Mutex
	generation atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
	sweeps atomic.Int64
}

// Store is a set of independent caches, one per tier.
type Store struct {
	buckets map[tier.Name]*bucket
	log     *zap.Logger
}

// New creates a Store with one cache per tier in table.
func New(table tier.Table, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		buckets: make(map[tier.Name]*bucket, len(table)),
		log:     log,
	}
	for name, tr := range table {
		ttl := tr.TTL
		if tr.Exempt {
			// zero disables TTL expiry; the capacity bound still applies
			ttl = 0
		}
		label := string(name)
		onEvict := func(string, *models.Envelope) {
			cacheEvictions.WithLabelValues(label).Inc()
		}
		s.buckets[name] = &bucket{
			tier: tr,
			lru:  expirable.NewLRU[string, *models.Envelope](tr.MaxEntries, onEvict, ttl),
		}
	}
	return s
}

// Tier returns the configuration of a tier owned by the store.
func (s *Store) Tier(name tier.Name) (tier.Tier, bool) {
	b, ok := s.buckets[name]
	if !ok {
		return tier.Tier{}, false
	}
	return b.tier, true
}

// ComputeIfAbsent returns the cached value for key in the given tier, or runs
// compute to produce it. At most one compute runs per (tier, key) at a time;
// concurrent callers wait for it and share its result. A failed compute
// leaves the cache untouched and its error is returned to every waiter.
func (s *Store) ComputeIfAbsent(name tier.Name, key string, compute ComputeFunc) (*models.Envelope, Outcome, error) {
	b, ok := s.buckets[name]
	if !ok {
		return nil, Miss, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	label := string(name)

	if v, ok := b.lru.Get(key); ok {
		b.hits.Add(1)
		cacheHits.WithLabelValues(label).Inc()
		return v, Hit, nil
	}
	b.misses.Add(1)
	cacheMisses.WithLabelValues(label).Inc()

	ran := false
	v, err, shared := b.group.Do(key, func() (any, error) {
		ran = true
		// a flight that finished between our Get and Do may have filled it
		if v, ok := b.lru.Get(key); ok {
			return v, nil
		}
		gen := b.generation.Load()
		env, err := compute()
		if err != nil {
			return nil, err
		}
		b.insert(gen, key, env)
		return env, nil
	})

	outcome := Miss
	if shared && !ran {
		outcome = Coalesced
		cacheCoalesced.WithLabelValues(label).Inc()
	}
	if err != nil {
		return nil, outcome, err
	}
	return v.(*models.Envelope), outcome, nil
}

// Evict clears a single tier.
func (s *Store) Evict(name tier.Name) error {
	b, ok := s.buckets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	s.purge(b)
	return nil
}

// SweepAll clears every tier except exempt ones and returns the number of
// entries removed. Tiers are cleared one at a time.
func (s *Store) SweepAll() int {
	removed := 0
	for _, name := range tier.Cached {
		b, ok := s.buckets[name]
		if !ok || b.tier.Exempt {
			continue
		}
		removed += s.purge(b)
	}
	cacheSweeps.Inc()
	s.log.Info("cache sweep completed", zap.Int("removed", removed))
	return removed
}

// insert adds env under key unless the bucket was purged since gen was read.
func (b *bucket) insert(gen uint64, key string, env *models.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation.Load() != gen {
		return false
	}
	b.lru.Add(key, env)
	cacheEntries.WithLabelValues(string(b.tier.Name)).Set(float64(b.lru.Len()))
	return true
}

func (s *Store) purge(b *bucket) int {
	b.mu.Lock()
	n := b.lru.Len()
	b.generation.Add(1)
	b.lru.Purge()
	b.mu.Unlock()
	b.sweeps.Add(1)
	cacheEntries.WithLabelValues(string(b.tier.Name)).Set(0)
	s.log.Debug("cache tier cleared", zap.String("tier", string(b.tier.Name)), zap.Int("entries", n))
	return n
}

// Len returns the number of live entries in a tier.
func (s *Store) Len(name tier.Name) int {
	b, ok := s.buckets[name]
	if !ok {
		return 0
	}
	return b.lru.Len()
}

// Stats reports every tier in ladder order.
func (s *Store) Stats() []models.TierStats {
	out := make([]models.TierStats, 0, len(s.buckets))
	for _, name := range tier.Cached {
		b, ok := s.buckets[name]
		if !ok {
			continue
		}
		out = append(out, models.TierStats{
			Name:     string(name),
			TTL:      b.tier.TTL,
			Capacity: b.tier.MaxEntries,
			Exempt:   b.tier.Exempt,
			Entries:  b.lru.Len(),
			Hits:     b.hits.Load(),
			Misses:   b.misses.Load(),
			Sweeps:   b.sweeps.Load(),
		})
	}
	return out
}
