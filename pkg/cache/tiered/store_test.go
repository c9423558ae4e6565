package tiered

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/tier"
)

func newTestStore(t *testing.T, overrides map[tier.Name]tier.Override) *Store {
	t.Helper()
	table, err := tier.DefaultTable().WithOverrides(overrides)
	require.NoError(t, err)
	return New(table, nil)
}

func envelope(v string) *models.Envelope {
	return &models.Envelope{
		DataHeader: models.SuccessHeader(),
		DataBody:   models.Record{"value": v},
	}
}

// counter returns a compute func that counts its invocations.
func counter(calls *atomic.Int64, v string) ComputeFunc {
	return func() (*models.Envelope, error) {
		calls.Add(1)
		return envelope(v), nil
	}
}

func TestComputeIfAbsentCaches(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	v, outcome, err := s.ComputeIfAbsent(tier.OneHour, "k1", counter(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, Miss, outcome)
	assert.Equal(t, "a", v.DataBody["value"])

	v, outcome, err = s.ComputeIfAbsent(tier.OneHour, "k1", counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, Hit, outcome)
	assert.Equal(t, "a", v.DataBody["value"])
	assert.Equal(t, int64(1), calls.Load())
}

func TestTiersAreIndependent(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	_, _, err := s.ComputeIfAbsent(tier.OneHour, "k1", counter(&calls, "a"))
	require.NoError(t, err)
	_, outcome, err := s.ComputeIfAbsent(tier.TenMinute, "k1", counter(&calls, "b"))
	require.NoError(t, err)

	assert.Equal(t, Miss, outcome)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFailedComputeIsNotCached(t *testing.T) {
	s := newTestStore(t, nil)
	errBackend := errors.New("backend down")
	var calls atomic.Int64

	failing := func() (*models.Envelope, error) {
		calls.Add(1)
		return nil, errBackend
	}

	_, _, err := s.ComputeIfAbsent(tier.SixtySecond, "k1", failing)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, s.Len(tier.SixtySecond))

	_, _, err = s.ComputeIfAbsent(tier.SixtySecond, "k1", failing)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, int64(2), calls.Load())

	v, outcome, err := s.ComputeIfAbsent(tier.SixtySecond, "k1", counter(&calls, "ok"))
	require.NoError(t, err)
	assert.Equal(t, Miss, outcome)
	assert.Equal(t, "ok", v.DataBody["value"])
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64
	release := make(chan struct{})

	compute := func() (*models.Envelope, error) {
		calls.Add(1)
		<-release
		return envelope("shared"), nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]*models.Envelope, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.ComputeIfAbsent(tier.TenMinute, "fresh-key", compute)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.ComputeIfAbsent(tier.OneHour, fmt.Sprintf("k%d", i), counter(&calls, "v"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(20), calls.Load())
	assert.Equal(t, 20, s.Len(tier.OneHour))
}

func TestSweepAllKeepsExemptTier(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	for _, name := range tier.Cached {
		for i := 0; i < 3; i++ {
			_, _, err := s.ComputeIfAbsent(name, fmt.Sprintf("k%d", i), counter(&calls, "v"))
			require.NoError(t, err)
		}
	}

	removed := s.SweepAll()
	assert.Equal(t, 3*(len(tier.Cached)-1), removed)

	for _, name := range tier.Cached {
		if name == tier.NoEviction {
			assert.Equal(t, 3, s.Len(name), "exempt tier must survive the sweep")
			continue
		}
		assert.Equal(t, 0, s.Len(name), "tier %s not cleared", name)
	}

	// idempotent
	assert.Equal(t, 0, s.SweepAll())
	assert.Equal(t, 3, s.Len(tier.NoEviction))
}

func TestEvictSingleTier(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	_, _, _ = s.ComputeIfAbsent(tier.OneHour, "k", counter(&calls, "v"))
	_, _, _ = s.ComputeIfAbsent(tier.EightHour, "k", counter(&calls, "v"))
	_, _, _ = s.ComputeIfAbsent(tier.NoEviction, "k", counter(&calls, "v"))

	require.NoError(t, s.Evict(tier.OneHour))
	assert.Equal(t, 0, s.Len(tier.OneHour))
	assert.Equal(t, 1, s.Len(tier.EightHour))

	// an explicit evict clears the exempt tier too
	require.NoError(t, s.Evict(tier.NoEviction))
	assert.Equal(t, 0, s.Len(tier.NoEviction))

	assert.ErrorIs(t, s.Evict(tier.Uncached), ErrUnknownTier)
}

func TestUnknownTier(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	_, _, err := s.ComputeIfAbsent(tier.Uncached, "k", counter(&calls, "v"))
	assert.ErrorIs(t, err, ErrUnknownTier)
	assert.Equal(t, int64(0), calls.Load())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t, map[tier.Name]tier.Override{tier.TwoSecond: {TTL: time.Hour, Capacity: 2}})
	var calls atomic.Int64

	_, _, _ = s.ComputeIfAbsent(tier.TwoSecond, "a", counter(&calls, "a"))
	_, _, _ = s.ComputeIfAbsent(tier.TwoSecond, "b", counter(&calls, "b"))
	// touch a so b becomes the eviction candidate
	_, outcome, _ := s.ComputeIfAbsent(tier.TwoSecond, "a", counter(&calls, "a"))
	require.Equal(t, Hit, outcome)
	_, _, _ = s.ComputeIfAbsent(tier.TwoSecond, "c", counter(&calls, "c"))

	assert.Equal(t, 2, s.Len(tier.TwoSecond))

	_, outcome, _ = s.ComputeIfAbsent(tier.TwoSecond, "a", counter(&calls, "a"))
	assert.Equal(t, Hit, outcome)
	_, outcome, _ = s.ComputeIfAbsent(tier.TwoSecond, "b", counter(&calls, "b"))
	assert.Equal(t, Miss, outcome)
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	s := newTestStore(t, map[tier.Name]tier.Override{tier.TwoSecond: {TTL: 20 * time.Millisecond}})
	var calls atomic.Int64

	_, _, err := s.ComputeIfAbsent(tier.TwoSecond, "k", counter(&calls, "v"))
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, outcome, err := s.ComputeIfAbsent(tier.TwoSecond, "k", counter(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, Miss, outcome)
	assert.Equal(t, int64(2), calls.Load())
}

func TestPurgeDuringComputeDropsResult(t *testing.T) {
	s := newTestStore(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := s.ComputeIfAbsent(tier.OneHour, "k", func() (*models.Envelope, error) {
			close(started)
			<-release
			return envelope("stale"), nil
		})
		assert.NoError(t, err)
	}()

	<-started
	s.SweepAll()
	close(release)
	<-done

	assert.Equal(t, 0, s.Len(tier.OneHour))
}

func TestInsertAfterPurgeIsDropped(t *testing.T) {
	s := newTestStore(t, nil)
	b := s.buckets[tier.OneHour]

	gen := b.generation.Load()
	require.NoError(t, s.Evict(tier.OneHour))

	assert.False(t, b.insert(gen, "k", envelope("stale")))
	assert.Equal(t, 0, s.Len(tier.OneHour))

	assert.True(t, b.insert(b.generation.Load(), "k", envelope("fresh")))
	assert.Equal(t, 1, s.Len(tier.OneHour))
}

func TestStats(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int64

	_, _, _ = s.ComputeIfAbsent(tier.OneHour, "k", counter(&calls, "v"))
	_, _, _ = s.ComputeIfAbsent(tier.OneHour, "k", counter(&calls, "v"))

	stats := s.Stats()
	require.Len(t, stats, len(tier.Cached))
	assert.Equal(t, string(tier.NoEviction), stats[0].Name)
	assert.True(t, stats[0].Exempt)

	var oneHour models.TierStats
	for _, st := range stats {
		if st.Name == string(tier.OneHour) {
			oneHour = st
		}
	}
	assert.Equal(t, 1, oneHour.Entries)
	assert.Equal(t, int64(1), oneHour.Hits)
	assert.Equal(t, int64(1), oneHour.Misses)
	assert.Equal(t, time.Hour, oneHour.TTL)
}
