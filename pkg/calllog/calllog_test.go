package calllog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trproxy/trproxy/pkg/models"
)

func tempCfg(t *testing.T) models.CallLogConfig {
	t.Helper()
	return models.CallLogConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "calls_test.db"),
		RetentionDays: 30,
	}
}

func mustNew(t *testing.T, cfg models.CallLogConfig) *Log {
	t.Helper()
	l, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleRecord() models.CallRecord {
	return models.CallRecord{
		RequestID:  "req-001",
		Code:       "IVCA0060",
		Alias:      "index_info",
		Tier:       "60-second",
		Outcome:    models.OutcomeMiss,
		HasContKey: true,
		StatusCode: 200,
		LatencyMs:  42,
		CreatedAt:  time.Now(),
	}
}

func TestRecordAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, sampleRecord()))

	records, err := l.Query(ctx, models.CallQueryOpts{Code: "IVCA0060"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "req-001", got.RequestID)
	assert.Equal(t, "index_info", got.Alias)
	assert.Equal(t, "60-second", got.Tier)
	assert.True(t, got.HasContKey)
	assert.Equal(t, int64(42), got.LatencyMs)
	assert.Empty(t, got.Error)
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	a := sampleRecord()
	b := sampleRecord()
	b.RequestID = "req-002"
	b.Outcome = models.OutcomeHit
	c := sampleRecord()
	c.RequestID = "req-003"
	c.Code = "KBI50130"
	c.Tier = "no-eviction"
	for _, r := range []models.CallRecord{a, b, c} {
		require.NoError(t, l.Record(ctx, r))
	}

	records, err := l.Query(ctx, models.CallQueryOpts{Outcome: models.OutcomeHit})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "req-002", records[0].RequestID)

	records, err = l.Query(ctx, models.CallQueryOpts{Tier: "no-eviction"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "KBI50130", records[0].Code)

	records, err = l.Query(ctx, models.CallQueryOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = l.Query(ctx, models.CallQueryOpts{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordDefaultsCreatedAt(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	rec := sampleRecord()
	rec.CreatedAt = time.Time{}
	rec.Error = "backend failure: timeout"
	rec.StatusCode = 500
	require.NoError(t, l.Record(ctx, rec))

	records, err := l.Query(ctx, models.CallQueryOpts{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].CreatedAt.IsZero())
	assert.Equal(t, "backend failure: timeout", records[0].Error)
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0
	l := mustNew(t, cfg)
	ctx := context.Background()

	rec := sampleRecord()
	rec.CreatedAt = time.Now().AddDate(0, 0, -1)
	require.NoError(t, l.Record(ctx, rec))

	deleted, err := l.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, sampleRecord()))
	hit := sampleRecord()
	hit.RequestID = "req-002"
	hit.Outcome = models.OutcomeHit
	require.NoError(t, l.Record(ctx, hit))
	failed := sampleRecord()
	failed.RequestID = "req-003"
	failed.StatusCode = 500
	require.NoError(t, l.Record(ctx, failed))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	assert.Equal(t, "IVCA0060", stats[0].Code)
	assert.Equal(t, 3, stats[0].Calls)
	assert.Equal(t, 1, stats[0].Hits)
	assert.Equal(t, 1, stats[0].Errors)
}

func TestNilLogSafe(t *testing.T) {
	var l *Log
	assert.NoError(t, l.Record(context.Background(), sampleRecord()))
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.CallLogConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "calls.db"),
	}
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
