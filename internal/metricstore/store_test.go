package metricstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/databasetest"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func TestAggregate(t *testing.T) {
	values := []float64{4, 1, 7}
	tests := []struct {
		agg  models.Aggregation
		want float64
	}{
		{models.AggregationAvg, 4},
		{models.AggregationSum, 12},
		{models.AggregationMax, 7},
		{models.AggregationMin, 1},
		{models.AggregationCount, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			got, err := Aggregate(values, tt.agg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Aggregate(nil, models.AggregationAvg)
	assert.ErrorIs(t, err, ErrNoData)

	count, err := Aggregate(nil, models.AggregationCount)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStore_WindowIsHalfOpen(t *testing.T) {
	store := NewMemoryStore()
	store.Add("used", "user:1", 10, base)
	store.Add("used", "user:1", 20, base.Add(time.Minute))
	store.Add("used", "user:2", 90, base.Add(time.Minute))
	store.Add("other", "user:1", 500, base.Add(time.Minute))

	ctx := context.Background()
	got, err := store.Query(ctx, "used", "user:1", base, base.Add(time.Minute), models.AggregationSum)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	got, err = store.Query(ctx, "used", "", base, base.Add(time.Minute), models.AggregationMax)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got)

	store.SetError(errors.New("store down"))
	_, err = store.Query(ctx, "used", "", base, base.Add(time.Minute), models.AggregationMax)
	assert.EqualError(t, err, "store down")
}

func TestSQLStore_QueryOnSharedSQLite(t *testing.T) {
	db := databasetest.NewStore(t).DB()
	store, err := Open(config.MetricStoreConfig{Driver: "sqlite3"}, db)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	samples := []models.MetricSample{
		{MetricType: "used", Scope: "user:1", Value: 100, RecordedAt: base},
		{MetricType: "used", Scope: "user:1", Value: 150, RecordedAt: base.Add(time.Minute)},
		{MetricType: "used", Scope: "user:1", Value: 200, RecordedAt: base.Add(2 * time.Minute)},
		{MetricType: "used", Scope: "user:2", Value: 900, RecordedAt: base.Add(2 * time.Minute)},
	}
	for _, s := range samples {
		require.NoError(t, store.Record(ctx, s))
	}

	avg, err := store.Query(ctx, "used", "user:1", base, base.Add(2*time.Minute), models.AggregationAvg)
	require.NoError(t, err)
	assert.Equal(t, 175.0, avg)

	count, err := store.Query(ctx, "used", "", base.Add(-time.Minute), base.Add(2*time.Minute), models.AggregationCount)
	require.NoError(t, err)
	assert.Equal(t, 4.0, count)

	_, err = store.Query(ctx, "used", "user:1", base.Add(time.Hour), base.Add(2*time.Hour), models.AggregationMax)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestNewSQLStore_RejectsUnsafeIdentifiers(t *testing.T) {
	db := databasetest.NewStore(t).DB()
	_, err := NewSQLStore(db, config.MetricStoreConfig{Table: "metrics; DROP TABLE alert_rules"})
	assert.Error(t, err)
}
