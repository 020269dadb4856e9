package predictor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/model"
)

func sampleOutcomes() []model.SubmissionRecord {
	return []model.SubmissionRecord{
		outcome("Apex Capital", model.SubmissionFunded, model.DealCriteria{Industry: "Trucking", State: "ny", MonthlyRevenue: model.Float(100), FICO: model.Float(700)}),
		outcome("apex capital", model.SubmissionOffer, model.DealCriteria{Industry: "trucking", State: "NY", MonthlyRevenue: model.Float(200)}),
		outcome("APEX CAPITAL", model.SubmissionDeclined, model.DealCriteria{Industry: "retail", MonthlyRevenue: model.Float(50), FICO: model.Float(550)}),
		outcome("Apex Capital", model.SubmissionSent, model.DealCriteria{Industry: "retail"}),
		outcome("Apex Capital", model.SubmissionFailed, model.DealCriteria{}),
		outcome("Beacon", model.SubmissionDeclined, model.DealCriteria{}),
		outcome("", model.SubmissionFunded, model.DealCriteria{}),
	}
}

func TestBuildProfiles_Aggregates(t *testing.T) {
	profiles := BuildProfiles(sampleOutcomes())
	require.Len(t, profiles, 2)

	apex := profiles["apex capital"]
	require.NotNil(t, apex)
	assert.Equal(t, 3, apex.Total)
	assert.Equal(t, 2, apex.Approved)
	assert.Equal(t, 1, apex.Declined)

	assert.Equal(t, Bucket{Total: 2, Approved: 2}, apex.Industries["trucking"])
	assert.Equal(t, Bucket{Total: 1, Approved: 0}, apex.Industries["retail"])
	assert.Equal(t, Bucket{Total: 2, Approved: 2}, apex.States["NY"])
	assert.Equal(t, Bucket{Total: 1, Approved: 0}, apex.States[unknownBucket])

	require.NotNil(t, apex.ApprovedMean.Revenue)
	assert.InDelta(t, 150.0, *apex.ApprovedMean.Revenue, 1e-9)
	require.NotNil(t, apex.ApprovedMean.FICO)
	assert.InDelta(t, 700.0, *apex.ApprovedMean.FICO, 1e-9)
	assert.Nil(t, apex.ApprovedMean.DailyWithhold)
	assert.InDelta(t, 50.0, *apex.DeclinedMean.Revenue, 1e-9)
	assert.Nil(t, apex.DeclinedMean.TimeInBusiness)

	beacon := profiles["beacon"]
	require.NotNil(t, beacon)
	assert.Equal(t, 1, beacon.Declined)
	assert.Nil(t, beacon.ApprovedMean.Revenue)
	assert.Nil(t, beacon.DeclinedMean.Revenue)
	assert.Equal(t, Bucket{Total: 1}, beacon.Industries[unknownBucket])
}

func TestBuildProfiles_Deterministic(t *testing.T) {
	first := BuildProfiles(sampleOutcomes())
	second := BuildProfiles(sampleOutcomes())
	assert.Equal(t, first, second)
}

func TestBuildProfiles_Empty(t *testing.T) {
	assert.Empty(t, BuildProfiles(nil))
}

func TestProfileCache_InitialStateEmpty(t *testing.T) {
	c := NewProfileCache(&mockOutcomes{}, 0)
	assert.True(t, c.BuiltAt().IsZero())
	assert.Equal(t, DefaultProfileTTL, c.ttl)
}

func TestProfileCache_GetCachesWithinTTL(t *testing.T) {
	src := &mockOutcomes{records: sampleOutcomes()}
	c := NewProfileCache(src, time.Hour)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	p1, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	now = now.Add(59 * time.Minute)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount())

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
}

func TestProfileCache_EmptyResultRebuildsEveryGet(t *testing.T) {
	src := &mockOutcomes{}
	c := NewProfileCache(src, time.Hour)

	for i := 0; i < 3; i++ {
		p, err := c.Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, p)
	}
	assert.Equal(t, 3, src.callCount())
}

func TestProfileCache_RefreshForcesRebuild(t *testing.T) {
	src := &mockOutcomes{records: sampleOutcomes()}
	c := NewProfileCache(src, time.Hour)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.records = append(src.records, outcome("Cobalt", model.SubmissionOffer, model.DealCriteria{}))
	src.mu.Unlock()

	p, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, p, 3)
	assert.Equal(t, 2, src.callCount())
	assert.False(t, c.BuiltAt().IsZero())
}

func TestProfileCache_ErrorKeepsPreviousSnapshot(t *testing.T) {
	src := &mockOutcomes{records: sampleOutcomes()}
	c := NewProfileCache(src, time.Hour)
	c.retry.MaxAttempts = 1

	before, err := c.Get(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	_, err = c.Refresh(context.Background())
	require.Error(t, err)

	after, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProfileCache_ConcurrentReaders(t *testing.T) {
	src := &mockOutcomes{records: sampleOutcomes()}
	c := NewProfileCache(src, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Get(context.Background())
			assert.NoError(t, err)
			assert.Len(t, p, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.callCount())
}
