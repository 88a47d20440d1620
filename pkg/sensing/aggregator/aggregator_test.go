package aggregator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/sensingtest"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func ts(offset time.Duration) float64 {
	return float64(day.Add(offset).Unix())
}

func fix(offset time.Duration, lat, lon float64) types.LocationFix {
	return types.LocationFix{Timestamp: ts(offset), EventID: 152, Latitude: lat, Longitude: lon}
}

func insertEvents(t *testing.T, s *sensingtest.Store, collection string, events ...types.Event) {
	t.Helper()
	docs := make([]any, len(events))
	for i, e := range events {
		e.UID = "u1"
		docs[i] = e.Document()
	}
	_, err := s.InsertMany(context.Background(), collection, docs)
	require.NoError(t, err)
}

func TestLocationStats(t *testing.T) {
	t.Run("fewer than two fixes", func(t *testing.T) {
		d, h := LocationStats([]types.LocationFix{fix(0, 1, 1)}, 15*time.Minute)
		assert.Zero(t, d)
		assert.Zero(t, h)
	})

	t.Run("gap exclusion", func(t *testing.T) {
		fixes := []types.LocationFix{
			fix(0, 0, 0),
			fix(10*time.Minute, 0, 0),
			fix(40*time.Minute, 0, 0),
		}
		_, h := LocationStats(fixes, 15*time.Minute)
		assert.InDelta(t, 10.0/60, h, 1e-9)
	})

	t.Run("gap equal to threshold is excluded", func(t *testing.T) {
		fixes := []types.LocationFix{fix(0, 0, 0), fix(15*time.Minute, 0, 0)}
		_, h := LocationStats(fixes, 15*time.Minute)
		assert.Zero(t, h)
	})

	t.Run("distance ignores ordering of input", func(t *testing.T) {
		fixes := []types.LocationFix{
			fix(2*time.Minute, 0, 0.02),
			fix(0, 0, 0),
			fix(1*time.Minute, 0, 0.01),
		}
		d, _ := LocationStats(fixes, 15*time.Minute)
		assert.InDelta(t, Haversine(0, 0, 0, 0.02), d, 1e-6)
	})

	t.Run("invalid endpoint skipped", func(t *testing.T) {
		fixes := []types.LocationFix{
			fix(0, 0, 0),
			fix(1*time.Minute, 95, 0),
			fix(2*time.Minute, 0, 0.01),
			fix(3*time.Minute, math.NaN(), 0),
		}
		d, h := LocationStats(fixes, 15*time.Minute)
		assert.Zero(t, d)
		assert.InDelta(t, 3.0/60, h, 1e-9)
	})
}

func TestEMAStats(t *testing.T) {
	statuses := []types.EMAStatusEvent{
		{EMAID: "e1", Status: "scheduled"},
		{EMAID: "e1", Status: "scheduled"},
		{EMAID: "e2", Status: "scheduled"},
		{EMAID: "e1", Status: "completed"},
		{EMAID: "e3", Status: "completed"},
		{EMAID: "e1", Status: "completed"},
		{EMAID: "e9", Status: "expired"},
	}
	responses := []types.EMAResponse{
		{EMAID: "e1", Questions: bson.M{"mood": 2}},
		{EMAID: "e1", Extra: bson.M{"depression_score": int32(7)}},
		{EMAID: "e1", Extra: bson.M{"depression_score": int32(9)}},
		{EMAID: "e3", Questions: bson.M{"depression_score": "4.5"}},
		{EMAID: "e2", Extra: bson.M{"depression_score": 1.0}},
	}

	scheduled, completed, scores := EMAStats(statuses, responses, []string{"depression_score"})
	assert.Equal(t, []string{"e1", "e2"}, scheduled)
	assert.Equal(t, []string{"e1", "e3"}, completed)
	assert.Equal(t, map[string]float64{"e1": 7, "e3": 4.5}, scores)
}

func TestAppUsageStats(t *testing.T) {
	total, info := AppUsageStats([]types.AppUsageEvent{
		{AppName: "mail", Status: "open"},
		{AppName: "mail", Status: "close"},
		{AppName: "mail", Status: "open"},
		{AppName: "maps", Status: "background"},
	})
	assert.Equal(t, 4, total)
	assert.Equal(t, map[string]types.AppEventCounts{
		"mail": {Open: 2, Close: 1},
		"maps": {Open: 0, Close: 1},
	}, info)
}

func TestGenerateDailySummary(t *testing.T) {
	store := sensingtest.NewStore(nil)
	clock := quartz.NewMock(t)
	generatedAt := day.Add(30 * time.Hour)
	clock.Set(generatedAt)

	insertEvents(t, store, "ios_location",
		types.Event{Timestamp: ts(1 * time.Hour), EventID: 152, Fields: bson.D{{Key: "latitude", Value: 47.0}, {Key: "longitude", Value: 8.0}}},
		types.Event{Timestamp: ts(1*time.Hour + 5*time.Minute), EventID: 152, Fields: bson.D{{Key: "latitude", Value: 47.01}, {Key: "longitude", Value: 8.0}}},
		types.Event{Timestamp: ts(1*time.Hour + 2*time.Minute), EventID: 151, Fields: bson.D{{Key: "latitude", Value: 50.0}, {Key: "longitude", Value: 8.0}}},
		types.Event{Timestamp: ts(25 * time.Hour), EventID: 152, Fields: bson.D{{Key: "latitude", Value: 0.0}, {Key: "longitude", Value: 0.0}}},
	)

	var hr []types.Event
	for i := 0; i < 360; i++ {
		hr = append(hr, types.Event{Timestamp: ts(time.Duration(i) * 10 * time.Second), EventID: 442, Fields: bson.D{{Key: "heart_rate", Value: 60.0}}})
	}
	hr = append(hr, types.Event{Timestamp: ts(2 * time.Hour), EventID: 442, Fields: bson.D{{Key: "heart_rate", Value: 0.0}}})
	insertEvents(t, store, "garmin_hr", hr...)

	var stress []types.Event
	for i := 0; i < 60; i++ {
		stress = append(stress, types.Event{Timestamp: ts(time.Duration(i) * time.Minute), EventID: 443, Fields: bson.D{{Key: "stress", Value: 20.0}}})
	}
	insertEvents(t, store, "garmin_stress", stress...)

	insertEvents(t, store, "ema_status_events",
		types.Event{Timestamp: ts(3 * time.Hour), EventID: 503, Fields: bson.D{{Key: "ema_id", Value: "e1"}, {Key: "status", Value: "scheduled"}}},
		types.Event{Timestamp: ts(4 * time.Hour), EventID: 503, Fields: bson.D{{Key: "ema_id", Value: "e1"}, {Key: "status", Value: "completed"}}},
	)
	insertEvents(t, store, "ema_response",
		types.Event{Timestamp: ts(4 * time.Hour), EventID: 502, Fields: bson.D{{Key: "ema_id", Value: "e1"}, {Key: "questions", Value: bson.M{"depression_score": int64(12)}}}},
	)
	insertEvents(t, store, "app_usage_logs",
		types.Event{Timestamp: ts(5 * time.Hour), EventID: 501, Fields: bson.D{{Key: "appName", Value: "mail"}, {Key: "status", Value: "open"}}},
		types.Event{Timestamp: ts(5*time.Hour + time.Second), EventID: 501, Fields: bson.D{{Key: "appName", Value: "mail"}, {Key: "status", Value: "close"}}},
	)

	agg := New(store, Config{}, clock)
	summary, err := agg.Generate(context.Background(), "u1", DayWindow(day, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "2024-03-10", summary.DateStr)
	assert.Equal(t, float64(day.Unix()), summary.Date)
	assert.InDelta(t, Haversine(47.0, 8.0, 47.01, 8.0), summary.Distance, 1e-6)
	assert.InDelta(t, 5.0/60, summary.LocationDuration, 1e-9)
	assert.InDelta(t, 1.0, summary.GarminWearDuration, 1e-9)
	assert.InDelta(t, 60.0/360, summary.GarminOnDuration, 1e-9)
	assert.Equal(t, []string{"e1"}, summary.ScheduledEMAs)
	assert.Equal(t, []string{"e1"}, summary.CompletedEMAs)
	assert.Equal(t, map[string]float64{"e1": 12}, summary.DepressionScores)
	assert.Equal(t, 2, summary.TotalAppEvents)
	assert.Equal(t, types.AppEventCounts{Open: 1, Close: 1}, summary.AppEventsInfo["mail"])
	assert.Equal(t, generatedAt, summary.GeneratedAt)

	stored, ok := store.Summary("u1", day)
	require.True(t, ok)
	assert.Equal(t, summary, stored)
}

func TestSummaryIsReplacedNotMerged(t *testing.T) {
	store := sensingtest.NewStore(nil)
	agg := New(store, DefaultConfig(), quartz.NewMock(t))
	ctx := context.Background()
	w := DayWindow(day, time.UTC)

	insertEvents(t, store, "app_usage_logs",
		types.Event{Timestamp: ts(time.Hour), EventID: 501, Fields: bson.D{{Key: "appName", Value: "mail"}, {Key: "status", Value: "open"}}},
	)
	first, err := agg.Generate(ctx, "u1", w)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalAppEvents)

	insertEvents(t, store, "app_usage_logs",
		types.Event{Timestamp: ts(2 * time.Hour), EventID: 501, Fields: bson.D{{Key: "appName", Value: "chat"}, {Key: "status", Value: "open"}}},
	)
	second, err := agg.Generate(ctx, "u1", w)
	require.NoError(t, err)

	stored, ok := store.Summary("u1", day)
	require.True(t, ok)
	assert.Equal(t, second, stored)
	assert.Equal(t, 2, stored.TotalAppEvents)
	assert.Len(t, stored.AppEventsInfo, 2)
	assert.Equal(t, 1, store.SummaryCount())
}

func TestGenerateStoreFailure(t *testing.T) {
	store := sensingtest.NewStore(nil)
	store.FailQueries = errors.New("server selection timeout")
	agg := New(store, DefaultConfig(), quartz.NewMock(t))

	_, err := agg.Generate(context.Background(), "u1", DayWindow(day, time.UTC))
	assert.ErrorIs(t, err, store.FailQueries)
	assert.Equal(t, 0, store.SummaryCount())
}

func TestNewAppliesDefaults(t *testing.T) {
	agg := New(nil, Config{}, nil)
	assert.Equal(t, DefaultLocationGapThreshold, agg.cfg.LocationGapThreshold)
	assert.Equal(t, float64(DefaultWearSamplesPerHour), agg.cfg.WearSamplesPerHour)
	assert.Equal(t, []int{152}, agg.cfg.LocationEventCodes)
	assert.Equal(t, []string{"depression_score"}, agg.cfg.EMAScoreKeys)
}
