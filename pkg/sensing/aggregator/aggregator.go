// Package aggregator computes the per user daily behaviour summaries.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/coder/quartz"
)

const (
	DefaultLocationGapThreshold = 15 * time.Minute
	DefaultWearSamplesPerHour   = 6 * 60
)

var (
	DefaultLocationEventCodes = []int{152}
	DefaultEMAScoreKeys       = []string{"depression_score"}
)

// Store is the read and write access the aggregator needs. Time bounds are
// float seconds, start inclusive and end exclusive.
type Store interface {
	FindLocationFixes(ctx context.Context, uid string, start, end float64, eventCodes []int) ([]types.LocationFix, error)
	CountWornHeartRateSamples(ctx context.Context, uid string, start, end float64) (int64, error)
	CountStressSamples(ctx context.Context, uid string, start, end float64) (int64, error)
	FindEMAStatusEvents(ctx context.Context, uid string, start, end float64) ([]types.EMAStatusEvent, error)
	FindEMAResponses(ctx context.Context, uid string, start, end float64) ([]types.EMAResponse, error)
	FindAppUsageEvents(ctx context.Context, uid string, start, end float64) ([]types.AppUsageEvent, error)
	ReplaceDailySummary(ctx context.Context, summary types.DailySummary) error
}

type Config struct {
	LocationGapThreshold time.Duration
	WearSamplesPerHour   float64
	LocationEventCodes   []int
	EMAScoreKeys         []string
}

func DefaultConfig() Config {
	return Config{
		LocationGapThreshold: DefaultLocationGapThreshold,
		WearSamplesPerHour:   DefaultWearSamplesPerHour,
		LocationEventCodes:   DefaultLocationEventCodes,
		EMAScoreKeys:         DefaultEMAScoreKeys,
	}
}

type Aggregator struct {
	store Store
	cfg   Config
	clock quartz.Clock
}

func New(store Store, cfg Config, clock quartz.Clock) *Aggregator {
	def := DefaultConfig()
	if cfg.LocationGapThreshold <= 0 {
		cfg.LocationGapThreshold = def.LocationGapThreshold
	}
	if cfg.WearSamplesPerHour <= 0 {
		cfg.WearSamplesPerHour = def.WearSamplesPerHour
	}
	if len(cfg.LocationEventCodes) == 0 {
		cfg.LocationEventCodes = def.LocationEventCodes
	}
	if len(cfg.EMAScoreKeys) == 0 {
		cfg.EMAScoreKeys = def.EMAScoreKeys
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Aggregator{store: store, cfg: cfg, clock: clock}
}

// Generate computes the summary of uid for w and replaces the stored one.
func (a *Aggregator) Generate(ctx context.Context, uid string, w Window) (types.DailySummary, error) {
	summary, err := a.Summarize(ctx, uid, w)
	if err != nil {
		return summary, err
	}
	if err := a.store.ReplaceDailySummary(ctx, summary); err != nil {
		return summary, fmt.Errorf("store summary: %w", err)
	}
	slog.Debug("daily summary generated", slog.String("uid", uid), slog.String("date", summary.DateStr))
	return summary, nil
}

// Summarize computes the summary without storing it.
func (a *Aggregator) Summarize(ctx context.Context, uid string, w Window) (types.DailySummary, error) {
	start, end := unixSeconds(w.Start), unixSeconds(w.End)
	summary := types.DailySummary{
		UID:              uid,
		Date:             unixSeconds(w.Day),
		DateStr:          w.Day.Format(types.DateStrFormat),
		ScheduledEMAs:    []string{},
		CompletedEMAs:    []string{},
		DepressionScores: map[string]float64{},
		AppEventsInfo:    map[string]types.AppEventCounts{},
	}

	fixes, err := a.store.FindLocationFixes(ctx, uid, start, end, a.cfg.LocationEventCodes)
	if err != nil {
		return summary, fmt.Errorf("location: %w", err)
	}
	summary.Distance, summary.LocationDuration = LocationStats(fixes, a.cfg.LocationGapThreshold)

	worn, err := a.store.CountWornHeartRateSamples(ctx, uid, start, end)
	if err != nil {
		return summary, fmt.Errorf("heart rate: %w", err)
	}
	summary.GarminWearDuration = float64(worn) / a.cfg.WearSamplesPerHour

	on, err := a.store.CountStressSamples(ctx, uid, start, end)
	if err != nil {
		return summary, fmt.Errorf("stress: %w", err)
	}
	summary.GarminOnDuration = float64(on) / a.cfg.WearSamplesPerHour

	statuses, err := a.store.FindEMAStatusEvents(ctx, uid, start, end)
	if err != nil {
		return summary, fmt.Errorf("ema status: %w", err)
	}
	responses, err := a.store.FindEMAResponses(ctx, uid, start, end)
	if err != nil {
		return summary, fmt.Errorf("ema responses: %w", err)
	}
	summary.ScheduledEMAs, summary.CompletedEMAs, summary.DepressionScores = EMAStats(statuses, responses, a.cfg.EMAScoreKeys)

	appEvents, err := a.store.FindAppUsageEvents(ctx, uid, start, end)
	if err != nil {
		return summary, fmt.Errorf("app usage: %w", err)
	}
	summary.TotalAppEvents, summary.AppEventsInfo = AppUsageStats(appEvents)

	summary.GeneratedAt = a.clock.Now().UTC()
	return summary, nil
}

// LocationStats returns the travelled distance in meters and the tracked duration in hours.
// Segments with an invalid endpoint add no distance. Only gaps shorter than gapThreshold add duration.
func LocationStats(fixes []types.LocationFix, gapThreshold time.Duration) (float64, float64) {
	if len(fixes) < 2 {
		return 0, 0
	}
	sorted := append([]types.LocationFix(nil), fixes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	gap := gapThreshold.Seconds()
	distance, seconds := 0.0, 0.0
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if ValidCoordinate(prev.Latitude, prev.Longitude) && ValidCoordinate(cur.Latitude, cur.Longitude) {
			distance += Haversine(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
		}
		if delta := cur.Timestamp - prev.Timestamp; delta < gap {
			seconds += delta
		}
	}
	return distance, seconds / 3600
}

// EMAStats returns distinct scheduled and completed EMA ids in first seen order and the
// score of each completed EMA taken from its first response carrying one of scoreKeys.
func EMAStats(statuses []types.EMAStatusEvent, responses []types.EMAResponse, scoreKeys []string) ([]string, []string, map[string]float64) {
	scheduled, completed := []string{}, []string{}
	seenScheduled, seenCompleted := map[string]bool{}, map[string]bool{}
	for _, s := range statuses {
		switch s.Status {
		case types.EMAStatusScheduled:
			if !seenScheduled[s.EMAID] {
				seenScheduled[s.EMAID] = true
				scheduled = append(scheduled, s.EMAID)
			}
		case types.EMAStatusCompleted:
			if !seenCompleted[s.EMAID] {
				seenCompleted[s.EMAID] = true
				completed = append(completed, s.EMAID)
			}
		}
	}

	scores := map[string]float64{}
	for _, id := range completed {
		for _, r := range responses {
			if r.EMAID != id {
				continue
			}
			if score, ok := responseScore(r, scoreKeys); ok {
				scores[id] = score
				break
			}
		}
	}
	return scheduled, completed, scores
}

func responseScore(r types.EMAResponse, keys []string) (float64, bool) {
	for _, key := range keys {
		if v, ok := r.Extra[key]; ok {
			if f, ok := numeric(v); ok {
				return f, true
			}
		}
		if v, ok := r.Questions[key]; ok {
			if f, ok := numeric(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// AppUsageStats counts all app events and the open/close events per app.
func AppUsageStats(events []types.AppUsageEvent) (int, map[string]types.AppEventCounts) {
	info := map[string]types.AppEventCounts{}
	for _, e := range events {
		c := info[e.AppName]
		if e.Status == types.AppStatusOpen {
			c.Open++
		} else {
			c.Close++
		}
		info[e.AppName] = c
	}
	return len(events), info
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
