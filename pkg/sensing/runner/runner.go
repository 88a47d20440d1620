// Package runner drives one processing run: ingestion of every user's uploads
// followed by the daily summaries.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/aggregator"
	"github.com/case-framework/case-sensing/pkg/sensing/batch"
	"github.com/case-framework/case-sensing/pkg/sensing/ingestor"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

type Task string

const (
	TaskIngestRawContainers Task = "ingest_raw_containers"
	TaskDecodeTelemetry     Task = "decode_telemetry"
	TaskGenerateSummaries   Task = "generate_summaries"
)

var AllTasks = []Task{TaskIngestRawContainers, TaskDecodeTelemetry, TaskGenerateSummaries}

func (t Task) IsValid() bool {
	for _, v := range AllTasks {
		if t == v {
			return true
		}
	}
	return false
}

const DefaultLookback = 2 * time.Hour

type UserStore interface {
	GetUserIDs(ctx context.Context) ([]string, error)
	GetActiveUserIDs(ctx context.Context) ([]string, error)
}

type Ingestor interface {
	IngestContainers(ctx context.Context, uid string, sink batch.Sink) (ingestor.Stats, error)
	DecodeTelemetry(ctx context.Context, uid string, sink batch.Sink) (ingestor.Stats, error)
}

type SummaryGenerator interface {
	Generate(ctx context.Context, uid string, w aggregator.Window) (types.DailySummary, error)
}

type Config struct {
	Tasks []Task
	// Workers is the number of users processed in parallel.
	Workers   int
	BatchSize int
	// IngestUser restricts ingestion to one participant.
	IngestUser string

	// BackfillDate selects backfill mode for that local day when set.
	BackfillDate time.Time
	BackfillUser string
	Lookback     time.Duration
	Location     *time.Location
}

// Report is the outcome of one run.
type Report struct {
	Users          int
	Ingest         ingestor.Stats
	Summaries      int
	SummaryWindows int
}

type Runner struct {
	cfg        Config
	users      UserStore
	store      batch.Store
	ingestor   Ingestor
	summaries  SummaryGenerator
	clock      quartz.Clock
	enabledSet map[Task]bool
}

func New(cfg Config, users UserStore, store batch.Store, ing Ingestor, summaries SummaryGenerator, clock quartz.Clock) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	enabled := map[Task]bool{}
	for _, t := range cfg.Tasks {
		enabled[t] = true
	}
	return &Runner{
		cfg:        cfg,
		users:      users,
		store:      store,
		ingestor:   ing,
		summaries:  summaries,
		clock:      clock,
		enabledSet: enabled,
	}
}

func (r *Runner) enabled(t Task) bool {
	return r.enabledSet[t]
}

// Run executes the enabled tasks. Errors of single users do not stop the run, they are
// collected and returned together.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report
	var result *multierror.Error

	if r.enabled(TaskIngestRawContainers) || r.enabled(TaskDecodeTelemetry) {
		if err := r.runIngestion(ctx, &report); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if r.enabled(TaskGenerateSummaries) && ctx.Err() == nil {
		if err := r.runSummaries(ctx, &report); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return report, result.ErrorOrNil()
}

func (r *Runner) ingestionUsers(ctx context.Context) ([]string, error) {
	if r.cfg.IngestUser != "" {
		return []string{r.cfg.IngestUser}, nil
	}
	return r.users.GetUserIDs(ctx)
}

func (r *Runner) runIngestion(ctx context.Context, report *Report) error {
	start := r.clock.Now()
	users, err := r.ingestionUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	report.Users = len(users)
	slog.Info("starting ingestion", slog.Int("users", len(users)), slog.Int("workers", r.cfg.Workers))

	// a single worker owns its buffers, parallel users share one writer goroutine per
	// collection and each get a session so failed writes reach every affected user
	var newSink func() batch.Sink
	var closeSink func(context.Context) error
	if r.cfg.Workers > 1 {
		router := batch.NewRouter(r.store, r.cfg.BatchSize)
		newSink = func() batch.Sink { return router.Session() }
		closeSink = router.Close
	} else {
		writer := batch.NewWriter(r.store, r.cfg.BatchSize)
		newSink = func() batch.Sink { return writer }
		closeSink = func(ctx context.Context) error { return writer.Flush(ctx) }
	}

	var mu sync.Mutex
	errs := r.forEachUser(ctx, users, func(ctx context.Context, uid string) error {
		sink := newSink()
		var userErr *multierror.Error
		if r.enabled(TaskIngestRawContainers) {
			stats, err := r.ingestor.IngestContainers(ctx, uid, sink)
			mu.Lock()
			report.Ingest.Add(stats)
			mu.Unlock()
			if err != nil {
				userErr = multierror.Append(userErr, err)
			}
		}
		if r.enabled(TaskDecodeTelemetry) {
			stats, err := r.ingestor.DecodeTelemetry(ctx, uid, sink)
			mu.Lock()
			report.Ingest.Add(stats)
			mu.Unlock()
			if err != nil {
				userErr = multierror.Append(userErr, err)
			}
		}
		return userErr.ErrorOrNil()
	})

	// flush with a fresh context so a cancelled run still writes what it buffered
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := closeSink(flushCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("final flush: %w", err))
	}

	slog.Info("ingestion finished",
		slog.Int("files", report.Ingest.Files),
		slog.Int("archived", report.Ingest.Archived),
		slog.Int("failed", report.Ingest.Failed),
		slog.Int("quarantined", report.Ingest.Quarantined),
		slog.Int("records", report.Ingest.Records),
		slog.String("duration", r.clock.Since(start).String()),
	)
	return errs.ErrorOrNil()
}

func (r *Runner) summaryTargets(ctx context.Context) ([]string, []aggregator.Window, error) {
	if !r.cfg.BackfillDate.IsZero() {
		windows := []aggregator.Window{aggregator.DayWindow(r.cfg.BackfillDate, r.cfg.Location)}
		if r.cfg.BackfillUser != "" {
			return []string{r.cfg.BackfillUser}, windows, nil
		}
		users, err := r.users.GetUserIDs(ctx)
		return users, windows, err
	}

	windows := aggregator.IncrementalWindows(r.clock.Now(), r.cfg.Lookback, r.cfg.Location)
	users, err := r.users.GetActiveUserIDs(ctx)
	return users, windows, err
}

func (r *Runner) runSummaries(ctx context.Context, report *Report) error {
	start := r.clock.Now()
	users, windows, err := r.summaryTargets(ctx)
	if err != nil {
		return fmt.Errorf("list users for summaries: %w", err)
	}
	report.SummaryWindows = len(windows)
	slog.Info("generating daily summaries", slog.Int("users", len(users)), slog.Int("days", len(windows)), slog.Bool("backfill", !r.cfg.BackfillDate.IsZero()))

	var mu sync.Mutex
	errs := r.forEachUser(ctx, users, func(ctx context.Context, uid string) error {
		var userErr *multierror.Error
		for _, w := range windows {
			if _, err := r.summaries.Generate(ctx, uid, w); err != nil {
				userErr = multierror.Append(userErr, fmt.Errorf("summary %s: %w", w.Day.Format(types.DateStrFormat), err))
				continue
			}
			mu.Lock()
			report.Summaries++
			mu.Unlock()
		}
		return userErr.ErrorOrNil()
	})

	slog.Info("daily summaries generated", slog.Int("count", report.Summaries), slog.String("duration", r.clock.Since(start).String()))
	return errs.ErrorOrNil()
}

// forEachUser calls fn for every user with at most Workers in flight. The errgroup
// only bounds concurrency; failures are collected per user and never cancel siblings.
func (r *Runner) forEachUser(ctx context.Context, users []string, fn func(ctx context.Context, uid string) error) *multierror.Error {
	var (
		mu     sync.Mutex
		result *multierror.Error
	)

	eg := errgroup.Group{}
	eg.SetLimit(r.cfg.Workers)
	for _, uid := range users {
		if ctx.Err() != nil {
			mu.Lock()
			result = multierror.Append(result, ctx.Err())
			mu.Unlock()
			break
		}
		eg.Go(func() error {
			if err := fn(ctx, uid); err != nil {
				slog.Error("user processing failed", slog.String("uid", uid), slog.String("error", err.Error()))
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("user %s: %w", uid, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return result
}
