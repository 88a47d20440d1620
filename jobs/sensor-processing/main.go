package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/aggregator"
	"github.com/case-framework/case-sensing/pkg/sensing/classifier"
	"github.com/case-framework/case-sensing/pkg/sensing/decoder"
	"github.com/case-framework/case-sensing/pkg/sensing/filestore"
	"github.com/case-framework/case-sensing/pkg/sensing/ingestor"
	"github.com/case-framework/case-sensing/pkg/sensing/runner"
	"github.com/case-framework/case-sensing/pkg/utils"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer sensingDBService.Disconnect()

	r := newRunner()
	baseLogger := slog.Default()

	if conf.Schedule == "" {
		if !runOnce(ctx, r, baseLogger) {
			sensingDBService.Disconnect()
			os.Exit(1)
		}
		return
	}

	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(conf.Schedule, func() { runOnce(ctx, r, baseLogger) }); err != nil {
		slog.Error("Error scheduling sensor processing", slog.String("schedule", conf.Schedule), slog.String("error", err.Error()))
		return
	}
	slog.Info("Sensor processing scheduled", slog.String("schedule", conf.Schedule))
	c.Start()

	<-ctx.Done()
	slog.Info("Shutting down, waiting for the running job")
	<-c.Stop().Done()
}

func newRunner() *runner.Runner {
	clock := quartz.NewReal()
	fs := afero.NewOsFs()

	files := filestore.NewManager(fs, conf.Paths.Upload, conf.Paths.Processed, conf.Paths.Exceptions)

	var dec *decoder.Decoder
	if len(decoderConfig.Command) > 0 {
		dec = decoder.New(decoderConfig, decoder.ExecRunner{}, fs, collectionNames, clock)
	}

	ing := ingestor.New(files, classifier.New(collectionNames, clock), dec, sensingDBService, ingestor.Config{
		MaxFileAttempts: conf.Ingestion.MaxFileAttempts,
	})
	agg := aggregator.New(sensingDBService, aggregatorConfig, clock)

	return runner.New(runnerConfig, sensingDBService, sensingDBService, ing, agg, clock)
}

// runOnce executes one run and reports whether it completed without errors.
func runOnce(ctx context.Context, r *runner.Runner, baseLogger *slog.Logger) bool {
	runID := uuid.New().String()
	utils.WithRunID(baseLogger, runID)

	slog.Info("Starting sensor processing", slog.Any("tasks", conf.RunTasks))
	start := time.Now()

	report, err := r.Run(ctx)
	if err != nil {
		slog.Error("Sensor processing finished with errors", slog.String("error", err.Error()))
	}
	slog.Info("Sensor processing completed",
		slog.Int("users", report.Users),
		slog.Int("filesArchived", report.Ingest.Archived),
		slog.Int("filesFailed", report.Ingest.Failed),
		slog.Int("summaries", report.Summaries),
		slog.String("duration", time.Since(start).String()),
	)
	return err == nil
}
