// Package ingestor moves one user's uploaded files through classification or
// decoding into the batch sink, and archives every file that was fully stored.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/batch"
	"github.com/case-framework/case-sensing/pkg/sensing/classifier"
	"github.com/case-framework/case-sensing/pkg/sensing/container"
	"github.com/case-framework/case-sensing/pkg/sensing/decoder"
	"github.com/case-framework/case-sensing/pkg/sensing/filestore"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/hashicorp/go-multierror"
)

var (
	DefaultContainerExtensions = []string{".db"}
	DefaultTelemetryExtensions = []string{".fit"}
)

// FailureStore keeps the consecutive failure count of uploaded files.
type FailureStore interface {
	IncrementFileFailure(ctx context.Context, path string, uid string, reason string) (int, error)
	ClearFileFailure(ctx context.Context, path string) error
}

type Config struct {
	// MaxFileAttempts quarantines a file after that many failed runs. Zero keeps
	// failing files in the upload area forever.
	MaxFileAttempts     int
	ContainerExtensions []string
	TelemetryExtensions []string
}

// Stats counts the outcome of one user's files.
type Stats struct {
	Files       int
	Archived    int
	Failed      int
	Quarantined int
	Records     int
}

func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.Archived += o.Archived
	s.Failed += o.Failed
	s.Quarantined += o.Quarantined
	s.Records += o.Records
}

type Ingestor struct {
	files      *filestore.Manager
	classifier *classifier.Classifier
	decoder    *decoder.Decoder
	failures   FailureStore
	cfg        Config

	openContainer func(path string) (*container.Reader, error)
}

// New wires an ingestor. decoder may be nil when telemetry decoding is disabled, failures
// may be nil when quarantining is not used.
func New(files *filestore.Manager, cls *classifier.Classifier, dec *decoder.Decoder, failures FailureStore, cfg Config) *Ingestor {
	if len(cfg.ContainerExtensions) == 0 {
		cfg.ContainerExtensions = DefaultContainerExtensions
	}
	if len(cfg.TelemetryExtensions) == 0 {
		cfg.TelemetryExtensions = DefaultTelemetryExtensions
	}
	return &Ingestor{
		files:         files,
		classifier:    cls,
		decoder:       dec,
		failures:      failures,
		cfg:           cfg,
		openContainer: container.Open,
	}
}

// IngestContainers stores the rows of every raw container in the user's upload directory.
// A user without upload directory has nothing to ingest.
func (in *Ingestor) IngestContainers(ctx context.Context, uid string, sink batch.Sink) (Stats, error) {
	return in.eachFile(ctx, uid, sink, in.cfg.ContainerExtensions, in.ingestContainer)
}

// DecodeTelemetry runs the external decoder on every telemetry file of the user.
func (in *Ingestor) DecodeTelemetry(ctx context.Context, uid string, sink batch.Sink) (Stats, error) {
	if in.decoder == nil {
		return Stats{}, nil
	}
	return in.eachFile(ctx, uid, sink, in.cfg.TelemetryExtensions, in.decodeTelemetryFile)
}

type fileHandler func(ctx context.Context, uid string, path string, emit func(types.Event) error) (int, error)

func (in *Ingestor) eachFile(ctx context.Context, uid string, sink batch.Sink, exts []string, handle fileHandler) (Stats, error) {
	var stats Stats
	files, err := in.files.ListUserFiles(uid, exts...)
	if err != nil {
		if errors.Is(err, filestore.ErrNoUserDir) {
			slog.Debug("no upload directory for user", slog.String("uid", uid))
			return stats, nil
		}
		return stats, err
	}

	var result *multierror.Error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		fileStats, err := in.processFile(ctx, uid, path, sink, handle)
		stats.Add(fileStats)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return stats, result.ErrorOrNil()
}

// processFile streams one file into the sink, flushes what it produced and archives it
// only when every document reached the store.
func (in *Ingestor) processFile(ctx context.Context, uid string, path string, sink batch.Sink, handle fileHandler) (Stats, error) {
	stats := Stats{Files: 1}
	start := time.Now()

	touched := map[string]bool{}
	emit := func(e types.Event) error {
		touched[e.Collection] = true
		return sink.Add(ctx, e.Collection, e.Document())
	}

	n, err := handle(ctx, uid, path, emit)
	stats.Records = n

	// documents already handed to the sink are written even if the file failed, the
	// unique indexes make the retry harmless
	if len(touched) > 0 {
		if flushErr := sink.Flush(ctx, sortedKeys(touched)...); flushErr != nil {
			err = errors.Join(err, flushErr)
		}
	}

	if err != nil {
		stats.Failed = 1
		if in.recordFailure(ctx, uid, path, err) {
			stats.Quarantined = 1
		}
		return stats, fmt.Errorf("%s: %w", path, err)
	}

	if _, err := in.files.Archive(path); err != nil {
		stats.Failed = 1
		slog.Error("failed to archive file", slog.String("uid", uid), slog.String("path", path), slog.String("error", err.Error()))
		return stats, fmt.Errorf("archive %s: %w", path, err)
	}
	stats.Archived = 1

	if in.failures != nil {
		if err := in.failures.ClearFileFailure(ctx, path); err != nil {
			slog.Warn("failed to clear file failure record", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	slog.Info("file ingested", slog.String("uid", uid), slog.String("path", path), slog.Int("records", n), slog.String("duration", time.Since(start).String()))
	return stats, nil
}

// recordFailure counts the failed attempt and quarantines the file once the limit is
// reached. It reports whether the file was quarantined.
func (in *Ingestor) recordFailure(ctx context.Context, uid string, path string, cause error) bool {
	slog.Error("failed to ingest file", slog.String("uid", uid), slog.String("path", path), slog.String("error", cause.Error()))
	if in.failures == nil || in.cfg.MaxFileAttempts <= 0 || ctx.Err() != nil {
		return false
	}

	attempts, err := in.failures.IncrementFileFailure(ctx, path, uid, cause.Error())
	if err != nil {
		slog.Error("failed to record file failure", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}
	if attempts < in.cfg.MaxFileAttempts {
		return false
	}

	target, err := in.files.Quarantine(path)
	if err != nil {
		slog.Error("failed to quarantine file", slog.String("uid", uid), slog.String("path", path), slog.String("error", err.Error()))
		return false
	}
	slog.Warn("file quarantined", slog.String("uid", uid), slog.String("path", path), slog.String("target", target), slog.Int("attempts", attempts))
	if err := in.failures.ClearFileFailure(ctx, path); err != nil {
		slog.Warn("failed to clear file failure record", slog.String("path", path), slog.String("error", err.Error()))
	}
	return true
}

func (in *Ingestor) ingestContainer(ctx context.Context, uid string, path string, emit func(types.Event) error) (int, error) {
	reader, err := in.openContainer(path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	return reader.Each(ctx, func(rec types.RawRecord) error {
		return emit(in.classifier.Classify(uid, rec))
	})
}

func (in *Ingestor) decodeTelemetryFile(ctx context.Context, uid string, path string, emit func(types.Event) error) (int, error) {
	res, err := in.decoder.Decode(ctx, uid, path, emit)
	if res.Malformed > 0 {
		slog.Warn("malformed decoder rows stored as unknown", slog.String("uid", uid), slog.String("path", path), slog.Int("rows", res.Malformed))
	}
	return res.Rows, err
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
