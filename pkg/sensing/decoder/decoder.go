// Package decoder runs the external telemetry decoder on watch files and maps its
// per-metric CSV exports to typed events.
package decoder

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/mapping"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/case-framework/case-sensing/pkg/utils"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	DefaultTimeout = 10 * time.Minute

	// DateTimeFormatUnix makes the exports carry epoch timestamps, the only form the
	// CSV mapping reads.
	DateTimeFormatUnix = "UNIX"

	maxConsecutiveParseErrors = 1000
	maxCommandOutputLog       = 2048
)

var (
	ErrDecoderFailed  = errors.New("decoder failed")
	ErrDecoderTimeout = errors.New("decoder timed out")
	ErrMissingOutput  = errors.New("decoder output missing")
	ErrNoValidRows    = errors.New("no valid rows in export")

	ErrUnsupportedDateTimeFormat = errors.New("unsupported date time format")
)

// ValidateDateTimeFormat rejects decoder timestamp formats that the exports cannot be read back with.
func ValidateDateTimeFormat(format string) error {
	if format == "" || strings.EqualFold(format, DateTimeFormatUnix) {
		return nil
	}
	return fmt.Errorf("%w %q, use %s", ErrUnsupportedDateTimeFormat, format, DateTimeFormatUnix)
}

type Config struct {
	Command        []string
	TypesToProcess []string
	DateTimeFormat string
	Timeout        time.Duration
	WorkDir        string
	Layout         string
}

// Result summarises one decoded file.
type Result struct {
	Rows      int
	Malformed int
	PerMetric map[Metric]int
	NoData    []Metric
}

type Decoder struct {
	cfg    Config
	runner Runner
	fs     afero.Fs
	names  types.CollectionNames
	clock  quartz.Clock
	newID  func() string
}

func New(cfg Config, runner Runner, fs afero.Fs, names types.CollectionNames, clock quartz.Clock) *Decoder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutV1
	}
	if names == nil {
		names = types.DefaultCollectionNames()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Decoder{
		cfg:    cfg,
		runner: runner,
		fs:     fs,
		names:  names,
		clock:  clock,
		newID:  func() string { return uuid.New().String() },
	}
}

// Decode converts file and streams the resulting events to emit. The transient output
// directory is removed in every case. A returned error means the file must stay in the upload area.
func (d *Decoder) Decode(ctx context.Context, uid string, file string, emit func(types.Event) error) (Result, error) {
	res := Result{PerMetric: map[Metric]int{}}
	if len(d.cfg.Command) == 0 {
		return res, fmt.Errorf("%w: no decoder command configured", ErrDecoderFailed)
	}
	if !utils.IsSafePathSegment(uid) {
		return res, fmt.Errorf("invalid participant id %q", uid)
	}
	if err := ValidateDateTimeFormat(d.cfg.DateTimeFormat); err != nil {
		return res, err
	}

	outDir := filepath.Join(d.cfg.WorkDir, uid, d.newID())
	defer func() {
		if err := d.fs.RemoveAll(outDir); err != nil {
			slog.Error("failed to remove decoder output", slog.String("dir", outDir), slog.String("error", err.Error()))
		}
	}()

	if err := d.run(ctx, file, outDir); err != nil {
		return res, err
	}

	outputs, err := discoverOutputs(d.fs, outDir, d.cfg.Layout)
	if err != nil {
		return res, err
	}
	if len(outputs) == 0 {
		return res, fmt.Errorf("%w: no recognised exports for %s", ErrMissingOutput, file)
	}

	found := map[Metric]bool{}
	for _, out := range outputs {
		if !d.requested(out.Metric) {
			continue
		}
		found[out.Metric] = true
		n, malformed, err := d.parseCSV(ctx, uid, out, emit)
		res.Rows += n
		res.Malformed += malformed
		res.PerMetric[out.Metric] += n
		if err != nil {
			return res, fmt.Errorf("%s export: %w", out.Metric, err)
		}
		// an export without a single readable row means the file was not understood
		if n == 0 && malformed > 0 {
			return res, fmt.Errorf("%s export: %w, %d malformed", out.Metric, ErrNoValidRows, malformed)
		}
	}

	for _, m := range d.requestedMetrics() {
		if !found[m] {
			res.NoData = append(res.NoData, m)
			slog.Info("no data for metric", slog.String("uid", uid), slog.String("file", file), slog.String("metric", string(m)))
		}
	}
	return res, nil
}

func (d *Decoder) args(input string, outDir string) []string {
	args := append([]string{}, d.cfg.Command...)
	args = append(args, input, "--output_file", outDir, "--output_format", "CSV")
	if len(d.cfg.TypesToProcess) > 0 {
		args = append(args, "--types_to_process", strings.Join(d.cfg.TypesToProcess, ","))
	}
	if d.cfg.DateTimeFormat != "" {
		args = append(args, "--date_time_format", d.cfg.DateTimeFormat)
	}
	return args
}

func (d *Decoder) run(ctx context.Context, input string, outDir string) error {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := d.clock.Now()
	output, err := d.runner.Run(runCtx, d.args(input, outDir))
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s: %s", ErrDecoderTimeout, d.cfg.Timeout, input)
	}
	if err != nil {
		slog.Error("decoder command failed", slog.String("file", input), slog.String("error", err.Error()), slog.String("output", truncate(string(output), maxCommandOutputLog)))
		return fmt.Errorf("%w: %s", ErrDecoderFailed, err.Error())
	}
	slog.Debug("decoder finished", slog.String("file", input), slog.Duration("took", d.clock.Since(start)))
	return nil
}

func (d *Decoder) requestedMetrics() []Metric {
	if len(d.cfg.TypesToProcess) == 0 {
		return layouts[d.cfg.Layout]
	}
	metrics := make([]Metric, 0, len(d.cfg.TypesToProcess))
	for _, t := range d.cfg.TypesToProcess {
		if _, ok := metricSpecs[Metric(strings.ToUpper(t))]; ok {
			metrics = append(metrics, Metric(strings.ToUpper(t)))
		}
	}
	return metrics
}

func (d *Decoder) requested(m Metric) bool {
	for _, r := range d.requestedMetrics() {
		if r == m {
			return true
		}
	}
	return false
}

func (d *Decoder) parseCSV(ctx context.Context, uid string, out Output, emit func(types.Event) error) (int, int, error) {
	f, err := d.fs.Open(out.Path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	columns, err := r.Read()
	if err == io.EOF {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	header := mapping.NewHeader(columns)
	spec := metricSpecs[out.Metric]
	processedAt := float64(d.clock.Now().UnixMilli()) / 1000

	rows, malformed, parseErrors := 0, 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return rows, malformed, err
		}

		record, err := r.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			parseErrors++
			if parseErrors > maxConsecutiveParseErrors {
				return rows, malformed, fmt.Errorf("too many unreadable rows: %w", err)
			}
			malformed++
			if err := emit(d.unknown(uid, spec.EventID, math.NaN(), err.Error(), processedAt)); err != nil {
				return rows, malformed, err
			}
			continue
		}
		if err != nil {
			return rows, malformed, err
		}
		parseErrors = 0

		row := mapping.Row{Header: header, Record: record}
		ts, fields, err := spec.Descriptor.Decode(row, math.NaN())
		var ev types.Event
		if err != nil {
			malformed++
			ev = d.unknown(uid, spec.EventID, rowTimestamp(row, spec.Descriptor), strings.Join(record, ","), processedAt)
		} else {
			rows++
			ev = types.Event{
				Kind:        spec.Descriptor.Kind,
				Collection:  d.names.Name(spec.Descriptor.Collection),
				UID:         uid,
				Timestamp:   ts,
				EventID:     spec.EventID,
				Fields:      fields,
				ProcessedAt: processedAt,
			}
		}
		if err := emit(ev); err != nil {
			return rows, malformed, err
		}
	}
	return rows, malformed, nil
}

func (d *Decoder) unknown(uid string, eventID int, ts float64, raw string, processedAt float64) types.Event {
	if math.IsNaN(ts) {
		ts = 0
	}
	return types.Event{
		Kind:        types.KindUnknown,
		Collection:  d.names.Name(types.CollUnknown),
		UID:         uid,
		Timestamp:   ts,
		EventID:     eventID,
		Fields:      bson.D{{Key: "raw_data", Value: raw}},
		ProcessedAt: processedAt,
	}
}

// rowTimestamp is the best effort timestamp of a malformed row, NaN if unreadable.
func rowTimestamp(row mapping.Row, d mapping.Descriptor) float64 {
	raw, ok := row.Lookup(d.TimestampKey, -1)
	if !ok {
		return math.NaN()
	}
	ts, err := utils.NormalizeTimestamp(raw)
	if err != nil {
		return math.NaN()
	}
	return ts
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
