package decoder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workDir = "/work"

// fakeRunner writes the given files into the requested output directory.
type fakeRunner struct {
	fs       afero.Fs
	files    map[string]string
	noOutput bool
	err      error
	block    bool
	gotArgs  []string
}

func (r *fakeRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	r.gotArgs = args
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return []byte("Exception in thread main"), r.err
	}
	if r.noOutput {
		return nil, nil
	}
	outDir := ""
	for i, a := range args {
		if a == "--output_file" && i+1 < len(args) {
			outDir = args[i+1]
		}
	}
	if err := r.fs.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	for name, content := range r.files {
		if err := afero.WriteFile(r.fs, filepath.Join(outDir, name), []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func newTestDecoder(t *testing.T, cfg Config, runner *fakeRunner) *Decoder {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if cfg.Command == nil {
		cfg.Command = []string{"java", "-jar", "fit-processing-cli.jar"}
	}
	cfg.WorkDir = workDir
	d := New(cfg, runner, runner.fs, types.DefaultCollectionNames(), clock)
	d.newID = func() string { return "run-1" }
	return d
}

func collect(events *[]types.Event) func(types.Event) error {
	return func(e types.Event) error {
		*events = append(*events, e)
		return nil
	}
}

func assertOutputRemoved(t *testing.T, fs afero.Fs) {
	t.Helper()
	exists, err := afero.DirExists(fs, filepath.Join(workDir, "u1", "run-1"))
	require.NoError(t, err)
	assert.False(t, exists, "decoder output directory must be removed")
}

func TestDecodePatternLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"watch_HEART_RATE.csv":    "timestamp,bpm,status\n1690000000,62,LOCKED\n1690000060,0,SEARCHING\n",
		"watch_STRESS.csv":        "timestamp,stressScore,stressStatus,averageStressIntensity,bodyBattery,bodyBatteryStatus\n1690000000,25,VALID,20,80,VALID\n",
		"watch_ACCELEROMETER.csv": "timestamp,micros,x,y,z\n1690000000,500000,0.1,0.2,0.3\n",
		"notes.txt":               "ignored",
	}}
	d := newTestDecoder(t, Config{
		TypesToProcess: []string{"HEART_RATE", "STRESS", "BBI"},
		DateTimeFormat: "UNIX",
	}, runner)

	var events []types.Event
	res, err := d.Decode(context.Background(), "u1", "/upload/phone/u1/watch.fit", collect(&events))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 0, res.Malformed)
	assert.Equal(t, []Metric{MetricBBI}, res.NoData)
	assert.Equal(t, 2, res.PerMetric[MetricHeartRate])
	assert.Zero(t, res.PerMetric[MetricAccelerometer], "metrics not requested are skipped")

	require.Len(t, events, 3)
	byCollection := map[string][]types.Event{}
	for _, e := range events {
		byCollection[e.Collection] = append(byCollection[e.Collection], e)
	}
	require.Len(t, byCollection["garmin_hr"], 2)
	hr := byCollection["garmin_hr"][0]
	assert.Equal(t, 442, hr.EventID)
	assert.Equal(t, 1690000000.0, hr.Timestamp)
	v, _ := hr.Field("heart_rate")
	assert.Equal(t, 62.0, v)

	require.Len(t, byCollection["garmin_stress"], 1)
	stress := byCollection["garmin_stress"][0]
	v, _ = stress.Field("stress")
	assert.Equal(t, 25.0, v)
	v, _ = stress.Field("body_battery")
	assert.Equal(t, 80.0, v)

	assert.Equal(t, []string{
		"java", "-jar", "fit-processing-cli.jar", "/upload/phone/u1/watch.fit",
		"--output_file", "/work/u1/run-1", "--output_format", "CSV",
		"--types_to_process", "HEART_RATE,STRESS,BBI",
		"--date_time_format", "UNIX",
	}, runner.gotArgs)
	assertOutputRemoved(t, fs)
}

func TestDecodeAccelerometerFraction(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"ACCELEROMETER.csv": "timestamp,micros,x,y,z\n1690000000,250000,0.1,0.2,9.8\n",
		"BBI.csv":           "timestamp,millis,bbi\n1690000000,500,812\n",
	}}
	d := newTestDecoder(t, Config{}, runner)

	var events []types.Event
	res, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.ElementsMatch(t, []Metric{MetricHeartRate, MetricRespiration, MetricSteps, MetricStress}, res.NoData)

	for _, e := range events {
		switch e.Collection {
		case "garmin_accelerometer":
			assert.InDelta(t, 1690000000.25, e.Timestamp, 1e-6)
			assert.Equal(t, 447, e.EventID)
		case "garmin_ibi":
			assert.InDelta(t, 1690000000.5, e.Timestamp, 1e-6)
			assert.Equal(t, 441, e.EventID)
		default:
			t.Errorf("unexpected collection %s", e.Collection)
		}
	}
}

func TestDecodeMalformedRowsGoToUnknown(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"HEART_RATE.csv": "timestamp,bpm,status\n1690000000,70,LOCKED\n1690000060,fast,LOCKED\n,71,LOCKED\n",
	}}
	d := newTestDecoder(t, Config{TypesToProcess: []string{"HEART_RATE"}}, runner)

	var events []types.Event
	res, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 2, res.Malformed)

	require.Len(t, events, 3)
	assert.Equal(t, "unknown_events_data", events[1].Collection)
	assert.Equal(t, 1690000060.0, events[1].Timestamp)
	raw, _ := events[1].Field("raw_data")
	assert.Equal(t, "1690000060,fast,LOCKED", raw)
	assert.Equal(t, 442, events[1].EventID)
	assert.Equal(t, 0.0, events[2].Timestamp)
}

func TestDecodeFailsWhenNoRowIsReadable(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"HEART_RATE.csv": "timestamp,bpm,status\n2024-03-01T10:00:00Z,70,LOCKED\n2024-03-01T10:01:00Z,71,LOCKED\n",
	}}
	d := newTestDecoder(t, Config{TypesToProcess: []string{"HEART_RATE"}}, runner)

	var events []types.Event
	res, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&events))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoValidRows)
	assert.Contains(t, err.Error(), "HEART_RATE")
	assert.Equal(t, 0, res.Rows)
	assert.Equal(t, 2, res.Malformed)
	assertOutputRemoved(t, fs)
}

func TestDecodeRejectsNonEpochDateTimeFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs}
	d := newTestDecoder(t, Config{DateTimeFormat: "ISO_8601"}, runner)

	_, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&[]types.Event{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedDateTimeFormat)
	assert.Nil(t, runner.gotArgs, "decoder must not run")
}

func TestValidateDateTimeFormat(t *testing.T) {
	assert.NoError(t, ValidateDateTimeFormat(""))
	assert.NoError(t, ValidateDateTimeFormat("UNIX"))
	assert.NoError(t, ValidateDateTimeFormat("unix"))
	assert.ErrorIs(t, ValidateDateTimeFormat("ISO_8601"), ErrUnsupportedDateTimeFormat)
}

func TestDecodeManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"manifest.json": `{"files":[{"type":"respiration","path":"out-1.csv"}]}`,
		"out-1.csv":     "timestamp,breathsPerMinute,respirationStatus\n1690000000,14.5,VALID\n",
	}}
	d := newTestDecoder(t, Config{TypesToProcess: []string{"RESPIRATION"}}, runner)

	var events []types.Event
	res, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	require.Len(t, events, 1)
	assert.Equal(t, "garmin_respiration", events[0].Collection)
	v, _ := events[0].Field("respiration_timestamp")
	assert.Equal(t, 1690000000.0, v)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		runner  func(fs afero.Fs) *fakeRunner
		cfg     Config
		wantErr error
	}{
		{
			name:    "non-zero exit",
			runner:  func(fs afero.Fs) *fakeRunner { return &fakeRunner{fs: fs, err: errors.New("exit status 1")} },
			wantErr: ErrDecoderFailed,
		},
		{
			name:    "timeout",
			runner:  func(fs afero.Fs) *fakeRunner { return &fakeRunner{fs: fs, block: true} },
			cfg:     Config{Timeout: 20 * time.Millisecond},
			wantErr: ErrDecoderTimeout,
		},
		{
			name:    "output directory never created",
			runner:  func(fs afero.Fs) *fakeRunner { return &fakeRunner{fs: fs, noOutput: true} },
			wantErr: ErrMissingOutput,
		},
		{
			name: "no recognised exports",
			runner: func(fs afero.Fs) *fakeRunner {
				return &fakeRunner{fs: fs, files: map[string]string{"random.csv": "a,b\n1,2\n"}}
			},
			wantErr: ErrMissingOutput,
		},
		{
			name: "manifest points to missing file",
			runner: func(fs afero.Fs) *fakeRunner {
				return &fakeRunner{fs: fs, files: map[string]string{"manifest.json": `{"files":[{"type":"HEART_RATE","path":"hr.csv"}]}`}}
			},
			wantErr: ErrMissingOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			d := newTestDecoder(t, tt.cfg, tt.runner(fs))

			var events []types.Event
			_, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", collect(&events))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, events)
			assertOutputRemoved(t, fs)
		})
	}
}

func TestDecodeRejectsUnsafeUID(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := newTestDecoder(t, Config{}, &fakeRunner{fs: fs})
	_, err := d.Decode(context.Background(), "../etc", "/upload/a.fit", func(types.Event) error { return nil })
	assert.Error(t, err)
}

func TestDecodeEmitErrorStops(t *testing.T) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs, files: map[string]string{
		"HEART_RATE.csv": "timestamp,bpm,status\n1690000000,70,LOCKED\n1690000060,71,LOCKED\n",
	}}
	d := newTestDecoder(t, Config{TypesToProcess: []string{"HEART_RATE"}}, runner)

	sinkErr := errors.New("sink closed")
	_, err := d.Decode(context.Background(), "u1", "/upload/u1/a.fit", func(types.Event) error { return sinkErr })
	assert.ErrorIs(t, err, sinkErr)
	assertOutputRemoved(t, fs)
}
