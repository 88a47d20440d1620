package decoder

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/case-framework/case-sensing/pkg/sensing/mapping"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/spf13/afero"
)

type Metric string

const (
	MetricAccelerometer Metric = "ACCELEROMETER"
	MetricBBI           Metric = "BBI"
	MetricHeartRate     Metric = "HEART_RATE"
	MetricRespiration   Metric = "RESPIRATION"
	MetricSteps         Metric = "STEPS"
	MetricStress        Metric = "STRESS"
)

const (
	LayoutV1     = "v1"
	manifestName = "manifest.json"
)

// metricSpec binds a decoder export to its stored shape.
type metricSpec struct {
	EventID    int
	Descriptor mapping.Descriptor
}

var metricSpecs = map[Metric]metricSpec{
	MetricAccelerometer: {
		EventID: 447,
		Descriptor: mapping.Descriptor{
			Kind:            types.KindAccelerometer,
			Collection:      types.CollGarminAccelerometer,
			Format:          mapping.FormatCSV,
			TimestampKey:    "timestamp",
			FractionKey:     "micros",
			FractionDivisor: 1e6,
			Fields: []mapping.FieldSpec{
				{Key: "x", Target: "x", Coerce: mapping.AsFloat, Required: true},
				{Key: "y", Target: "y", Coerce: mapping.AsFloat, Required: true},
				{Key: "z", Target: "z", Coerce: mapping.AsFloat, Required: true},
			},
		},
	},
	MetricBBI: {
		EventID: 441,
		Descriptor: mapping.Descriptor{
			Kind:            types.KindInterBeat,
			Collection:      types.CollGarminIBI,
			Format:          mapping.FormatCSV,
			TimestampKey:    "timestamp",
			FractionKey:     "millis",
			FractionDivisor: 1e3,
			Fields: []mapping.FieldSpec{
				{Key: "bbi", Target: "bbi", Coerce: mapping.AsFloat, Required: true},
			},
		},
	},
	MetricHeartRate: {
		EventID: 442,
		Descriptor: mapping.Descriptor{
			Kind:         types.KindHeartRate,
			Collection:   types.CollGarminHR,
			Format:       mapping.FormatCSV,
			TimestampKey: "timestamp",
			Fields: []mapping.FieldSpec{
				{Key: "bpm", Target: "heart_rate", Coerce: mapping.AsFloat, Required: true},
				{Key: "status", Target: "status", Coerce: mapping.AsString},
			},
		},
	},
	MetricRespiration: {
		EventID: 444,
		Descriptor: mapping.Descriptor{
			Kind:         types.KindRespiration,
			Collection:   types.CollGarminRespiration,
			Format:       mapping.FormatCSV,
			TimestampKey: "timestamp",
			Fields: []mapping.FieldSpec{
				{Target: "respiration_timestamp", FromEventTimestamp: true},
				{Key: "breathsPerMinute", Target: "respiration", Coerce: mapping.AsFloat, Required: true},
				{Key: "respirationStatus", Target: "status", Coerce: mapping.AsString},
			},
		},
	},
	MetricSteps: {
		EventID: 445,
		Descriptor: mapping.Descriptor{
			Kind:         types.KindSteps,
			Collection:   types.CollGarminSteps,
			Format:       mapping.FormatCSV,
			TimestampKey: "startTimestamp",
			Fields: []mapping.FieldSpec{
				{Target: "start_timestamp", FromEventTimestamp: true},
				{Key: "endTimestamp", Target: "steps_timestamp", Coerce: mapping.AsTimestamp, DefaultToEventTimestamp: true},
				{Key: "stepCount", Target: "steps", Coerce: mapping.AsFloat, Required: true},
				{Key: "totalSteps", Target: "total_steps", Coerce: mapping.AsFloat},
			},
		},
	},
	MetricStress: {
		EventID: 443,
		Descriptor: mapping.Descriptor{
			Kind:         types.KindStress,
			Collection:   types.CollGarminStress,
			Format:       mapping.FormatCSV,
			TimestampKey: "timestamp",
			Fields: []mapping.FieldSpec{
				{Key: "stressScore", Target: "stress", Coerce: mapping.AsFloat, Required: true},
				{Key: "stressStatus", Target: "status", Coerce: mapping.AsString},
				{Key: "averageStressIntensity", Target: "average_stress_intensity", Coerce: mapping.AsFloat, OmitIfMissing: true},
				{Key: "bodyBattery", Target: "body_battery", Coerce: mapping.AsFloat, OmitIfMissing: true},
				{Key: "bodyBatteryStatus", Target: "body_battery_status", Coerce: mapping.AsString, OmitIfMissing: true},
			},
		},
	},
}

// file name patterns of the decoder exports per output layout, matched in order
var layouts = map[string][]Metric{
	LayoutV1: {MetricAccelerometer, MetricBBI, MetricHeartRate, MetricRespiration, MetricSteps, MetricStress},
}

// Output is one CSV export of the decoder.
type Output struct {
	Metric Metric
	Path   string
}

type manifest struct {
	Files []struct {
		Type string `json:"type"`
		Path string `json:"path"`
	} `json:"files"`
}

// discoverOutputs lists the exports in dir, preferring a manifest written by the tool.
func discoverOutputs(fs afero.Fs, dir string, layout string) ([]Output, error) {
	if ok, _ := afero.DirExists(fs, dir); !ok {
		return nil, fmt.Errorf("%w: output directory %s not created", ErrMissingOutput, dir)
	}

	manifestPath := filepath.Join(dir, manifestName)
	if ok, _ := afero.Exists(fs, manifestPath); ok {
		return readManifest(fs, dir, manifestPath)
	}

	patterns, ok := layouts[layout]
	if !ok {
		return nil, fmt.Errorf("unknown decoder output layout %q", layout)
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var outputs []Output
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		for _, m := range patterns {
			if strings.Contains(strings.ToUpper(e.Name()), string(m)) {
				outputs = append(outputs, Output{Metric: m, Path: filepath.Join(dir, e.Name())})
				break
			}
		}
	}
	return outputs, nil
}

func readManifest(fs afero.Fs, dir string, path string) ([]Output, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %s", ErrMissingOutput, err.Error())
	}

	outputs := make([]Output, 0, len(m.Files))
	for _, f := range m.Files {
		metric := Metric(strings.ToUpper(f.Type))
		if _, ok := metricSpecs[metric]; !ok {
			continue
		}
		p := f.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if ok, _ := afero.Exists(fs, p); !ok {
			return nil, fmt.Errorf("%w: manifest entry %s points to missing file %s", ErrMissingOutput, f.Type, f.Path)
		}
		outputs = append(outputs, Output{Metric: metric, Path: p})
	}
	return outputs, nil
}
