// Package mapping turns loosely typed payloads (JSON objects, comma separated text,
// CSV rows) into stored fields using declarative descriptors.
package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
)

type Format int

const (
	FormatJSON Format = iota
	FormatText
	FormatCSV
)

type Coerce int

const (
	AsFloat Coerce = iota
	AsInt
	AsString
	AsTimestamp
	AsWords
	AsRaw
)

var (
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidField  = errors.New("invalid field value")
	ErrMissingTime   = errors.New("missing timestamp")
	ErrInvalidFormat = errors.New("invalid payload format")
)

// FieldSpec maps one source value to one stored field.
// Key addresses JSON objects and CSV rows, Index addresses text payloads.
type FieldSpec struct {
	Key    string
	Index  int
	Target string
	Coerce Coerce

	Required      bool
	OmitIfMissing bool
	// Default is used when the value is missing and neither Required nor OmitIfMissing is set.
	// A nil Default stores the zero value of Coerce.
	Default any
	// FromEventTimestamp copies the resolved event timestamp instead of reading the source.
	FromEventTimestamp bool
	// DefaultToEventTimestamp uses the event timestamp when the value is missing.
	DefaultToEventTimestamp bool
}

// Descriptor describes how one record type is decoded and where it is stored.
type Descriptor struct {
	Kind       types.Kind
	Collection types.CollectionKey
	Format     Format
	// Separator splits text payloads, "," if empty.
	Separator string

	// TimestampKey overrides the row timestamp with a payload value when present.
	TimestampKey string
	// FractionKey is added to the timestamp after dividing it by FractionDivisor (sub-second parts).
	FractionKey     string
	FractionDivisor float64

	Fields []FieldSpec
}

// Source gives access to the values of a parsed payload.
type Source interface {
	Lookup(key string, index int) (any, bool)
}

// Decode applies the descriptor to src. rowTimestamp is the timestamp of the carrying
// row, NaN when there is none. It returns the event timestamp and the stored fields.
func (d Descriptor) Decode(src Source, rowTimestamp float64) (float64, bson.D, error) {
	ts, err := d.resolveTimestamp(src, rowTimestamp)
	if err != nil {
		return 0, nil, err
	}

	fields := make(bson.D, 0, len(d.Fields))
	for _, spec := range d.Fields {
		if spec.FromEventTimestamp {
			fields = append(fields, bson.E{Key: spec.Target, Value: ts})
			continue
		}

		raw, ok := src.Lookup(spec.Key, spec.Index)
		if !ok {
			switch {
			case spec.Required:
				return 0, nil, fmt.Errorf("%w: %s", ErrMissingField, spec.Target)
			case spec.OmitIfMissing:
				continue
			case spec.DefaultToEventTimestamp:
				fields = append(fields, bson.E{Key: spec.Target, Value: ts})
			default:
				fields = append(fields, bson.E{Key: spec.Target, Value: defaultValue(spec)})
			}
			continue
		}

		v, err := CoerceValue(raw, spec.Coerce)
		if err != nil {
			return 0, nil, fmt.Errorf("field %s: %w", spec.Target, err)
		}
		fields = append(fields, bson.E{Key: spec.Target, Value: v})
	}
	return ts, fields, nil
}

func (d Descriptor) resolveTimestamp(src Source, rowTimestamp float64) (float64, error) {
	ts := rowTimestamp
	if d.TimestampKey != "" {
		if raw, ok := src.Lookup(d.TimestampKey, -1); ok {
			v, err := CoerceValue(raw, AsTimestamp)
			if err != nil {
				return 0, fmt.Errorf("timestamp: %w", err)
			}
			ts = v.(float64)
		}
	}
	if math.IsNaN(ts) {
		return 0, ErrMissingTime
	}

	if d.FractionKey != "" {
		if raw, ok := src.Lookup(d.FractionKey, -1); ok {
			v, err := CoerceValue(raw, AsFloat)
			if err != nil {
				return 0, fmt.Errorf("timestamp fraction: %w", err)
			}
			divisor := d.FractionDivisor
			if divisor == 0 {
				divisor = 1
			}
			ts += v.(float64) / divisor
		}
	}
	return ts, nil
}

func defaultValue(spec FieldSpec) any {
	if spec.Default != nil {
		return spec.Default
	}
	switch spec.Coerce {
	case AsFloat, AsTimestamp:
		return 0.0
	case AsInt:
		return int64(0)
	case AsString:
		return ""
	case AsWords:
		return bson.A{}
	default:
		return nil
	}
}
