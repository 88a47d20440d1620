package utils

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name       string
		input      any
		expected   float64
		shouldFail bool
	}{
		{name: "seconds int64", input: int64(1690000000), expected: 1690000000.0},
		{name: "milliseconds int64", input: int64(1690000000000), expected: 1690000000.0},
		{name: "seconds float with fraction", input: 1690000000.25, expected: 1690000000.25},
		{name: "milliseconds float", input: 1690000000123.0, expected: 1690000000.123},
		{name: "seconds string", input: "1690000000", expected: 1690000000.0},
		{name: "milliseconds string", input: "1690000000000", expected: 1690000000.0},
		{name: "seconds string with fraction", input: "1690000000.5", expected: 1690000000.5},
		{name: "bytes", input: []byte("1690000000000"), expected: 1690000000.0},
		{name: "json number", input: json.Number("1690000000"), expected: 1690000000.0},
		{name: "int", input: 1690000000, expected: 1690000000.0},
		{name: "short value is treated as milliseconds", input: int64(5000), expected: 5.0},
		{name: "garbage", input: "yesterday", shouldFail: true},
		{name: "nil", input: nil, shouldFail: true},
		{name: "bool", input: true, shouldFail: true},
		{name: "nan", input: math.NaN(), shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizeTimestamp(tt.input)
			if tt.shouldFail {
				if err == nil {
					t.Errorf("expected error for input %v, got %v", tt.input, result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %v: %v", tt.input, err)
			}
			if math.Abs(result-tt.expected) > 1e-6 {
				t.Errorf("NormalizeTimestamp(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeTimestampProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("seconds and milliseconds of the same instant agree", prop.ForAll(
		func(seconds int64) bool {
			fromSeconds, err := NormalizeTimestamp(seconds)
			if err != nil {
				return false
			}
			fromMillis, err := NormalizeTimestamp(seconds * 1000)
			if err != nil {
				return false
			}
			return fromSeconds == float64(seconds) && fromMillis == float64(seconds)
		},
		gen.Int64Range(1000000000, 9999999999),
	))

	properties.Property("string and numeric inputs normalize identically", prop.ForAll(
		func(millis int64) bool {
			fromNumber, err := NormalizeTimestamp(millis)
			if err != nil {
				return false
			}
			fromString, err := NormalizeTimestamp(strconv.FormatInt(millis, 10))
			if err != nil {
				return false
			}
			return fromNumber == fromString
		},
		gen.Int64Range(1000000000000, 9999999999999),
	))

	properties.TestingRun(t)
}
