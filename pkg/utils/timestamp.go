package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeTimestamp converts a timestamp of unknown unit into float seconds since epoch.
// When the integer part written out in decimal has exactly 10 digits the value is taken
// as whole seconds, otherwise it is taken as milliseconds.
func NormalizeTimestamp(raw any) (float64, error) {
	var (
		value float64
		text  string
	)

	switch v := raw.(type) {
	case float64:
		value = v
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		value = float64(v)
		text = strconv.FormatFloat(value, 'f', -1, 32)
	case int:
		value = float64(v)
		text = strconv.Itoa(v)
	case int32:
		value = float64(v)
		text = strconv.FormatInt(int64(v), 10)
	case int64:
		value = float64(v)
		text = strconv.FormatInt(v, 10)
	case json.Number:
		return NormalizeTimestamp(string(v))
	case []byte:
		return NormalizeTimestamp(string(v))
	case string:
		text = strings.TrimSpace(v)
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
		value = f
	case nil:
		return 0, fmt.Errorf("missing timestamp")
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", raw)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid timestamp %v", raw)
	}

	integerPart := strings.SplitN(text, ".", 2)[0]
	if len(integerPart) == 10 {
		return value, nil
	}
	return value / 1000, nil
}
