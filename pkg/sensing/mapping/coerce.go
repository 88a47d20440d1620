package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/case-framework/case-sensing/pkg/utils"
	"go.mongodb.org/mongo-driver/bson"
)

// CoerceValue converts a decoded payload value into the stored representation.
func CoerceValue(raw any, c Coerce) (any, error) {
	switch c {
	case AsFloat:
		return toFloat(raw)
	case AsInt:
		return toInt(raw)
	case AsString:
		return toString(raw), nil
	case AsTimestamp:
		ts, err := utils.NormalizeTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidField, err.Error())
		}
		return ts, nil
	case AsWords:
		words := strings.Fields(toString(raw))
		out := make(bson.A, len(words))
		for i, w := range words {
			out[i] = w
		}
		return out, nil
	case AsRaw:
		return toRaw(raw), nil
	}
	return nil, fmt.Errorf("unknown coercion %d", c)
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidField, v)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidField, v)
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidField, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-finite number", ErrInvalidField)
	}
	return f, nil
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := toFloat(raw)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// toRaw converts JSON decoded values into BSON friendly ones.
func toRaw(raw any) any {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		out := make(bson.M, len(v))
		for k, val := range v {
			out[k] = toRaw(val)
		}
		return out
	case []any:
		out := make(bson.A, len(v))
		for i, val := range v {
			out[i] = toRaw(val)
		}
		return out
	default:
		return v
	}
}
