package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Object is a decoded JSON payload.
type Object map[string]any

func (o Object) Lookup(key string, _ int) (any, bool) {
	if key == "" {
		return nil, false
	}
	v, ok := o[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Text is a separator split payload. Empty parts count as missing.
type Text []string

func (t Text) Lookup(_ string, index int) (any, bool) {
	if index < 0 || index >= len(t) {
		return nil, false
	}
	v := strings.TrimSpace(t[index])
	if v == "" {
		return nil, false
	}
	return v, true
}

// Row is one CSV record addressed by header name. Empty cells count as missing.
type Row struct {
	Header map[string]int
	Record []string
}

func NewHeader(columns []string) map[string]int {
	h := make(map[string]int, len(columns))
	for i, c := range columns {
		h[strings.TrimSpace(c)] = i
	}
	return h
}

func (r Row) Lookup(key string, _ int) (any, bool) {
	i, ok := r.Header[key]
	if !ok || i >= len(r.Record) {
		return nil, false
	}
	v := strings.TrimSpace(r.Record[i])
	if v == "" {
		return nil, false
	}
	return v, true
}

// ParsePayload prepares a container payload for the descriptor's format.
func (d Descriptor) ParsePayload(payload any) (Source, error) {
	switch d.Format {
	case FormatText:
		sep := d.Separator
		if sep == "" {
			sep = ","
		}
		return Text(strings.Split(PayloadString(payload), sep)), nil
	case FormatJSON:
		return parseObject(payload)
	}
	return nil, fmt.Errorf("%w: format %d cannot be parsed from a payload", ErrInvalidFormat, d.Format)
}

func parseObject(payload any) (Object, error) {
	switch v := payload.(type) {
	case map[string]any:
		return Object(v), nil
	case bson.M:
		return Object(v), nil
	case Object:
		return v, nil
	case []byte:
		return decodeJSONObject(v)
	case string:
		return decodeJSONObject([]byte(v))
	case nil:
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFormat)
	}
	return nil, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidFormat, payload)
}

func decodeJSONObject(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err.Error())
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrInvalidFormat)
	}
	return Object(obj), nil
}

// PayloadString renders a payload as text, used for text formats and unknown records.
func PayloadString(payload any) string {
	switch v := payload.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case nil:
		return ""
	case map[string]any, bson.M:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
