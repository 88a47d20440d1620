package classifier

import (
	"log/slog"
	"math"

	"github.com/case-framework/case-sensing/pkg/sensing/mapping"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/case-framework/case-sensing/pkg/utils"
	"github.com/coder/quartz"
	"go.mongodb.org/mongo-driver/bson"
)

// Classifier routes raw container records to typed events by their type code.
type Classifier struct {
	table map[int]mapping.Descriptor
	names types.CollectionNames
	clock quartz.Clock
}

func New(names types.CollectionNames, clock quartz.Clock) *Classifier {
	if names == nil {
		names = types.DefaultCollectionNames()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Classifier{
		table: DefaultTable(),
		names: names,
		clock: clock,
	}
}

// Classify never fails: records that cannot be decoded become Unknown events.
func (c *Classifier) Classify(uid string, rec types.RawRecord) types.Event {
	processedAt := float64(c.clock.Now().UnixMilli()) / 1000

	rowTimestamp, err := utils.NormalizeTimestamp(rec.Timestamp)
	if err != nil {
		slog.Warn("invalid record timestamp", slog.String("uid", uid), slog.Int("typeCode", rec.TypeCode), slog.String("error", err.Error()))
		return c.unknown(uid, rec, 0, processedAt)
	}

	d, ok := c.table[rec.TypeCode]
	if !ok {
		return c.unknown(uid, rec, rowTimestamp, processedAt)
	}

	ts, fields, err := decode(d, rec.Payload, rowTimestamp)
	if err != nil {
		slog.Warn("malformed record payload, storing as unknown", slog.String("uid", uid), slog.Int("typeCode", rec.TypeCode), slog.String("error", err.Error()))
		return c.unknown(uid, rec, rowTimestamp, processedAt)
	}

	return types.Event{
		Kind:        d.Kind,
		Collection:  c.names.Name(d.Collection),
		UID:         uid,
		Timestamp:   ts,
		EventID:     rec.TypeCode,
		Fields:      fields,
		ProcessedAt: processedAt,
	}
}

func decode(d mapping.Descriptor, payload any, rowTimestamp float64) (float64, bson.D, error) {
	src, err := d.ParsePayload(payload)
	if err != nil {
		return 0, nil, err
	}
	return d.Decode(src, rowTimestamp)
}

func (c *Classifier) unknown(uid string, rec types.RawRecord, ts float64, processedAt float64) types.Event {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		ts = 0
	}
	fields := bson.D{{Key: "raw_data", Value: mapping.PayloadString(rec.Payload)}}
	if ts == 0 && rec.Timestamp != nil {
		fields = append(fields, bson.E{Key: "raw_timestamp", Value: mapping.PayloadString(rec.Timestamp)})
	}
	return types.Event{
		Kind:        types.KindUnknown,
		Collection:  c.names.Name(types.CollUnknown),
		UID:         uid,
		Timestamp:   ts,
		EventID:     rec.TypeCode,
		Fields:      fields,
		ProcessedAt: processedAt,
	}
}
