package types

import (
	"go.mongodb.org/mongo-driver/bson"
)

type Kind string

const (
	KindLocation      Kind = "location"
	KindActivity      Kind = "activity"
	KindSteps         Kind = "steps"
	KindBattery       Kind = "battery"
	KindWifi          Kind = "wifi"
	KindBluetooth     Kind = "bluetooth"
	KindBrightness    Kind = "brightness"
	KindLockUnlock    Kind = "lock_unlock"
	KindAccelerometer Kind = "accelerometer"
	KindCallLog       Kind = "call_log"
	KindHeartRate     Kind = "heart_rate"
	KindStress        Kind = "stress"
	KindRespiration   Kind = "respiration"
	KindInterBeat     Kind = "inter_beat_interval"
	KindAppUsage      Kind = "app_usage"
	KindEMAResponse   Kind = "ema_response"
	KindEMAStatus     Kind = "ema_status"
	KindNotification  Kind = "notification"
	KindUnknown       Kind = "unknown"
)

// RawRecord is one row of an on-device container table: (id, id, timestamp, type code, payload).
// Payload may be []byte, string or an already decoded map.
type RawRecord struct {
	ID1       any
	ID2       any
	Timestamp any
	TypeCode  int
	Payload   any
}

// Event is a classified record ready to be written to its destination collection.
type Event struct {
	Kind        Kind
	Collection  string
	UID         string
	Timestamp   float64
	EventID     int
	Fields      bson.D
	ProcessedAt float64
}

// Document renders the event in stored field order: uid, timestamp, event_id, payload fields, processed_at.
func (e Event) Document() bson.D {
	doc := make(bson.D, 0, len(e.Fields)+4)
	doc = append(doc,
		bson.E{Key: "uid", Value: e.UID},
		bson.E{Key: "timestamp", Value: e.Timestamp},
		bson.E{Key: "event_id", Value: e.EventID},
	)
	doc = append(doc, e.Fields...)
	doc = append(doc, bson.E{Key: "processed_at", Value: e.ProcessedAt})
	return doc
}

// Field returns the value of a payload field.
func (e Event) Field(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}
