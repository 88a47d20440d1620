package types

import "go.mongodb.org/mongo-driver/bson"

// Read-side shapes of the stored collections. The dashboard reads these fields.

type LocationFix struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
	Accuracy  float64 `bson:"accuracy"`
	Altitude  float64 `bson:"altitude"`
}

type StepsRecord struct {
	UID             string  `bson:"uid"`
	Timestamp       float64 `bson:"timestamp"`
	StartTimestamp  float64 `bson:"start_timestamp"`
	EndTimestamp    float64 `bson:"end_timestamp"`
	EventID         int     `bson:"event_id"`
	Steps           int64   `bson:"steps"`
	Distance        float64 `bson:"distance"`
	FloorsAscended  float64 `bson:"floors_ascended"`
	FloorsDescended float64 `bson:"floors_descended"`
}

type HeartRateSample struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	HeartRate float64 `bson:"heart_rate"`
	Status    string  `bson:"status"`
	Device    string  `bson:"device,omitempty"`
}

type StressSample struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	Stress    float64 `bson:"stress"`
	Status    string  `bson:"status"`
	Device    string  `bson:"device,omitempty"`
}

type AppUsageEvent struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	AppName   string  `bson:"appName"`
	Status    string  `bson:"status"`
}

type EMAStatusEvent struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	EMAID     string  `bson:"ema_id"`
	Status    string  `bson:"status"`
}

// EMAResponse keeps every stored field so score keys can be looked up at the top level.
type EMAResponse struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	EMAID     string  `bson:"ema_id"`
	Questions bson.M  `bson:"questions"`
	Extra     bson.M  `bson:",inline"`
}

type UnknownEvent struct {
	UID       string  `bson:"uid"`
	Timestamp float64 `bson:"timestamp"`
	EventID   int     `bson:"event_id"`
	RawData   string  `bson:"raw_data"`
}

const (
	EMAStatusScheduled = "scheduled"
	EMAStatusCompleted = "completed"

	AppStatusOpen = "open"
)
