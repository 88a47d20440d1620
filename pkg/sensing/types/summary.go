package types

import "time"

type AppEventCounts struct {
	Open  int `bson:"open" json:"open"`
	Close int `bson:"close" json:"close"`
}

// DailySummary is the per user per day aggregate. Durations are in hours, distance in meters.
type DailySummary struct {
	UID                string                    `bson:"uid" json:"uid"`
	Date               float64                   `bson:"date" json:"date"`
	DateStr            string                    `bson:"date_str" json:"date_str"`
	Distance           float64                   `bson:"distance" json:"distance"`
	LocationDuration   float64                   `bson:"location_duration" json:"location_duration"`
	GarminWearDuration float64                   `bson:"garmin_wear_duration" json:"garmin_wear_duration"`
	GarminOnDuration   float64                   `bson:"garmin_on_duration" json:"garmin_on_duration"`
	ScheduledEMAs      []string                  `bson:"scheduled_emas" json:"scheduled_emas"`
	CompletedEMAs      []string                  `bson:"completed_emas" json:"completed_emas"`
	DepressionScores   map[string]float64        `bson:"depression_scores" json:"depression_scores"`
	TotalAppEvents     int                       `bson:"total_app_events" json:"total_app_events"`
	AppEventsInfo      map[string]AppEventCounts `bson:"app_events_info" json:"app_events_info"`
	GeneratedAt        time.Time                 `bson:"generated_at" json:"generated_at"`
}

const DateStrFormat = "2006-01-02"

// FileFailure tracks consecutive ingest failures of one uploaded file.
type FileFailure struct {
	Path        string    `bson:"path"`
	UID         string    `bson:"uid"`
	Attempts    int       `bson:"attempts"`
	LastError   string    `bson:"last_error"`
	LastAttempt time.Time `bson:"last_attempt"`
}
