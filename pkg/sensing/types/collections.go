package types

import "fmt"

// CollectionKey is the logical name of a destination. The physical collection name
// comes from configuration.
type CollectionKey string

const (
	CollLocation            CollectionKey = "ios_location"
	CollActivity            CollectionKey = "ios_activity"
	CollSteps               CollectionKey = "ios_steps"
	CollBattery             CollectionKey = "ios_battery"
	CollWifi                CollectionKey = "ios_wifi"
	CollBluetooth           CollectionKey = "ios_bluetooth"
	CollBrightness          CollectionKey = "ios_brightness"
	CollLockUnlock          CollectionKey = "ios_lock_unlock"
	CollAccelerometer       CollectionKey = "ios_accelerometer"
	CollCallLog             CollectionKey = "ios_calllog"
	CollGarminHR            CollectionKey = "garmin_hr"
	CollGarminStress        CollectionKey = "garmin_stress"
	CollGarminAccelerometer CollectionKey = "garmin_accelerometer"
	CollGarminIBI           CollectionKey = "garmin_ibi"
	CollGarminRespiration   CollectionKey = "garmin_respiration"
	CollGarminSteps         CollectionKey = "garmin_steps"
	CollAppUsage            CollectionKey = "app_usage_logs"
	CollEMAResponse         CollectionKey = "ema_response"
	CollEMAStatus           CollectionKey = "ema_status_events"
	CollNotification        CollectionKey = "notification_events"
	CollUnknown             CollectionKey = "unknown_events_data"
	CollDailySummaries      CollectionKey = "daily_summaries"
	CollFileFailures        CollectionKey = "ingest_file_failures"
	CollUsers               CollectionKey = "users"
)

var AllCollectionKeys = []CollectionKey{
	CollLocation, CollActivity, CollSteps, CollBattery, CollWifi, CollBluetooth,
	CollBrightness, CollLockUnlock, CollAccelerometer, CollCallLog,
	CollGarminHR, CollGarminStress, CollGarminAccelerometer, CollGarminIBI,
	CollGarminRespiration, CollGarminSteps,
	CollAppUsage, CollEMAResponse, CollEMAStatus, CollNotification,
	CollUnknown, CollDailySummaries, CollFileFailures, CollUsers,
}

var (
	keysUIDTimestamp        = []string{"uid", "timestamp"}
	keysUIDTimestampEventID = []string{"uid", "timestamp", "event_id"}
)

// UniqueKeys lists the fields of the unique compound index of each collection.
// Re-ingesting the same source produces no new documents because of these.
var UniqueKeys = map[CollectionKey][]string{
	CollLocation:            keysUIDTimestampEventID,
	CollWifi:                keysUIDTimestampEventID,
	CollUnknown:             keysUIDTimestampEventID,
	CollSteps:               {"uid", "start_timestamp"},
	CollActivity:            keysUIDTimestamp,
	CollBattery:             keysUIDTimestamp,
	CollBluetooth:           keysUIDTimestamp,
	CollBrightness:          keysUIDTimestamp,
	CollLockUnlock:          keysUIDTimestamp,
	CollAccelerometer:       keysUIDTimestamp,
	CollCallLog:             keysUIDTimestamp,
	CollGarminHR:            keysUIDTimestamp,
	CollGarminStress:        keysUIDTimestamp,
	CollGarminAccelerometer: keysUIDTimestamp,
	CollGarminIBI:           keysUIDTimestamp,
	CollGarminRespiration:   keysUIDTimestamp,
	CollGarminSteps:         keysUIDTimestamp,
	CollAppUsage:            keysUIDTimestamp,
	CollEMAResponse:         keysUIDTimestamp,
	CollEMAStatus:           keysUIDTimestamp,
	CollNotification:        keysUIDTimestamp,
	CollDailySummaries:      {"uid", "date"},
	CollFileFailures:        {"path"},
	CollUsers:               {"uid"},
}

// CollectionNames maps logical collections to physical names.
type CollectionNames map[CollectionKey]string

func DefaultCollectionNames() CollectionNames {
	names := make(CollectionNames, len(AllCollectionKeys))
	for _, k := range AllCollectionKeys {
		names[k] = string(k)
	}
	return names
}

// WithOverrides returns a copy of the default names with the given entries replaced.
// Unknown keys and empty names are rejected.
func (c CollectionNames) WithOverrides(overrides map[string]string) (CollectionNames, error) {
	out := make(CollectionNames, len(c))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		key := CollectionKey(k)
		if _, ok := UniqueKeys[key]; !ok {
			return nil, fmt.Errorf("unknown collection key %q", k)
		}
		if v == "" {
			return nil, fmt.Errorf("empty collection name for %q", k)
		}
		out[key] = v
	}
	return out, nil
}

// Name returns the physical name, falling back to the key itself.
func (c CollectionNames) Name(key CollectionKey) string {
	if n, ok := c[key]; ok && n != "" {
		return n
	}
	return string(key)
}

// KeyOf resolves a physical name back to its logical collection.
func (c CollectionNames) KeyOf(name string) (CollectionKey, bool) {
	for _, k := range AllCollectionKeys {
		if c.Name(k) == name {
			return k, true
		}
	}
	return "", false
}
