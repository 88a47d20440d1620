package classifier

import (
	"github.com/case-framework/case-sensing/pkg/sensing/mapping"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"go.mongodb.org/mongo-driver/bson"
)

// on-device type codes
const (
	CodeBatteryLevel     = 11
	CodeBatteryState     = 111
	CodeBrightness       = 13
	CodeLockUnlock       = 14
	CodeActivity         = 16
	CodeWifiNetwork      = 18
	CodeWifiState        = 181
	CodeBluetooth        = 19
	CodeSteps            = 21
	CodeCallLog          = 23
	CodeLocationCoarse   = 151
	CodeLocation         = 152
	CodeGarminHeartRate  = 442
	CodeGarminStress     = 443
	CodeAccelerometer    = 447
	CodeAppUsage         = 501
	CodeEMAResponse      = 502
	CodeEMAStatus        = 503
	CodeNotificationInfo = 504
)

var locationDescriptor = mapping.Descriptor{
	Kind:       types.KindLocation,
	Collection: types.CollLocation,
	Format:     mapping.FormatJSON,
	Fields: []mapping.FieldSpec{
		{Key: "latitude", Target: "latitude", Coerce: mapping.AsFloat, Required: true},
		{Key: "longitude", Target: "longitude", Coerce: mapping.AsFloat, Required: true},
		{Key: "accuracy", Target: "accuracy", Coerce: mapping.AsFloat},
		{Key: "altitude", Target: "altitude", Coerce: mapping.AsFloat},
	},
}

var batteryDescriptor = mapping.Descriptor{
	Kind:       types.KindBattery,
	Collection: types.CollBattery,
	Format:     mapping.FormatJSON,
	Fields: []mapping.FieldSpec{
		{Key: "battery_left", Target: "battery_left", Coerce: mapping.AsInt, OmitIfMissing: true},
		{Key: "battery_state", Target: "battery_state", Coerce: mapping.AsInt, OmitIfMissing: true},
	},
}

var defaultTable = map[int]mapping.Descriptor{
	CodeLocationCoarse: locationDescriptor,
	CodeLocation:       locationDescriptor,
	CodeActivity: {
		Kind:       types.KindActivity,
		Collection: types.CollActivity,
		Format:     mapping.FormatText,
		Fields: []mapping.FieldSpec{
			{Index: 0, Target: "activity", Coerce: mapping.AsWords},
			{Index: 1, Target: "confidence", Coerce: mapping.AsFloat},
		},
	},
	CodeSteps: {
		Kind:       types.KindSteps,
		Collection: types.CollSteps,
		Format:     mapping.FormatText,
		Fields: []mapping.FieldSpec{
			{Target: "start_timestamp", FromEventTimestamp: true},
			{Index: 0, Target: "end_timestamp", Coerce: mapping.AsTimestamp, DefaultToEventTimestamp: true},
			{Index: 1, Target: "steps", Coerce: mapping.AsInt},
			{Index: 2, Target: "distance", Coerce: mapping.AsFloat},
			{Index: 3, Target: "floors_ascended", Coerce: mapping.AsFloat},
			{Index: 4, Target: "floors_descended", Coerce: mapping.AsFloat},
		},
	},
	CodeBatteryLevel: batteryDescriptor,
	CodeBatteryState: batteryDescriptor,
	CodeWifiNetwork: {
		Kind:       types.KindWifi,
		Collection: types.CollWifi,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "bssid", Target: "bssid", Coerce: mapping.AsString},
			{Key: "ssid", Target: "ssid", Coerce: mapping.AsString},
		},
	},
	CodeWifiState: {
		Kind:       types.KindWifi,
		Collection: types.CollWifi,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "wifi_enabled", Target: "wifi_enabled", Coerce: mapping.AsInt},
			{Key: "wifi_connected", Target: "wifi_connected", Coerce: mapping.AsInt, OmitIfMissing: true},
		},
	},
	CodeBluetooth: {
		Kind:       types.KindBluetooth,
		Collection: types.CollBluetooth,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "bt_address", Target: "bt_address", Coerce: mapping.AsString},
			{Key: "bt_rssi", Target: "bt_rssi", Coerce: mapping.AsInt},
			{Key: "bt_name", Target: "bt_name", Coerce: mapping.AsString},
		},
	},
	CodeBrightness: {
		Kind:       types.KindBrightness,
		Collection: types.CollBrightness,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "brightness", Target: "brightness", Coerce: mapping.AsFloat},
		},
	},
	CodeLockUnlock: {
		Kind:       types.KindLockUnlock,
		Collection: types.CollLockUnlock,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "LockState", Target: "lock_state", Coerce: mapping.AsInt},
		},
	},
	CodeAccelerometer: {
		Kind:         types.KindAccelerometer,
		Collection:   types.CollAccelerometer,
		Format:       mapping.FormatJSON,
		TimestampKey: "timestamp",
		Fields: []mapping.FieldSpec{
			{Key: "x", Target: "x", Coerce: mapping.AsFloat},
			{Key: "y", Target: "y", Coerce: mapping.AsFloat},
			{Key: "z", Target: "z", Coerce: mapping.AsFloat},
		},
	},
	CodeCallLog: {
		Kind:       types.KindCallLog,
		Collection: types.CollCallLog,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "timestamp", Target: "call_timestamp", Coerce: mapping.AsTimestamp},
			{Key: "callId", Target: "callId", Coerce: mapping.AsString},
			{Key: "callType", Target: "callType", Coerce: mapping.AsString},
			{Key: "duration", Target: "duration", Coerce: mapping.AsFloat},
		},
	},
	CodeGarminHeartRate: {
		Kind:         types.KindHeartRate,
		Collection:   types.CollGarminHR,
		Format:       mapping.FormatJSON,
		TimestampKey: "timestamp",
		Fields: []mapping.FieldSpec{
			{Key: "heart_rate", Target: "heart_rate", Coerce: mapping.AsFloat},
			{Key: "status", Target: "status", Coerce: mapping.AsString},
			{Key: "device", Target: "device", Coerce: mapping.AsString},
		},
	},
	CodeGarminStress: {
		Kind:         types.KindStress,
		Collection:   types.CollGarminStress,
		Format:       mapping.FormatJSON,
		TimestampKey: "timestamp",
		Fields: []mapping.FieldSpec{
			{Key: "stress", Target: "stress", Coerce: mapping.AsFloat},
			{Key: "status", Target: "status", Coerce: mapping.AsString},
			{Key: "device", Target: "device", Coerce: mapping.AsString},
		},
	},
	CodeAppUsage: {
		Kind:       types.KindAppUsage,
		Collection: types.CollAppUsage,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "appName", Target: "appName", Coerce: mapping.AsString},
			{Key: "status", Target: "status", Coerce: mapping.AsString},
		},
	},
	CodeEMAResponse: {
		Kind:       types.KindEMAResponse,
		Collection: types.CollEMAResponse,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "ema_id", Target: "ema_id", Coerce: mapping.AsString},
			{Key: "questions", Target: "questions", Coerce: mapping.AsRaw, Default: bson.M{}},
		},
	},
	CodeEMAStatus: {
		Kind:       types.KindEMAStatus,
		Collection: types.CollEMAStatus,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "ema_id", Target: "ema_id", Coerce: mapping.AsString},
			{Key: "status", Target: "status", Coerce: mapping.AsString},
		},
	},
	CodeNotificationInfo: {
		Kind:       types.KindNotification,
		Collection: types.CollNotification,
		Format:     mapping.FormatJSON,
		Fields: []mapping.FieldSpec{
			{Key: "notification_id", Target: "notification_id", Coerce: mapping.AsString},
			{Key: "status", Target: "status", Coerce: mapping.AsString},
			{Key: "expectedScheduledTime", Target: "expectedScheduledTime", Coerce: mapping.AsRaw, Default: ""},
			{Key: "type", Target: "type", Coerce: mapping.AsRaw, Default: ""},
		},
	},
}

// DefaultTable returns a copy of the built-in type code table.
func DefaultTable() map[int]mapping.Descriptor {
	out := make(map[int]mapping.Descriptor, len(defaultTable))
	for code, d := range defaultTable {
		out[code] = d
	}
	return out
}
