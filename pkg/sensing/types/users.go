package types

import (
	"reflect"
	"strings"
)

// LoginTimeSuffix marks the per device login history arrays of a user document,
// e.g. "ios_login_time" or "garmin_login_time".
const LoginTimeSuffix = "_login_time"

// HasLoginActivity reports whether a user document has at least one non-empty login history.
func HasLoginActivity(user map[string]any) bool {
	for k, v := range user {
		if !strings.HasSuffix(k, LoginTimeSuffix) || v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
			return true
		}
	}
	return false
}
