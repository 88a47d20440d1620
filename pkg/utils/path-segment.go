package utils

import "regexp"

var pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// IsSafePathSegment reports whether value can be joined onto a filesystem root
// without escaping it (participant ids become directory names).
func IsSafePathSegment(value string) bool {
	if value == "" || value == "." || value == ".." {
		return false
	}
	return pathSegmentPattern.MatchString(value)
}
