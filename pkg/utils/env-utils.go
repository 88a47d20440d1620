package utils

import (
	"os"
	"regexp"
	"strings"
)

var envVarNameInvalidChars = regexp.MustCompile(`[^A-Z0-9]+`)

// GenerateEnvVarName generates a standardized environment variable name from a given string.
// It converts the input to uppercase and replaces any non-alphanumeric characters with underscores.
func GenerateEnvVarName(input string) string {
	normalized := envVarNameInvalidChars.ReplaceAllString(strings.ToUpper(input), "_")
	return strings.Trim(normalized, "_")
}

// DBSecretEnvVarNames returns the username and password variable names for a named db config,
// e.g. "sensing_db" -> SENSING_DB_USERNAME, SENSING_DB_PASSWORD
func DBSecretEnvVarNames(dbName string) (string, string) {
	prefix := GenerateEnvVarName(dbName)
	return prefix + "_USERNAME", prefix + "_PASSWORD"
}

// EnvOverride returns the value of the environment variable if it is set and not empty, otherwise current.
func EnvOverride(name string, current string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return current
}
