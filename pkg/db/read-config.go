package db

import (
	"fmt"
)

const (
	defaultTimeout         = 30
	defaultIdleConnTimeout = 45
	defaultMaxPoolSize     = 8
)

// DBConfigFromYamlObj builds the connection settings for one study's database from
// the yaml section of a job config. Credentials are optional so a local mongod
// without auth can be used in development.
func DBConfigFromYamlObj(yamlObj DBConfigYaml, studyKey string) DBConfig {
	URI := fmt.Sprintf(`mongodb%s://%s`, yamlObj.ConnectionPrefix, yamlObj.ConnectionStr)
	if yamlObj.Username != "" && yamlObj.Password != "" {
		URI = fmt.Sprintf(`mongodb%s://%s:%s@%s`, yamlObj.ConnectionPrefix, yamlObj.Username, yamlObj.Password, yamlObj.ConnectionStr)
	}

	timeout := yamlObj.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	idleConnTimeout := yamlObj.IdleConnTimeout
	if idleConnTimeout <= 0 {
		idleConnTimeout = defaultIdleConnTimeout
	}
	maxPoolSize := yamlObj.MaxPoolSize
	if maxPoolSize <= 0 {
		maxPoolSize = defaultMaxPoolSize
	}

	return DBConfig{
		URI:              URI,
		Timeout:          timeout,
		IdleConnTimeout:  idleConnTimeout,
		MaxPoolSize:      uint64(maxPoolSize),
		NoCursorTimeout:  yamlObj.UseNoCursorTimeout,
		DBNamePrefix:     yamlObj.DBNamePrefix,
		StudyKey:         studyKey,
		RunIndexCreation: yamlObj.RunIndexCreation,
	}
}
