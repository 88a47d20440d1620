package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/case-framework/case-sensing/pkg/db"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/case-framework/case-sensing/pkg/utils"
	"gopkg.in/yaml.v2"

	sensingDB "github.com/case-framework/case-sensing/pkg/db/sensing"
)

// Environment variables
const (
	ENV_CONFIG_FILE_PATH = "CONFIG_FILE_PATH"
)

const sensingDBConfigName = "sensing_db"

type config struct {
	// Logging configs
	Logging utils.LoggerConfig `json:"logging" yaml:"logging"`

	// DB configs
	DBConfigs struct {
		SensingDB db.DBConfigYaml `json:"sensing_db" yaml:"sensing_db"`
	} `json:"db_configs" yaml:"db_configs"`

	StudyKeys   []string          `json:"study_keys" yaml:"study_keys"`
	Collections map[string]string `json:"collections" yaml:"collections"`

	// Task configurations
	TaskConfigs TaskConfigs `json:"task_configs" yaml:"task_configs"`
}

type TaskConfigs struct {
	DropIndexes   DropIndexesMode `json:"drop_indexes" yaml:"drop_indexes"`
	CreateIndexes bool            `json:"create_indexes" yaml:"create_indexes"`
	GetIndexes    bool            `json:"get_indexes" yaml:"get_indexes"`
}

type DropIndexesMode string

const (
	DropIndexesModeAll      DropIndexesMode = "all"
	DropIndexesModeDefaults DropIndexesMode = "defaults"
	DropIndexesModeNone     DropIndexesMode = "none"
)

func (mode DropIndexesMode) IsValid() bool {
	switch mode {
	case DropIndexesModeAll, DropIndexesModeDefaults, DropIndexesModeNone:
		return true
	default:
		return false
	}
}

var conf config

// one service per study, each study has its own sensing database
var sensingDBServices = map[string]*sensingDB.SensingDBService{}

func init() {
	conf.TaskConfigs.DropIndexes = DropIndexesModeNone

	// Read config from file
	yamlFile, err := os.ReadFile(os.Getenv(ENV_CONFIG_FILE_PATH))
	if err != nil {
		panic(err)
	}

	err = yaml.UnmarshalStrict(yamlFile, &conf)
	if err != nil {
		panic(err)
	}

	validateConfig()

	// Init logger:
	utils.InitLogger(conf.Logging)

	// Override secrets from environment variables
	secretsOverride()

	// init db
	initDBs()
}

func validateConfig() {
	if !conf.TaskConfigs.DropIndexes.IsValid() {
		panic(fmt.Sprintf("invalid drop indexes mode: %q. Use one of: %v", conf.TaskConfigs.DropIndexes, []DropIndexesMode{DropIndexesModeAll, DropIndexesModeDefaults, DropIndexesModeNone}))
	}
	if len(conf.StudyKeys) == 0 {
		panic("study_keys must list at least one study")
	}
}

func secretsOverride() {
	userEnv, passwordEnv := utils.DBSecretEnvVarNames(sensingDBConfigName)
	conf.DBConfigs.SensingDB.Username = utils.EnvOverride(userEnv, conf.DBConfigs.SensingDB.Username)
	conf.DBConfigs.SensingDB.Password = utils.EnvOverride(passwordEnv, conf.DBConfigs.SensingDB.Password)
}

func initDBs() {
	names, err := types.DefaultCollectionNames().WithOverrides(conf.Collections)
	if err != nil {
		slog.Error("Error reading collection names", slog.String("error", err.Error()))
		panic(err)
	}

	for _, studyKey := range conf.StudyKeys {
		dbConfig := db.DBConfigFromYamlObj(conf.DBConfigs.SensingDB, studyKey)
		// indexes are handled by the tasks below
		dbConfig.RunIndexCreation = false

		service, err := sensingDB.NewSensingDBService(dbConfig, names)
		if err != nil {
			slog.Error("Error connecting to Sensing DB", slog.String("studyKey", studyKey), slog.String("error", err.Error()))
			panic(err)
		}
		sensingDBServices[studyKey] = service
	}

	slog.Info("Database connections established", slog.Any("studyKeys", conf.StudyKeys))
}
