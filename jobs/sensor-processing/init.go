package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/case-framework/case-sensing/pkg/db"
	"github.com/case-framework/case-sensing/pkg/sensing/aggregator"
	"github.com/case-framework/case-sensing/pkg/sensing/batch"
	"github.com/case-framework/case-sensing/pkg/sensing/decoder"
	"github.com/case-framework/case-sensing/pkg/sensing/runner"
	"github.com/case-framework/case-sensing/pkg/sensing/types"
	"github.com/case-framework/case-sensing/pkg/utils"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	sensingDB "github.com/case-framework/case-sensing/pkg/db/sensing"
)

// Environment variables
const (
	ENV_CONFIG_FILE_PATH = "CONFIG_FILE_PATH"

	// Run selection without editing the config file
	ENV_BACKFILL_DATE = "BACKFILL_DATE"
	ENV_BACKFILL_USER = "BACKFILL_USER"
)

const sensingDBConfigName = "sensing_db"

type config struct {
	// Logging configs
	Logging utils.LoggerConfig `json:"logging" yaml:"logging"`

	// DB configs
	DBConfigs struct {
		SensingDB db.DBConfigYaml `json:"sensing_db" yaml:"sensing_db"`
	} `json:"db_configs" yaml:"db_configs"`

	StudyKey string `json:"study_key" yaml:"study_key"`

	// logical collection key -> physical collection name
	Collections map[string]string `json:"collections" yaml:"collections"`

	Paths struct {
		Upload      string `json:"upload" yaml:"upload"`
		Processed   string `json:"processed" yaml:"processed"`
		Exceptions  string `json:"exceptions" yaml:"exceptions"`
		DecoderWork string `json:"decoder_work" yaml:"decoder_work"`
	} `json:"paths" yaml:"paths"`

	RunTasks []runner.Task `json:"run_tasks" yaml:"run_tasks"`
	// cron spec, e.g. "@every 1h" or "15 * * * *"; empty runs once and exits
	Schedule string `json:"schedule" yaml:"schedule"`
	Timezone string `json:"timezone" yaml:"timezone"`

	Ingestion struct {
		Workers         int    `json:"workers" yaml:"workers"`
		BatchSize       int    `json:"batch_size" yaml:"batch_size"`
		User            string `json:"user" yaml:"user"`
		MaxFileAttempts int    `json:"max_file_attempts" yaml:"max_file_attempts"`
	} `json:"ingestion" yaml:"ingestion"`

	Decoder struct {
		Command        []string `json:"command" yaml:"command"`
		TypesToProcess []string `json:"types_to_process" yaml:"types_to_process"`
		DateTimeFormat string   `json:"date_time_format" yaml:"date_time_format"`
		Timeout        string   `json:"timeout" yaml:"timeout"`
		Layout         string   `json:"layout" yaml:"layout"`
	} `json:"decoder" yaml:"decoder"`

	Summaries struct {
		Lookback             string   `json:"lookback" yaml:"lookback"`
		LocationGapThreshold string   `json:"location_gap_threshold" yaml:"location_gap_threshold"`
		WearSamplesPerHour   float64  `json:"wear_samples_per_hour" yaml:"wear_samples_per_hour"`
		LocationEventCodes   []int    `json:"location_event_codes" yaml:"location_event_codes"`
		EMAScoreKeys         []string `json:"ema_score_keys" yaml:"ema_score_keys"`
	} `json:"summaries" yaml:"summaries"`

	Backfill struct {
		Date string `json:"date" yaml:"date"`
		User string `json:"user" yaml:"user"`
	} `json:"backfill" yaml:"backfill"`
}

var conf config

var (
	sensingDBService *sensingDB.SensingDBService
	collectionNames  types.CollectionNames
	location         *time.Location

	runnerConfig     runner.Config
	decoderConfig    decoder.Config
	aggregatorConfig aggregator.Config
)

func defaultConfig() config {
	c := config{}
	c.RunTasks = runner.AllTasks
	c.Timezone = "Local"
	c.Ingestion.Workers = 1
	c.Ingestion.BatchSize = batch.DefaultBatchSize
	c.Decoder.Timeout = decoder.DefaultTimeout.String()
	c.Decoder.Layout = decoder.LayoutV1
	c.Summaries.Lookback = runner.DefaultLookback.String()
	c.Summaries.LocationGapThreshold = aggregator.DefaultLocationGapThreshold.String()
	c.Summaries.WearSamplesPerHour = aggregator.DefaultWearSamplesPerHour
	return c
}

func init() {
	conf = defaultConfig()

	// Read config from file
	yamlFile, err := os.ReadFile(os.Getenv(ENV_CONFIG_FILE_PATH))
	if err != nil {
		panic(err)
	}

	err = yaml.UnmarshalStrict(yamlFile, &conf)
	if err != nil {
		panic(err)
	}

	// Init logger:
	utils.InitLogger(conf.Logging)

	// Override secrets from environment variables
	secretsOverride()

	if err := buildRunConfigs(); err != nil {
		slog.Error("Error reading config", slog.String("error", err.Error()))
		panic(err)
	}

	// init db
	initDBs()
}

func secretsOverride() {
	userEnv, passwordEnv := utils.DBSecretEnvVarNames(sensingDBConfigName)
	conf.DBConfigs.SensingDB.Username = utils.EnvOverride(userEnv, conf.DBConfigs.SensingDB.Username)
	conf.DBConfigs.SensingDB.Password = utils.EnvOverride(passwordEnv, conf.DBConfigs.SensingDB.Password)

	conf.Backfill.Date = utils.EnvOverride(ENV_BACKFILL_DATE, conf.Backfill.Date)
	conf.Backfill.User = utils.EnvOverride(ENV_BACKFILL_USER, conf.Backfill.User)
}

func buildRunConfigs() error {
	if conf.StudyKey == "" {
		return fmt.Errorf("study_key must be set")
	}
	for _, task := range conf.RunTasks {
		if !task.IsValid() {
			return fmt.Errorf("invalid run task %q. Use one of: %v", task, runner.AllTasks)
		}
	}
	if conf.Ingestion.User != "" && !utils.IsSafePathSegment(conf.Ingestion.User) {
		return fmt.Errorf("invalid ingestion user %q", conf.Ingestion.User)
	}
	if conf.Schedule != "" {
		if _, err := cron.ParseStandard(conf.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", conf.Schedule, err)
		}
	}

	var err error
	location, err = time.LoadLocation(conf.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	collectionNames, err = types.DefaultCollectionNames().WithOverrides(conf.Collections)
	if err != nil {
		return err
	}

	if conf.Paths.Upload == "" || conf.Paths.Processed == "" {
		return fmt.Errorf("paths.upload and paths.processed must be set")
	}
	if conf.Ingestion.MaxFileAttempts > 0 && conf.Paths.Exceptions == "" {
		return fmt.Errorf("paths.exceptions must be set when max_file_attempts is used")
	}

	if err := decoder.ValidateDateTimeFormat(conf.Decoder.DateTimeFormat); err != nil {
		return fmt.Errorf("decoder.date_time_format: %w", err)
	}
	decoderTimeout, err := utils.ParseDurationString(conf.Decoder.Timeout)
	if err != nil {
		return fmt.Errorf("decoder.timeout: %w", err)
	}
	decoderWork := conf.Paths.DecoderWork
	if decoderWork == "" {
		decoderWork = os.TempDir()
	}
	decoderConfig = decoder.Config{
		Command:        conf.Decoder.Command,
		TypesToProcess: conf.Decoder.TypesToProcess,
		DateTimeFormat: conf.Decoder.DateTimeFormat,
		Timeout:        decoderTimeout,
		WorkDir:        decoderWork,
		Layout:         conf.Decoder.Layout,
	}
	if len(decoderConfig.Command) == 0 && hasTask(runner.TaskDecodeTelemetry) {
		return fmt.Errorf("decoder.command must be set for %s", runner.TaskDecodeTelemetry)
	}

	gapThreshold, err := utils.ParseDurationString(conf.Summaries.LocationGapThreshold)
	if err != nil {
		return fmt.Errorf("summaries.location_gap_threshold: %w", err)
	}
	aggregatorConfig = aggregator.Config{
		LocationGapThreshold: gapThreshold,
		WearSamplesPerHour:   conf.Summaries.WearSamplesPerHour,
		LocationEventCodes:   conf.Summaries.LocationEventCodes,
		EMAScoreKeys:         conf.Summaries.EMAScoreKeys,
	}

	lookback, err := utils.ParseDurationString(conf.Summaries.Lookback)
	if err != nil {
		return fmt.Errorf("summaries.lookback: %w", err)
	}
	runnerConfig = runner.Config{
		Tasks:        conf.RunTasks,
		Workers:      conf.Ingestion.Workers,
		BatchSize:    conf.Ingestion.BatchSize,
		IngestUser:   conf.Ingestion.User,
		BackfillUser: conf.Backfill.User,
		Lookback:     lookback,
		Location:     location,
	}
	if conf.Backfill.Date != "" {
		runnerConfig.BackfillDate, err = aggregator.ParseDay(conf.Backfill.Date, location)
		if err != nil {
			return fmt.Errorf("backfill.date must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}

func hasTask(task runner.Task) bool {
	for _, t := range conf.RunTasks {
		if t == task {
			return true
		}
	}
	return false
}

func initDBs() {
	var err error
	sensingDBService, err = sensingDB.NewSensingDBService(db.DBConfigFromYamlObj(conf.DBConfigs.SensingDB, conf.StudyKey), collectionNames)
	if err != nil {
		slog.Error("Error connecting to Sensing DB", slog.String("error", err.Error()))
		panic(err)
	}
}
