// Package conf loads countertop settings from config.yaml, environment variables and defaults.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// Accumulator modes for the consensus score pass
const (
	AccumulatorCumulative = "cumulative"
	AccumulatorReset      = "reset"
)

// Datastore backends
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendFile   = "file"
)

// SWAP sources
const (
	SwapSourceFile     = "file"
	SwapSourceDatabase = "database"
)

// ConsensusSettings controls the consensus engine.
type ConsensusSettings struct {
	Iterations      int      `yaml:"iterations" mapstructure:"iterations"`
	Labels          []string `yaml:"labels" mapstructure:"labels"`
	AccumulatorMode string   `yaml:"accumulator_mode" mapstructure:"accumulator_mode"` // cumulative or reset
}

// PromotionSettings controls candidate selection and evidence fusion.
type PromotionSettings struct {
	PositivePrior   float64       `yaml:"positive_prior" mapstructure:"positive_prior"`
	ThresholdRatio  float64       `yaml:"threshold_ratio" mapstructure:"threshold_ratio"`
	PositiveLabel   string        `yaml:"positive_label" mapstructure:"positive_label"`
	SwapSource      string        `yaml:"swap_source" mapstructure:"swap_source"` // file or database
	SwapFile        string        `yaml:"swap_file" mapstructure:"swap_file"`
	MarkingCacheTTL time.Duration `yaml:"marking_cache_ttl" mapstructure:"marking_cache_ttl"`
}

// Threshold returns the promotion threshold, ratio times prior.
func (p PromotionSettings) Threshold() float64 {
	return p.ThresholdRatio * p.PositivePrior
}

// SQLiteSettings for the sqlite backend
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings for the mysql backend
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// FileSettings for the YAML file backend
type FileSettings struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DatastoreSettings selects and configures the record store backend.
type DatastoreSettings struct {
	Backend string         `yaml:"backend" mapstructure:"backend"`
	SQLite  SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL   MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	File    FileSettings   `yaml:"file" mapstructure:"file"`
}

// SentrySettings enables optional error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// MetricsSettings enables pushing run metrics to a Prometheus Pushgateway.
type MetricsSettings struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
	Listen         string `yaml:"listen" mapstructure:"listen"` // scrape endpoint for the schedule command, empty disables
}

// ScheduleSettings for the schedule command
type ScheduleSettings struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// Settings contains all configuration options.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Consensus ConsensusSettings    `yaml:"consensus" mapstructure:"consensus"`
	Promotion PromotionSettings    `yaml:"promotion" mapstructure:"promotion"`
	Datastore DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Schedule  ScheduleSettings     `yaml:"schedule" mapstructure:"schedule"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file and environment variables into Settings.
// An empty configFile searches "." and $HOME/.config/countertop for config.yaml;
// a missing file there is not an error and defaults apply.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values, env bindings and the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		for _, path := range defaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// defaultConfigPaths lists the directories searched for config.yaml
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "countertop"))
	}
	return paths
}

// GetSettings returns the settings from the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
// Comments in an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
