// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"consensus.iterations", "COUNTERTOP_CONSENSUS_ITERATIONS", validateEnvIterations},
		{"consensus.accumulator_mode", "COUNTERTOP_CONSENSUS_ACCUMULATOR_MODE", validateEnvAccumulatorMode},

		{"promotion.positive_prior", "COUNTERTOP_PROMOTION_POSITIVE_PRIOR", validateEnvProbability},
		{"promotion.threshold_ratio", "COUNTERTOP_PROMOTION_THRESHOLD_RATIO", validateEnvNonNegativeFloat},
		{"promotion.swap_file", "COUNTERTOP_PROMOTION_SWAP_FILE", nil},

		{"datastore.backend", "COUNTERTOP_DATASTORE_BACKEND", validateEnvBackend},
		{"datastore.sqlite.path", "COUNTERTOP_DATASTORE_SQLITE_PATH", nil},
		{"datastore.mysql.host", "COUNTERTOP_DATASTORE_MYSQL_HOST", nil},
		{"datastore.mysql.port", "COUNTERTOP_DATASTORE_MYSQL_PORT", validateEnvPort},
		{"datastore.mysql.username", "COUNTERTOP_DATASTORE_MYSQL_USERNAME", nil},
		{"datastore.mysql.password", "COUNTERTOP_DATASTORE_MYSQL_PASSWORD", nil},
		{"datastore.mysql.database", "COUNTERTOP_DATASTORE_MYSQL_DATABASE", nil},

		{"sentry.enabled", "COUNTERTOP_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "COUNTERTOP_SENTRY_DSN", nil},

		{"metrics.enabled", "COUNTERTOP_METRICS_ENABLED", validateEnvBool},
		{"metrics.pushgateway_url", "COUNTERTOP_METRICS_PUSHGATEWAY_URL", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvIterations(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n < 0 {
		return fmt.Errorf("iterations must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvAccumulatorMode(value string) error {
	switch strings.TrimSpace(value) {
	case AccumulatorCumulative, AccumulatorReset:
		return nil
	default:
		return fmt.Errorf("accumulator mode must be %q or %q", AccumulatorCumulative, AccumulatorReset)
	}
}

// validateEnvProbability accepts values strictly between 0 and 1
func validateEnvProbability(value string) error {
	p, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid float value: %s", value)
	}
	if p <= 0 || p >= 1 {
		return fmt.Errorf("probability must be between 0 and 1 (exclusive), got %g", p)
	}
	return nil
}

func validateEnvNonNegativeFloat(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid float value: %s", value)
	}
	if f < 0 {
		return fmt.Errorf("value must be non-negative, got %g", f)
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch strings.TrimSpace(value) {
	case BackendSQLite, BackendMySQL, BackendFile:
		return nil
	default:
		return fmt.Errorf("backend must be one of %s, %s, %s", BackendSQLite, BackendMySQL, BackendFile)
	}
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s", value)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid URL: %s", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
