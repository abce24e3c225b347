// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("consensus.iterations", 1)
	viper.SetDefault("consensus.labels", []string{"negative", "tenebrite"})
	viper.SetDefault("consensus.accumulator_mode", AccumulatorCumulative)

	// p0['1'] of the offline SWAP configuration
	viper.SetDefault("promotion.positive_prior", 0.01)
	viper.SetDefault("promotion.threshold_ratio", 10.0)
	viper.SetDefault("promotion.positive_label", "1")
	viper.SetDefault("promotion.swap_source", SwapSourceFile)
	viper.SetDefault("promotion.swap_file", "data/swap_subjects.yaml")
	viper.SetDefault("promotion.marking_cache_ttl", 10*time.Minute)

	viper.SetDefault("datastore.backend", BackendSQLite)
	viper.SetDefault("datastore.sqlite.path", "data/countertop.db")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.username", "countertop")
	viper.SetDefault("datastore.mysql.password", "")
	viper.SetDefault("datastore.mysql.database", "countertop")
	viper.SetDefault("datastore.file.dir", "data/records")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/countertop.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.pushgateway_url", "http://localhost:9091")
	viper.SetDefault("metrics.job", "countertop")
	viper.SetDefault("metrics.listen", "")

	viper.SetDefault("schedule.cron", "@daily")
}
