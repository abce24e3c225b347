// conf/validate.go

package conf

import (
	"fmt"
	"math"
	"strings"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Promotion
// thresholds are checked first and fail on their own with a
// threshold-misconfiguration error; other problems are collected into a
// ValidationError.
func ValidateSettings(settings *Settings) error {
	if err := ValidatePromotionThresholds(settings.Promotion.PositivePrior, settings.Promotion.Threshold()); err != nil {
		return err
	}

	ve := ValidationError{}

	if err := validateConsensusSettings(&settings.Consensus); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validatePromotionSettings(&settings.Promotion); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDatastoreSettings(&settings.Datastore); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateSentrySettings(&settings.Sentry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMetricsSettings(&settings.Metrics); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// ValidatePromotionThresholds checks prior in (0,1) and threshold in [0,1].
func ValidatePromotionThresholds(prior, threshold float64) error {
	if math.IsNaN(prior) || prior <= 0 || prior >= 1 {
		return errors.Newf("positive prior must be in (0,1), got %g", prior).
			Component("configuration").
			Category(errors.CategoryThreshold).
			Context("positive_prior", prior).
			Build()
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return errors.Newf("promotion threshold must be in [0,1], got %g", threshold).
			Component("configuration").
			Category(errors.CategoryThreshold).
			Context("threshold", threshold).
			Build()
	}
	return nil
}

func validateConsensusSettings(settings *ConsensusSettings) error {
	var errs []string

	if settings.Iterations < 0 {
		errs = append(errs, "consensus.iterations must be non-negative")
	}

	if len(settings.Labels) == 0 {
		errs = append(errs, "consensus.labels must contain at least one label")
	}
	seen := make(map[string]struct{}, len(settings.Labels))
	for _, label := range settings.Labels {
		if strings.TrimSpace(label) == "" {
			errs = append(errs, "consensus.labels must not contain empty labels")
			continue
		}
		if _, dup := seen[label]; dup {
			errs = append(errs, fmt.Sprintf("consensus.labels contains duplicate label %q", label))
		}
		seen[label] = struct{}{}
	}

	if settings.AccumulatorMode != AccumulatorCumulative && settings.AccumulatorMode != AccumulatorReset {
		errs = append(errs, fmt.Sprintf("consensus.accumulator_mode must be %q or %q", AccumulatorCumulative, AccumulatorReset))
	}

	if len(errs) > 0 {
		return fmt.Errorf("consensus settings errors: %v", errs)
	}
	return nil
}

func validatePromotionSettings(settings *PromotionSettings) error {
	var errs []string

	if settings.PositiveLabel == "" {
		errs = append(errs, "promotion.positive_label must not be empty")
	}

	switch settings.SwapSource {
	case SwapSourceFile:
		if settings.SwapFile == "" {
			errs = append(errs, "promotion.swap_file is required when swap_source is file")
		}
	case SwapSourceDatabase:
	default:
		errs = append(errs, fmt.Sprintf("promotion.swap_source must be %q or %q", SwapSourceFile, SwapSourceDatabase))
	}

	if settings.MarkingCacheTTL < 0 {
		errs = append(errs, "promotion.marking_cache_ttl must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("promotion settings errors: %v", errs)
	}
	return nil
}

func validateDatastoreSettings(settings *DatastoreSettings) error {
	var errs []string

	switch settings.Backend {
	case BackendSQLite:
		if settings.SQLite.Path == "" {
			errs = append(errs, "datastore.sqlite.path is required")
		}
	case BackendMySQL:
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			errs = append(errs, "datastore.mysql.host and datastore.mysql.database are required")
		}
	case BackendFile:
		if settings.File.Dir == "" {
			errs = append(errs, "datastore.file.dir is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("datastore.backend must be one of %v", []string{BackendSQLite, BackendMySQL, BackendFile}))
	}

	if len(errs) > 0 {
		return fmt.Errorf("datastore settings errors: %v", errs)
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}

func validateMetricsSettings(settings *MetricsSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.PushgatewayURL == "" {
		return fmt.Errorf("metrics.pushgateway_url is required when metrics are enabled")
	}
	if settings.Job == "" {
		return fmt.Errorf("metrics.job is required when metrics are enabled")
	}
	return nil
}
