// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	scrubbedMessage := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		errorTitle := generateErrorTitle(ee)

		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			scrubbedValue := value
			if strValue, ok := value.(string); ok {
				scrubbedValue = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": scrubbedValue})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedMessage,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a meaningful error title for Sentry based on enhanced error context
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}

	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}

	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}

	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryMalformedRecord:
		return "Malformed Record"
	case CategoryMissingEntity:
		return "Missing Entity"
	case CategoryArithmetic:
		return "Arithmetic Degeneracy"
	case CategoryThreshold:
		return "Threshold Misconfiguration"
	case CategoryDuplicate:
		return "Duplicate Classification"
	case CategoryValidation:
		return "Validation Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryConfiguration:
		return "Configuration Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts operation context to human-readable format
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryArithmetic, CategoryDatabase, CategoryConfiguration, CategoryThreshold:
		return sentry.LevelError
	case CategoryMalformedRecord, CategoryDuplicate, CategoryMissingEntity, CategoryValidation:
		return sentry.LevelWarning // usually fixed by correcting the input batch
	case CategoryNetwork, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

// reportToTelemetry reports an error to the configured telemetry system
func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// Pre-compiled scrubbing patterns
var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)
	apiKeyRegexes   = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
	dsnRegex = regexp.MustCompile(`(\w+)://[^:@\s/]+:[^@\s/]+@`)
)

// scrubMessageForPrivacy strips credentials and query strings from messages sent to telemetry
func scrubMessageForPrivacy(message string) string {
	scrubbed := dsnRegex.ReplaceAllString(message, "$1://[CREDENTIALS_REDACTED]@")
	scrubbed = urlQueryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")
	for _, re := range apiKeyRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	return scrubbed
}
