// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	// Domain categories for the consensus and promotion pipeline
	CategoryMalformedRecord ErrorCategory = "malformed-record"          // classification row missing required fields
	CategoryMissingEntity   ErrorCategory = "missing-entity"            // referenced user, subject or marking is absent
	CategoryArithmetic      ErrorCategory = "arithmetic-degeneracy"     // zero or non-finite denominator
	CategoryThreshold       ErrorCategory = "threshold-misconfiguration" // prior or promotion threshold out of range
	CategoryDuplicate       ErrorCategory = "duplicate-classification"  // classification id seen before

	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDatabase      ErrorCategory = "database"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// packagePrefix is skipped during component detection.
const packagePrefix = "github.com/d-kessler/CountertopDarkMatter/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred (lazily detected)
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool           // Whether telemetry has been sent
	mu        sync.RWMutex   // Mutex to protect concurrent access
	detected  bool           // Whether component has been auto-detected
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// ErrorCategory implements CategorizedError so wrapped errors keep their category.
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// GetComponent returns the component name, detecting it lazily if needed
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	if ee.detected || ee.component != "" {
		component := ee.component
		ee.mu.RUnlock()
		return component
	}
	ee.mu.RUnlock()

	ee.mu.Lock()
	defer ee.mu.Unlock()

	// Double-check in case another goroutine detected it while we were waiting
	if ee.component == "" && !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
	}

	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority if set, empty string otherwise
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	if ee.Context == nil {
		return nil
	}

	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the explicit priority override for the error
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError and triggers optional telemetry reporting
func (eb *ErrorBuilder) Build() *EnhancedError {
	// Fast path - skip expensive operations if no reporting is active
	if !hasActiveReporting.Load() {
		ee := &EnhancedError{
			Err:       eb.err,
			component: eb.component,
			Category:  eb.category,
			Priority:  eb.priority,
			Context:   eb.context,
			Timestamp: time.Now(),
			detected:  eb.component != "",
		}
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = inheritedCategory(eb.err)
		}
		return ee
	}

	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = detectCategory(eb.err, eb.component)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		detected:  true,
	}

	reportToTelemetry(ee)

	return ee
}

// hasActiveReporting is true while a telemetry reporter is installed and enabled.
var hasActiveReporting atomic.Bool

// componentPatterns maps package path fragments to component names, checked
// in order before falling back to the package name.
var componentPatterns = []struct{ pattern, component string }{
	{"internal/consensus", "consensus"},
	{"internal/marking", "marking"},
	{"internal/fusion", "fusion"},
	{"internal/promotion", "promotion"},
	{"internal/swap", "swap"},
	{"internal/datastore", "datastore"},
	{"internal/conf", "configuration"},
	{"internal/observability", "metrics"},
	{"internal/telemetry", "telemetry"},
	{"/cmd", "cli"},
}

// quickComponentLookup tries to detect component from a specific caller depth
func quickComponentLookup(depth int) string {
	pc, _, _, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}

	funcName := fn.Name()
	if strings.Contains(funcName, packagePrefix) {
		return ""
	}

	return lookupComponent(funcName)
}

// detectComponent automatically detects the component based on the call stack
func detectComponent() string {
	// Typical depths: 4-6 for direct error creation, 6-8 for wrapped errors
	for _, depth := range []int{4, 5, 6, 7} {
		if component := quickComponentLookup(depth); component != "" && component != ComponentUnknown {
			return component
		}
	}

	return detectComponentFull()
}

// detectComponentFull walks the entire call stack to find the component
func detectComponentFull() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)

	if n == len(pcs) {
		pcs = make([]uintptr, 32)
		n = runtime.Callers(2, pcs)
	}

	for i := range n {
		fn := runtime.FuncForPC(pcs[i])
		if fn == nil {
			continue
		}

		funcName := fn.Name()
		if strings.Contains(funcName, packagePrefix) {
			continue
		}

		if component := lookupComponent(funcName); component != ComponentUnknown {
			return component
		}
	}

	return ComponentUnknown
}

// lookupComponent maps a fully qualified function name to a component
func lookupComponent(funcName string) string {
	for _, p := range componentPatterns {
		if strings.Contains(funcName, p.pattern) {
			return p.component
		}
	}

	// Fallback: extract from package path
	parts := strings.Split(funcName, "/")
	if len(parts) > 0 {
		lastPart := parts[len(parts)-1]
		if dotIndex := strings.Index(lastPart, "."); dotIndex > 0 {
			return lastPart[:dotIndex]
		}
	}

	return ComponentUnknown
}

// inheritedCategory returns the category carried by a wrapped error, or CategoryGeneric.
func inheritedCategory(err error) ErrorCategory {
	var catErr CategorizedError
	if err != nil && stderrors.As(err, &catErr) && catErr.ErrorCategory() != "" {
		return catErr.ErrorCategory()
	}
	return CategoryGeneric
}

// detectCategory automatically detects error category based on error message and component
func detectCategory(err error, component string) ErrorCategory {
	if category := inheritedCategory(err); category != CategoryGeneric {
		return category
	}
	if err == nil {
		return CategoryGeneric
	}

	errorMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errorMsg, "duplicate"):
		return CategoryDuplicate
	case strings.Contains(errorMsg, "division by zero") || strings.Contains(errorMsg, "non-finite"):
		return CategoryArithmetic
	case strings.Contains(errorMsg, "threshold") || strings.Contains(errorMsg, "prior"):
		return CategoryThreshold
	case strings.Contains(errorMsg, "not found") || strings.Contains(errorMsg, "missing"):
		return CategoryMissingEntity
	case strings.Contains(errorMsg, "file") || strings.Contains(errorMsg, "open"):
		return CategoryFileIO
	case strings.Contains(errorMsg, "connection") || strings.Contains(errorMsg, "timeout"):
		return CategoryNetwork
	case strings.Contains(errorMsg, "invalid") || strings.Contains(errorMsg, "validation"):
		return CategoryValidation
	}

	switch component {
	case "datastore":
		return CategoryDatabase
	case "configuration":
		return CategoryConfiguration
	}

	return CategoryGeneric
}

// Standard library passthrough functions
// These allow this package to be a drop-in replacement for the standard errors package

// NewStd creates a new standard error (passthrough to standard library)
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target (passthrough to standard library)
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target (passthrough to standard library)
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsMalformedRecord reports whether err is a rejected classification row.
func IsMalformedRecord(err error) bool {
	return IsCategory(err, CategoryMalformedRecord)
}

// IsMissingEntity reports whether err references an absent user, subject or marking.
func IsMissingEntity(err error) bool {
	return IsCategory(err, CategoryMissingEntity)
}

// IsArithmeticDegeneracy reports whether err came from a zero or non-finite denominator.
func IsArithmeticDegeneracy(err error) bool {
	return IsCategory(err, CategoryArithmetic)
}

// IsThresholdMisconfiguration reports whether err is a prior or threshold range violation.
func IsThresholdMisconfiguration(err error) bool {
	return IsCategory(err, CategoryThreshold)
}

// IsDuplicateClassification reports whether err rejected a previously seen classification id.
func IsDuplicateClassification(err error) bool {
	return IsCategory(err, CategoryDuplicate)
}
