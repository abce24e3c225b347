// Package telemetry wires optional Sentry error reporting into the errors package.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

const flushTimeout = 2 * time.Second

// Option customizes the Sentry client.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// InitSentry installs the Sentry client and registers it as the error reporter.
// When telemetry is disabled the errors package is left without a reporter.
func InitSentry(settings *conf.SentrySettings, build *buildinfo.Context, log logger.Logger, opts ...Option) error {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module("telemetry")

	if settings == nil || !settings.Enabled {
		errors.SetTelemetryReporter(nil)
		log.Debug("error telemetry disabled")
		return nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          build.Release(),
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled",
		logger.String("environment", settings.Environment),
		logger.String("release", options.Release))
	return nil
}

// Flush waits for buffered events to be delivered. It is a no-op when
// Sentry was never initialized.
func Flush() bool {
	if errors.GetTelemetryReporter() == nil {
		return true
	}
	return sentry.Flush(flushTimeout)
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	event.User = sentry.User{}
	event.ServerName = ""

	for _, key := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, key)
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
