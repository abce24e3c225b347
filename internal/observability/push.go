package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// defaultPushTimeout bounds a single Pushgateway request
const defaultPushTimeout = 10 * time.Second

// Pusher sends the registry to a Prometheus Pushgateway after each batch
// run. Batch jobs do not live long enough to be scraped.
type Pusher struct {
	metrics *Metrics
	url     string
	job     string
	client  *http.Client
	log     logger.Logger
}

// NewPusher returns a Pusher for settings. A nil client uses a client with
// a default timeout.
func NewPusher(m *Metrics, settings *conf.MetricsSettings, client *http.Client, log logger.Logger) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: defaultPushTimeout}
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Pusher{
		metrics: m,
		url:     settings.PushgatewayURL,
		job:     settings.Job,
		client:  client,
		log:     log.Module("metrics"),
	}
}

// Push replaces the job's metric group on the Pushgateway.
func (p *Pusher) Push(ctx context.Context) error {
	err := push.New(p.url, p.job).
		Gatherer(p.metrics.Registry()).
		Client(p.client).
		PushContext(ctx)
	if err != nil {
		return errors.New(err).
			Component("metrics").
			Category(errors.CategoryNetwork).
			Context("pushgateway_url", p.url).
			Context("job", p.job).
			Build()
	}

	p.log.Debug("metrics pushed",
		logger.String("pushgateway_url", p.url),
		logger.String("job", p.job))
	return nil
}

// PushIfEnabled pushes m when metrics are enabled. A failed push is logged
// and never fails the run that produced the metrics.
func PushIfEnabled(ctx context.Context, m *Metrics, settings *conf.MetricsSettings, log logger.Logger) {
	if m == nil || settings == nil || !settings.Enabled {
		return
	}
	pusher := NewPusher(m, settings, nil, log)
	if err := pusher.Push(ctx); err != nil {
		pusher.log.Warn("failed to push metrics", logger.Error(err))
	}
}
