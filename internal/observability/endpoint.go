package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics endpoint
const ShutdownTimeout = 5 * time.Second

// Endpoint serves the metrics registry for scraping while the scheduler runs.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	log           logger.Logger
}

// NewEndpoint creates a metrics endpoint listening on listen.
// An empty listen address is a configuration error.
func NewEndpoint(listen string, metrics *Metrics, log logger.Logger) (*Endpoint, error) {
	if listen == "" {
		return nil, errors.Newf("metrics listen address is empty").
			Component("metrics").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	return &Endpoint{
		listenAddress: listen,
		metrics:       metrics,
		log:           log.Module("metrics"),
	}, nil
}

// Handler returns the mux serving /metrics.
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start runs the HTTP server in a goroutine tracked by wg and shuts it down
// once quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	}()

	go e.gracefulShutdown(quitChan)
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	e.log.Info("stopping metrics endpoint")
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("metrics endpoint shutdown error", logger.Error(err))
	}
}
