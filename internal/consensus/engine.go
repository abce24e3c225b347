package consensus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability/metrics"
)

// Stores are the record stores the engine reads and replaces.
type Stores struct {
	// Classifications is the append-only classification log
	Classifications datastore.RecordStore[Classification]
	Users           datastore.RecordStore[User]
	Subjects        datastore.RecordStore[Subject]

	// Transaction, when set, runs fn with stores whose writes commit
	// together. Without it the run's writes are applied in sequence with the
	// classification log last.
	Transaction func(ctx context.Context, fn func(Stores) error) error
}

// DatastoreStores returns engine stores over ds that persist each run in a
// single datastore transaction.
func DatastoreStores(ds *datastore.Stores) Stores {
	return Stores{
		Classifications: ds.Classifications,
		Users:           ds.Users,
		Subjects:        ds.Subjects,
		Transaction: func(ctx context.Context, fn func(Stores) error) error {
			return ds.Transaction(ctx, func(tx *datastore.Stores) error {
				return fn(Stores{
					Classifications: tx.Classifications,
					Users:           tx.Users,
					Subjects:        tx.Subjects,
				})
			})
		},
	}
}

// RunSummary describes one completed engine run.
type RunSummary struct {
	RunID           string
	StartedAt       time.Time
	Duration        time.Duration
	Ingested        int
	Passes          int
	Users           int
	Subjects        int
	WeightMin       float64
	WeightMax       float64
	AccumulatorMode string
}

// Engine runs ingestion and consensus refinement over persisted state.
type Engine struct {
	stores   Stores
	settings conf.ConsensusSettings
	ingester *Ingester

	clock   clockwork.Clock
	log     logger.Logger
	metrics *metrics.ConsensusMetrics
	newID   func() string
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithClock sets the clock used for run timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger; the engine logs under the "consensus" module.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.ConsensusMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRunIDGenerator replaces the UUID run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine returns an Engine over stores. An empty label set or an unknown
// accumulator mode is a configuration error.
func NewEngine(stores Stores, settings *conf.ConsensusSettings, opts ...Option) (*Engine, error) {
	if len(settings.Labels) == 0 {
		return nil, errors.Newf("consensus label set is empty").
			Component("consensus").
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch settings.AccumulatorMode {
	case conf.AccumulatorCumulative, conf.AccumulatorReset:
	default:
		return nil, errors.Newf("unknown accumulator mode %q", settings.AccumulatorMode).
			Component("consensus").
			Category(errors.CategoryConfiguration).
			Context("accumulator_mode", settings.AccumulatorMode).
			Build()
	}

	e := &Engine{
		stores:   stores,
		settings: *settings,
		ingester: NewIngester(settings.Labels),
		clock:    clockwork.NewRealClock(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	e.log = e.log.Module("consensus")
	return e, nil
}

// Run merges batch into persisted state, refines scores and weights
// nIterations times and persists the result. Nothing is persisted when
// ingestion or a pass fails.
func (e *Engine) Run(ctx context.Context, batch []Classification, nIterations int) (*RunSummary, error) {
	start := e.clock.Now()
	runID := e.newID()
	ctx = logger.WithTraceID(ctx, runID)
	log := e.log.WithContext(ctx)

	summary, err := e.run(ctx, log, runID, batch, nIterations)
	elapsed := e.clock.Since(start)

	if err != nil {
		e.metrics.RecordRun(metrics.StatusError, elapsed)
		log.Error("consensus run failed",
			logger.String("run_id", runID),
			logger.Error(err),
			logger.Duration("elapsed", elapsed))
		return nil, err
	}

	summary.StartedAt = start
	summary.Duration = elapsed
	e.metrics.RecordRun(metrics.StatusSuccess, elapsed)
	e.metrics.SetState(summary.Users, summary.Subjects, summary.WeightMin, summary.WeightMax)

	log.Info("consensus run completed",
		logger.String("run_id", runID),
		logger.Int("ingested", summary.Ingested),
		logger.Int("passes", summary.Passes),
		logger.Int("users", summary.Users),
		logger.Int("subjects", summary.Subjects),
		logger.Float64("weight_min", summary.WeightMin),
		logger.Float64("weight_max", summary.WeightMax),
		logger.Duration("elapsed", elapsed))
	return summary, nil
}

func (e *Engine) run(ctx context.Context, log logger.Logger, runID string, batch []Classification, nIterations int) (*RunSummary, error) {
	if nIterations < 0 {
		return nil, errors.Newf("iteration count must not be negative, got %d", nIterations).
			Component("consensus").
			Category(errors.CategoryValidation).
			Context("iterations", nIterations).
			Build()
	}

	state, err := LoadState(ctx, e.stores, e.settings.Labels)
	if err != nil {
		return nil, err
	}

	if err := e.ingester.Ingest(state, batch); err != nil {
		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) {
			e.metrics.RecordIngestError(enhanced.GetCategory())
		}
		return nil, err
	}
	e.metrics.RecordIngested(len(batch))
	log.Debug("batch ingested",
		logger.Int("classifications", len(batch)),
		logger.Int("users", len(state.Users)),
		logger.Int("subjects", len(state.Subjects)))

	for pass := 1; pass <= nIterations; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.refine(state, runID, pass); err != nil {
			return nil, err
		}
		e.metrics.RecordPass()
		log.Trace("pass completed", logger.Int("pass", pass))
	}

	if err := e.persist(ctx, state, batch); err != nil {
		return nil, err
	}

	lo, hi := state.WeightRange()
	return &RunSummary{
		RunID:           runID,
		Ingested:        len(batch),
		Passes:          nIterations,
		Users:           len(state.Users),
		Subjects:        len(state.Subjects),
		WeightMin:       lo,
		WeightMax:       hi,
		AccumulatorMode: e.settings.AccumulatorMode,
	}, nil
}

// refine runs one score pass, one weight pass and the rescale.
func (e *Engine) refine(state *State, runID string, pass int) error {
	if e.settings.AccumulatorMode == conf.AccumulatorReset {
		resetAccumulators(state)
	}
	if err := scorePass(state, runID, pass); err != nil {
		return err
	}
	if err := weightPass(state, runID, pass); err != nil {
		return err
	}
	return rescale(state)
}

// persist writes users, subjects and then the batch to the classification
// log, inside one transaction when the stores provide it.
func (e *Engine) persist(ctx context.Context, state *State, batch []Classification) error {
	write := func(s Stores) error {
		if err := s.Users.ClearAndRewrite(ctx, state.UserList()); err != nil {
			return err
		}
		if err := s.Subjects.ClearAndRewrite(ctx, state.SubjectList()); err != nil {
			return err
		}
		return s.Classifications.Append(ctx, batch...)
	}

	if e.stores.Transaction == nil {
		return write(e.stores)
	}
	return e.stores.Transaction(ctx, write)
}
