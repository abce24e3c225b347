// Package promotion decides which candidate features are promoted.
//
// A SWAP subject whose positive score passes the threshold is a candidate.
// The positive markings volunteers drew on it are clustered by ellipse
// containment, the volunteers' confusion matrices are fused into a
// probability per cluster, and clusters above the threshold become
// PromotionRecords. The stored records double as the dedup registry: a
// classification id already listed in a record never contributes again.
package promotion

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/fusion"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/marking"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability/metrics"
	"github.com/d-kessler/CountertopDarkMatter/internal/swap"
)

// featureIDPrefix prefixes the feature sequence number
const featureIDPrefix = "m"

// Result describes one promotion run.
type Result struct {
	RunID    string
	Duration time.Duration

	// Records are the features emitted and persisted by this run
	Records []entities.PromotionRecord
	// RetiredSubjects lists subjects that yielded at least one feature
	RetiredSubjects []int64
	// SubjectErrors holds candidates skipped because their data was incomplete
	SubjectErrors map[int64]error

	Candidates      int
	Clusters        int
	FusionFallbacks int
}

// Decider runs promotion over SWAP output.
type Decider struct {
	swap     swap.Source
	markings MarkingSource
	records  datastore.RecordStore[entities.PromotionRecord]

	prior         float64
	threshold     float64
	positiveLabel string

	clock   clockwork.Clock
	log     logger.Logger
	metrics *metrics.PromotionMetrics
	newID   func() string
}

// Option is a functional option for configuring the Decider.
type Option func(*Decider)

// WithClock sets the clock used for record timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Decider) {
		d.clock = clock
	}
}

// WithLogger sets the logger; the decider logs under the "promotion" module.
func WithLogger(log logger.Logger) Option {
	return func(d *Decider) {
		d.log = log
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.PromotionMetrics) Option {
	return func(d *Decider) {
		d.metrics = m
	}
}

// WithRunIDGenerator replaces the UUID run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(d *Decider) {
		d.newID = fn
	}
}

// NewDecider validates the prior and threshold and returns a Decider.
func NewDecider(source swap.Source, markings MarkingSource, records datastore.RecordStore[entities.PromotionRecord],
	settings *conf.PromotionSettings, opts ...Option,
) (*Decider, error) {
	threshold := settings.Threshold()
	if err := conf.ValidatePromotionThresholds(settings.PositivePrior, threshold); err != nil {
		return nil, err
	}

	d := &Decider{
		swap:          source,
		markings:      markings,
		records:       records,
		prior:         settings.PositivePrior,
		threshold:     threshold,
		positiveLabel: settings.PositiveLabel,
		clock:         clockwork.NewRealClock(),
		newID:         uuid.NewString,
	}
	if d.positiveLabel == "" {
		d.positiveLabel = swap.RowPositive
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	d.log = d.log.Module("promotion")
	return d, nil
}

// Threshold returns the promotion threshold in use.
func (d *Decider) Threshold() float64 {
	return d.threshold
}

// Run promotes every qualifying cluster and appends the new records to the
// promotion store in one call. When that write fails no record counts as
// emitted.
func (d *Decider) Run(ctx context.Context) (*Result, error) {
	start := d.clock.Now()
	runID := d.newID()
	ctx = logger.WithTraceID(ctx, runID)
	log := d.log.WithContext(ctx)

	res, err := d.run(ctx, log, runID, start)
	elapsed := d.clock.Since(start)
	if err != nil {
		d.metrics.RecordRun(metrics.StatusError, elapsed)
		log.Error("promotion run failed",
			logger.String("run_id", runID),
			logger.Error(err),
			logger.Duration("elapsed", elapsed))
		return nil, err
	}

	res.Duration = elapsed
	d.metrics.RecordRun(metrics.StatusSuccess, elapsed)
	d.metrics.RecordPromoted(len(res.Records))

	log.Info("promotion run completed",
		logger.String("run_id", runID),
		logger.Int("candidates", res.Candidates),
		logger.Int("clusters", res.Clusters),
		logger.Int("promoted", len(res.Records)),
		logger.Int("retired_subjects", len(res.RetiredSubjects)),
		logger.Int("subject_errors", len(res.SubjectErrors)),
		logger.Int("fusion_fallbacks", res.FusionFallbacks),
		logger.Duration("elapsed", elapsed))
	return res, nil
}

func (d *Decider) run(ctx context.Context, log logger.Logger, runID string, now time.Time) (*Result, error) {
	existing, err := d.records.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	reg := newRegistry(existing)

	subjects, err := d.swap.Subjects(ctx)
	if err != nil {
		return nil, err
	}
	candidates := d.candidates(subjects)
	d.metrics.RecordCandidates(len(candidates))

	res := &Result{
		RunID:         runID,
		SubjectErrors: make(map[int64]error),
		Candidates:    len(candidates),
	}

	var emitted []entities.PromotionRecord
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		subject := &candidates[i]
		records, err := d.promoteSubject(ctx, log, subject, reg, res)
		if err != nil {
			if !isSubjectError(err) {
				return nil, err
			}
			res.SubjectErrors[subject.SubjectID] = err
			d.metrics.RecordSubjectError(errorType(err))
			log.Warn("skipping candidate subject",
				logger.Int64("subject_id", subject.SubjectID),
				logger.Error(err))
			continue
		}

		for j := range records {
			records[j].RunID = runID
			records[j].CreatedAt = now
		}
		if len(records) > 0 {
			emitted = append(emitted, records...)
			res.RetiredSubjects = append(res.RetiredSubjects, subject.SubjectID)
		}
	}

	if len(emitted) > 0 {
		if err := d.records.Append(ctx, emitted...); err != nil {
			return nil, err
		}
	}
	res.Records = emitted
	return res, nil
}

// candidates keeps non-training subjects whose positive score passes the
// threshold, ordered by subject id.
func (d *Decider) candidates(subjects []swap.Subject) []swap.Subject {
	var out []swap.Subject
	for i := range subjects {
		s := &subjects[i]
		if s.IsTraining() {
			continue
		}
		if s.Score[d.positiveLabel] > d.threshold {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b swap.Subject) int {
		return cmp.Compare(a.SubjectID, b.SubjectID)
	})
	return out
}

// promoteSubject clusters the unused positive markings of one subject and
// returns a record for every cluster whose fused probability passes the
// threshold. Feature ids and registry entries are assigned here.
func (d *Decider) promoteSubject(ctx context.Context, log logger.Logger, subject *swap.Subject, reg *registry, res *Result) ([]entities.PromotionRecord, error) {
	entries := make(map[int64]swap.HistoryEntry)
	var ids []int64
	for _, h := range subject.PositiveMarkings() {
		if reg.used(h.ClassificationID) {
			continue
		}
		if _, dup := entries[h.ClassificationID]; dup {
			continue
		}
		entries[h.ClassificationID] = h
		ids = append(ids, h.ClassificationID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := d.markings.FindMarkings(ctx, ids)
	if err != nil {
		return nil, err
	}

	markings := make([]marking.Marking, 0, len(ids))
	for _, id := range ids {
		m, ok := found[id]
		if !ok {
			return nil, errors.Newf("marking for classification %d not found", id).
				Component("promotion").
				Category(errors.CategoryMissingEntity).
				Context("subject_id", subject.SubjectID).
				Context("classification_id", id).
				Build()
		}
		markings = append(markings, m)
	}

	var records []entities.PromotionRecord
	for _, cluster := range marking.Cluster(markings) {
		clusterIDs := marking.ClassificationIDs(cluster)
		scores := make([]swap.UserScore, len(clusterIDs))
		for i, id := range clusterIDs {
			scores[i] = entries[id].UserScore
		}

		fused, err := fusion.Fuse(scores, d.prior)
		fallback := false
		if err != nil {
			fallback = true
			res.FusionFallbacks++
			fused = fusion.Result{Probability: d.prior, Applied: make([]bool, len(scores))}
			log.Warn("fusion failed, using prior",
				logger.Int64("subject_id", subject.SubjectID),
				logger.Any("classification_ids", clusterIDs),
				logger.Error(err))
		}
		res.Clusters++
		d.metrics.RecordCluster(fused.Probability, fallback)

		if fused.Probability <= d.threshold {
			continue
		}
		if reg.anyUsed(clusterIDs) {
			continue
		}

		records = append(records, entities.PromotionRecord{
			FeatureID:           reg.nextFeatureID(),
			SubjectID:           subject.SubjectID,
			PositiveProbability: fused.Probability,
			ClassificationIDs:   clusterIDs,
			Geometry:            toClusterGeometry(marking.Summarize(cluster)),
			Evidence:            evidence(clusterIDs, entries, fused.Applied),
		})
		reg.add(clusterIDs)

		log.Debug("feature promoted",
			logger.Int64("subject_id", subject.SubjectID),
			logger.Float64("positive_probability", fused.Probability),
			logger.Int("size", len(clusterIDs)))
	}
	return records, nil
}

func evidence(ids []int64, entries map[int64]swap.HistoryEntry, applied []bool) []entities.EvidenceRef {
	out := make([]entities.EvidenceRef, len(ids))
	for i, id := range ids {
		h := entries[id]
		ref := entities.EvidenceRef{ClassificationID: id, UserID: h.UserID}
		if tpr, fpr, err := h.UserScore.Rates(); err == nil {
			ref.TruePositiveRate = tpr
			ref.FalsePosRate = fpr
		}
		if i < len(applied) {
			ref.Used = applied[i]
		}
		out[i] = ref
	}
	return out
}

func toClusterGeometry(g marking.Geometry) entities.ClusterGeometry {
	return entities.ClusterGeometry{
		CenterX:   g.CenterX,
		CenterY:   g.CenterY,
		SemiAxisX: g.SemiAxisX,
		SemiAxisY: g.SemiAxisY,
		Angle:     g.Angle,
		BoundingBox: entities.BoundingBox{
			MinX: g.BoundingBox.MinX,
			MinY: g.BoundingBox.MinY,
			MaxX: g.BoundingBox.MaxX,
			MaxY: g.BoundingBox.MaxY,
		},
		Size: g.Size,
	}
}

// isSubjectError reports errors that skip one candidate instead of failing the run
func isSubjectError(err error) bool {
	return errors.IsMissingEntity(err)
}

func errorType(err error) string {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced.GetCategory()
	}
	return "unknown"
}

// registry is the set of classification ids already used by a feature,
// plus the feature id sequence.
type registry struct {
	ids     map[int64]struct{}
	lastSeq int
}

func newRegistry(records []entities.PromotionRecord) *registry {
	r := &registry{ids: make(map[int64]struct{})}
	for i := range records {
		r.add(records[i].ClassificationIDs)
		if n, ok := parseFeatureSeq(records[i].FeatureID); ok && n > r.lastSeq {
			r.lastSeq = n
		}
	}
	return r
}

func (r *registry) used(id int64) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *registry) anyUsed(ids []int64) bool {
	return slices.ContainsFunc(ids, r.used)
}

func (r *registry) add(ids []int64) {
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}

func (r *registry) nextFeatureID() string {
	r.lastSeq++
	return featureIDPrefix + strconv.Itoa(r.lastSeq)
}

func parseFeatureSeq(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, featureIDPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
