package datastore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// Exporter copies every collection from one backend to another, for example
// from a lab sqlite file to the shared mysql server.
type Exporter struct {
	src, dst *Stores
	clean    bool
	clock    clockwork.Clock
	log      logger.Logger
}

// ExportStats tracks export statistics.
type ExportStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// TableStats tracks per-collection export statistics.
type TableStats struct {
	Name     string
	Copied   int
	Skipped  int
	Duration time.Duration
}

// ExportOption configures an Exporter.
type ExportOption func(*Exporter)

// WithClean replaces target collections instead of merging into them.
func WithClean(clean bool) ExportOption {
	return func(e *Exporter) {
		e.clean = clean
	}
}

// WithExportClock sets the clock used for durations.
func WithExportClock(clock clockwork.Clock) ExportOption {
	return func(e *Exporter) {
		e.clock = clock
	}
}

// WithExportLogger sets the logger.
func WithExportLogger(log logger.Logger) ExportOption {
	return func(e *Exporter) {
		e.log = log
	}
}

// NewExporter returns an Exporter from src to dst.
func NewExporter(src, dst *Stores, opts ...ExportOption) *Exporter {
	e := &Exporter{src: src, dst: dst, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	e.log = e.log.Module("export")
	return e
}

// collection binds one RecordStore pair to its export and verify steps.
type collection struct {
	name   string
	export func(ctx context.Context, e *Exporter) (TableStats, error)
	counts func(ctx context.Context, e *Exporter) (src, dst int, err error)
}

func newCollection[T any](name string, pick func(*Stores) RecordStore[T], key func(*T) string) collection {
	return collection{
		name: name,
		export: func(ctx context.Context, e *Exporter) (TableStats, error) {
			return copyCollection(ctx, e, name, pick(e.src), pick(e.dst), key)
		},
		counts: func(ctx context.Context, e *Exporter) (int, int, error) {
			src, err := pick(e.src).ReadAll(ctx)
			if err != nil {
				return 0, 0, err
			}
			dst, err := pick(e.dst).ReadAll(ctx)
			if err != nil {
				return 0, 0, err
			}
			return len(src), len(dst), nil
		},
	}
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

// collections lists every exported collection.
func collections() []collection {
	return []collection{
		newCollection("classifications",
			func(s *Stores) RecordStore[entities.Classification] { return s.Classifications },
			func(r *entities.Classification) string { return idKey(r.ClassificationID) }),
		newCollection("users",
			func(s *Stores) RecordStore[entities.User] { return s.Users },
			func(r *entities.User) string { return idKey(r.UserID) }),
		newCollection("subjects",
			func(s *Stores) RecordStore[entities.Subject] { return s.Subjects },
			func(r *entities.Subject) string { return idKey(r.SubjectID) }),
		newCollection("markings",
			func(s *Stores) RecordStore[entities.Marking] { return s.Markings },
			func(r *entities.Marking) string { return idKey(r.ClassificationID) }),
		newCollection("swap_subjects",
			func(s *Stores) RecordStore[entities.SwapSubject] { return s.SwapSubjects },
			func(r *entities.SwapSubject) string { return idKey(r.SubjectID) }),
		newCollection("promotion_records",
			func(s *Stores) RecordStore[entities.PromotionRecord] { return s.Promotions },
			func(r *entities.PromotionRecord) string { return r.FeatureID }),
	}
}

// Run copies every collection. Without WithClean, rows whose key already
// exists in the target are skipped so repeated exports are idempotent.
func (e *Exporter) Run(ctx context.Context) (*ExportStats, error) {
	stats := &ExportStats{StartTime: e.clock.Now()}

	for _, c := range collections() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		tableStats, err := c.export(ctx, e)
		if err != nil {
			return stats, fmt.Errorf("failed to export %s: %w", c.name, err)
		}
		stats.Tables = append(stats.Tables, tableStats)
	}

	stats.EndTime = e.clock.Now()
	return stats, nil
}

func copyCollection[T any](ctx context.Context, e *Exporter, name string, src, dst RecordStore[T], key func(*T) string) (TableStats, error) {
	start := e.clock.Now()
	stats := TableStats{Name: name}

	rows, err := src.ReadAll(ctx)
	if err != nil {
		return stats, err
	}

	if e.clean {
		if err := dst.ClearAndRewrite(ctx, rows); err != nil {
			return stats, err
		}
		stats.Copied = len(rows)
	} else {
		existing, err := dst.ReadAll(ctx)
		if err != nil {
			return stats, err
		}
		seen := make(map[string]struct{}, len(existing))
		for i := range existing {
			seen[key(&existing[i])] = struct{}{}
		}

		var fresh []T
		for i := range rows {
			if _, ok := seen[key(&rows[i])]; ok {
				stats.Skipped++
				continue
			}
			fresh = append(fresh, rows[i])
		}
		if len(fresh) > 0 {
			if err := dst.Append(ctx, fresh...); err != nil {
				return stats, err
			}
		}
		stats.Copied = len(fresh)
	}

	stats.Duration = e.clock.Since(start)
	e.log.Info("collection exported",
		logger.String("collection", name),
		logger.Int("copied", stats.Copied),
		logger.Int("skipped", stats.Skipped),
		logger.Duration("elapsed", stats.Duration))
	return stats, nil
}

// Verify compares record counts between source and target. A merge into a
// non-empty target can legitimately hold more rows, so only a target with
// fewer rows fails.
func (e *Exporter) Verify(ctx context.Context) error {
	var short []string
	for _, c := range collections() {
		src, dst, err := c.counts(ctx, e)
		if err != nil {
			return err
		}
		if dst < src || (e.clean && dst != src) {
			short = append(short, fmt.Sprintf("%s (%d vs %d)", c.name, src, dst))
		}
	}
	if len(short) > 0 {
		return errors.Newf("record counts do not match: %s", strings.Join(short, ", ")).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("operation", "export_verify").
			Build()
	}
	return nil
}

// Print writes the export statistics as a table.
func (s *ExportStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "%-20s %10s %10s %12s\n", "Collection", "Copied", "Skipped", "Duration")

	var copied, skipped int
	for _, t := range s.Tables {
		fmt.Fprintf(w, "%-20s %10d %10d %12s\n", t.Name, t.Copied, t.Skipped, t.Duration.Round(time.Millisecond))
		copied += t.Copied
		skipped += t.Skipped
	}
	fmt.Fprintf(w, "%-20s %10d %10d\n", "TOTAL", copied, skipped)
}
