// Package fusion combines volunteer evidence about a marked feature into a
// single positive probability by sequential Bayesian updates.
package fusion

import (
	"math"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/swap"
)

// Result is the outcome of fusing one cluster's evidence.
type Result struct {
	Probability float64
	Used        int
	Skipped     int
	// Applied[i] reports whether scores[i] updated the probability.
	Applied []bool
}

type options struct {
	depreciate bool
}

// Option configures Fuse.
type Option func(*options)

// AllowDepreciation applies evidence from volunteers whose false positive
// rate exceeds their true positive rate. By default such evidence is skipped
// so that it can never lower the probability.
func AllowDepreciation() Option {
	return func(o *options) {
		o.depreciate = true
	}
}

// Fuse walks scores in order, updating p to tpr*p / (tpr*p + fpr*(1-p))
// starting from prior. With no applied evidence the result is the prior.
func Fuse(scores []swap.UserScore, prior float64, opts ...Option) (Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if math.IsNaN(prior) || prior <= 0 || prior >= 1 {
		return Result{}, errors.Newf("fusion prior must be in (0,1), got %g", prior).
			Component("fusion").
			Category(errors.CategoryThreshold).
			Context("prior", prior).
			Build()
	}

	res := Result{Probability: prior, Applied: make([]bool, len(scores))}
	for i, score := range scores {
		tpr, fpr, err := score.Rates()
		if err != nil {
			return Result{}, errors.New(err).
				Component("fusion").
				Category(errors.CategoryMissingEntity).
				Context("evidence_index", i).
				Build()
		}
		if !isFinite(tpr) || !isFinite(fpr) {
			return Result{}, degenerate("non-finite confusion matrix rate", i, tpr, fpr)
		}

		if tpr < fpr && !o.depreciate {
			res.Skipped++
			continue
		}

		p := res.Probability
		denominator := tpr*p + fpr*(1-p)
		if denominator == 0 {
			return Result{}, degenerate("zero denominator in bayesian update", i, tpr, fpr)
		}
		posterior := tpr * p / denominator
		if !isFinite(posterior) {
			return Result{}, degenerate("non-finite posterior", i, tpr, fpr)
		}

		res.Probability = posterior
		res.Applied[i] = true
		res.Used++
	}

	return res, nil
}

func degenerate(msg string, index int, tpr, fpr float64) error {
	return errors.Newf("%s", msg).
		Component("fusion").
		Category(errors.CategoryArithmetic).
		Context("evidence_index", index).
		Context("tpr", tpr).
		Context("fpr", fpr).
		Build()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
