package promote

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/promotion"
)

// Manifest is the YAML document describing one promotion run.
type Manifest struct {
	RunID           string                     `yaml:"run_id"`
	Threshold       float64                    `yaml:"threshold"`
	Features        []entities.PromotionRecord `yaml:"features"`
	RetiredSubjects []int64                    `yaml:"retired_subjects"`
	SubjectErrors   map[int64]string           `yaml:"subject_errors,omitempty"`
}

// NewManifest builds a manifest from a completed run.
func NewManifest(res *promotion.Result, threshold float64) Manifest {
	m := Manifest{
		RunID:           res.RunID,
		Threshold:       threshold,
		Features:        res.Records,
		RetiredSubjects: slices.Clone(res.RetiredSubjects),
	}
	if m.Features == nil {
		m.Features = []entities.PromotionRecord{}
	}
	if m.RetiredSubjects == nil {
		m.RetiredSubjects = []int64{}
	}
	if len(res.SubjectErrors) > 0 {
		m.SubjectErrors = make(map[int64]string, len(res.SubjectErrors))
		for id, err := range res.SubjectErrors {
			m.SubjectErrors[id] = err.Error()
		}
	}
	return m
}

// WriteManifest writes m to path through a temporary file and rename.
func WriteManifest(path string, m Manifest) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return manifestError(err, path, errors.CategoryFileParsing)
	}
	if err := enc.Close(); err != nil {
		return manifestError(err, path, errors.CategoryFileParsing)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return manifestError(err, path, errors.CategoryFileIO)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.yaml")
	if err != nil {
		return manifestError(err, path, errors.CategoryFileIO)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return manifestError(err, path, errors.CategoryFileIO)
	}
	if err := tmp.Close(); err != nil {
		return manifestError(err, path, errors.CategoryFileIO)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return manifestError(err, path, errors.CategoryFileIO)
	}
	return nil
}

func manifestError(err error, path string, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("cli").
		Category(category).
		Context("path", path).
		Context("operation", "write_manifest").
		Build()
}
