package swap

import (
	"cmp"
	"context"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// snapshotFile is the on-disk layout of a SWAP export
type snapshotFile struct {
	Subjects []Subject `yaml:"subjects"`
}

// FileSource reads a YAML SWAP export.
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Subjects loads every subject in the file, sorted by subject id.
func (f *FileSource) Subjects(ctx context.Context) ([]Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, errors.New(err).
			Component("swap").
			Category(errors.CategoryFileIO).
			Context("path", f.path).
			Build()
	}

	var snapshot snapshotFile
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.New(err).
			Component("swap").
			Category(errors.CategoryFileParsing).
			Context("path", f.path).
			Build()
	}

	slices.SortFunc(snapshot.Subjects, func(a, b Subject) int {
		return cmp.Compare(a.SubjectID, b.SubjectID)
	})
	return snapshot.Subjects, nil
}
