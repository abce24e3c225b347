package consensus

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// batchColumns are the required CSV headers, in any order.
var batchColumns = []string{"classification_id", "subject_id", "user_id", "label"}

// ReadBatchFile reads a classification batch from a CSV file.
func ReadBatchFile(path string) ([]entities.Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	return ReadBatch(f)
}

// ReadBatch parses CSV with a header row naming batchColumns. Extra columns
// are ignored. Value checks beyond integer parsing happen at ingestion.
func ReadBatch(r io.Reader) ([]entities.Classification, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, malformed(err, 1)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range batchColumns {
		if _, ok := index[col]; !ok {
			return nil, errors.Newf("batch header is missing column %q", col).
				Component("cli").
				Category(errors.CategoryMalformedRecord).
				Context("line", 1).
				Build()
		}
	}

	var batch []entities.Classification
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err, line)
		}

		var ids [3]int64
		for i, col := range batchColumns[:3] {
			v, err := strconv.ParseInt(strings.TrimSpace(record[index[col]]), 10, 64)
			if err != nil {
				return nil, errors.New(err).
					Component("cli").
					Category(errors.CategoryMalformedRecord).
					Context("line", line).
					Context("column", col).
					Build()
			}
			ids[i] = v
		}

		batch = append(batch, entities.Classification{
			ClassificationID: ids[0],
			SubjectID:        ids[1],
			UserID:           ids[2],
			Label:            strings.TrimSpace(record[index["label"]]),
		})
	}
	return batch, nil
}

func malformed(err error, line int) error {
	return errors.New(err).
		Component("cli").
		Category(errors.CategoryMalformedRecord).
		Context("line", line).
		Build()
}
