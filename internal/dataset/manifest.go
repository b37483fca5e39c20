// Package dataset turns a CSV manifest of labelled images into mini-batches
// of Born tensors.
//
// The pieces are layered:
//
//	ReadManifest  -> []Record          (image path + string label)
//	LabelEncoder  -> int class ids     (fitted on the training split only)
//	Dataset       -> []Sample          (path + class id)
//	Loader        -> Batch tensors     (shuffled, decoded in parallel)
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEmptyManifest is returned when a manifest has a header but no rows.
var ErrEmptyManifest = errors.New("manifest has no rows")

// Record is one manifest row.
type Record struct {
	ImagePath string
	Label     string
}

// ReadManifest reads the image and label columns of a CSV manifest.
func ReadManifest(path, imageColumn, labelColumn string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	records, err := parseManifest(f, imageColumn, labelColumn)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return records, nil
}

func parseManifest(r io.Reader, imageColumn, labelColumn string) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, err
	}

	imageIdx, labelIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case imageColumn:
			imageIdx = i
		case labelColumn:
			labelIdx = i
		}
	}
	if imageIdx < 0 {
		return nil, fmt.Errorf("missing image column %q", imageColumn)
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("missing label column %q", labelColumn)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		image := strings.TrimSpace(row[imageIdx])
		label := strings.TrimSpace(row[labelIdx])
		if image == "" {
			return nil, fmt.Errorf("line %d: empty image path", line)
		}
		if label == "" {
			return nil, fmt.Errorf("line %d: empty label", line)
		}
		records = append(records, Record{ImagePath: image, Label: label})
	}

	if len(records) == 0 {
		return nil, ErrEmptyManifest
	}
	return records, nil
}
