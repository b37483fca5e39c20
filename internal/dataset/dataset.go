package dataset

import "fmt"

// Sample is one labelled image. Label is a class id from the encoder.
type Sample struct {
	Path  string
	Label int
}

// Dataset is an encoded split.
type Dataset struct {
	samples []Sample
	encoder *LabelEncoder
}

// New encodes records with enc. When enc is nil a new encoder is fitted on
// records, which is what the training split does.
func New(records []Record, enc *LabelEncoder) (*Dataset, error) {
	if enc == nil {
		enc = FitLabelEncoder(records)
	}

	samples := make([]Sample, len(records))
	for i, r := range records {
		id, err := enc.Encode(r.Label)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", i+1, r.ImagePath, err)
		}
		samples[i] = Sample{Path: r.ImagePath, Label: id}
	}
	return &Dataset{samples: samples, encoder: enc}, nil
}

// Open reads a manifest and encodes it. See New for the meaning of enc.
func Open(manifest, imageColumn, labelColumn string, enc *LabelEncoder) (*Dataset, error) {
	records, err := ReadManifest(manifest, imageColumn, labelColumn)
	if err != nil {
		return nil, err
	}
	return New(records, enc)
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Sample returns sample i.
func (d *Dataset) Sample(i int) Sample {
	return d.samples[i]
}

// Encoder returns the label encoder used for this split.
func (d *Dataset) Encoder() *LabelEncoder {
	return d.encoder
}
