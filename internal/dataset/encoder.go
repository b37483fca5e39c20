package dataset

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownClass is returned when a label was not seen while fitting.
var ErrUnknownClass = errors.New("unknown class")

// LabelEncoder maps string categories to dense integer class ids.
//
// Ids follow the sorted order of the classes seen at fit time. An encoder
// is fitted once on the training split and reused unchanged for
// validation, so both splits agree on every id.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder builds an encoder from every label in records.
func FitLabelEncoder(records []Record) *LabelEncoder {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.Label] = struct{}{}
	}

	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{classes: classes, index: index}
}

// Encode returns the class id of label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	id, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, label)
	}
	return id, nil
}

// Classes returns the fitted classes in id order.
func (e *LabelEncoder) Classes() []string {
	return slices.Clone(e.classes)
}

// Len returns the number of fitted classes.
func (e *LabelEncoder) Len() int {
	return len(e.classes)
}
