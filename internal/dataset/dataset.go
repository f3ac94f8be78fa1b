// Package dataset provides the in-memory dataset wrapper and the tabular
// data sources that feed it.
//
// A Dataset is an ordered, 0-indexed, immutable-after-construction sequence
// of records, each a fixed-length float feature vector with an integer class
// label. Sources decode tabular data (local CSV files, or CSV downloaded
// over HTTP with an on-disk cache) into a Dataset once per run.
package dataset

import (
	"errors"
	"fmt"
)

// ErrNoRecords is returned when a source decodes zero data rows.
var ErrNoRecords = errors.New("dataset: no records decoded")

// Record is one (feature-vector, label) pair.
type Record struct {
	Features []float64
	Label    int
}

// Dataset is an immutable, indexable sequence of records.
//
// All records share the same feature-vector length, validated at
// construction. The struct is read-only after New returns; splits reference
// it by index and never copy rows.
type Dataset struct {
	features [][]float64
	labels   []int

	numFeatures int
	numClasses  int
}

// New validates the rows and wraps them into a Dataset.
//
// Every feature row must have the same length and every label must be a
// non-negative class index. The number of classes is derived as
// max(label)+1.
func New(features [][]float64, labels []int) (*Dataset, error) {
	if len(features) == 0 {
		return nil, ErrNoRecords
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("dataset: %d feature rows but %d labels", len(features), len(labels))
	}

	width := len(features[0])
	maxLabel := 0
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("dataset: row %d has %d features, want %d", i, len(row), width)
		}
		if labels[i] < 0 {
			return nil, fmt.Errorf("dataset: row %d has negative label %d", i, labels[i])
		}
		if labels[i] > maxLabel {
			maxLabel = labels[i]
		}
	}

	return &Dataset{
		features:    features,
		labels:      labels,
		numFeatures: width,
		numClasses:  maxLabel + 1,
	}, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.labels)
}

// At returns the record at index i. The returned feature slice aliases the
// dataset's storage and must not be mutated.
func (d *Dataset) At(i int) Record {
	return Record{Features: d.features[i], Label: d.labels[i]}
}

// Label returns the label at index i.
func (d *Dataset) Label(i int) int {
	return d.labels[i]
}

// NumFeatures returns the shared feature-vector length.
func (d *Dataset) NumFeatures() int {
	return d.numFeatures
}

// NumClasses returns the number of distinct classes, derived from the
// largest label seen.
func (d *Dataset) NumClasses() int {
	return d.numClasses
}
