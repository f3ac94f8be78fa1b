// Package metrics accumulates streaming classification metrics across the
// batches of one stage.
//
// The aggregator keeps running confusion counts only, so its memory use is
// independent of the dataset size. A Snapshot is the finalized, read-only
// view of one stage: reset at stage start, updated batch by batch, computed
// at stage end and handed to the output router.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is a finalized set of metric values for one stage.
type Snapshot struct {
	// Stage the snapshot was accumulated for (train, val or test).
	Stage string
	// Scalars maps metric name to value: accuracy, precision, recall, f1.
	// Precision, recall and F1 are computed per class and macro-averaged;
	// classes with no true or predicted instances contribute 0.
	Scalars map[string]float64
	// Confusion holds raw confusion counts, rows indexed by true label and
	// columns by predicted label.
	Confusion *mat.Dense
}

// Aggregator accumulates confusion counts for a fixed number of classes.
//
// Update is called once per batch with any batch size. Compute is idempotent
// and does not mutate accumulated state.
type Aggregator struct {
	numClasses int
	stage      string
	counts     []float64 // numClasses x numClasses, row-major [true][predicted]
	total      float64
}

// NewAggregator creates an aggregator for the given class count.
func NewAggregator(numClasses int) *Aggregator {
	if numClasses < 1 {
		panic(fmt.Sprintf("metrics: numClasses must be >= 1, got %d", numClasses))
	}
	return &Aggregator{
		numClasses: numClasses,
		counts:     make([]float64, numClasses*numClasses),
	}
}

// Reset clears all accumulated counts and tags the aggregator with the stage
// that is starting.
func (a *Aggregator) Reset(stage string) {
	a.stage = stage
	a.total = 0
	for i := range a.counts {
		a.counts[i] = 0
	}
}

// Stage returns the stage set by the last Reset.
func (a *Aggregator) Stage() string {
	return a.stage
}

// Update accumulates one batch of predicted and true labels.
func (a *Aggregator) Update(predictions, labels []int) error {
	if len(predictions) != len(labels) {
		return fmt.Errorf("metrics: %d predictions but %d labels", len(predictions), len(labels))
	}
	for i, p := range predictions {
		y := labels[i]
		if p < 0 || p >= a.numClasses {
			return fmt.Errorf("metrics: prediction %d out of range [0, %d)", p, a.numClasses)
		}
		if y < 0 || y >= a.numClasses {
			return fmt.Errorf("metrics: label %d out of range [0, %d)", y, a.numClasses)
		}
		a.counts[y*a.numClasses+p]++
		a.total++
	}
	return nil
}

// UpdateScores accumulates one batch of per-class scores (e.g. logits or
// log-probabilities), taking the argmax of each row as the prediction.
func (a *Aggregator) UpdateScores(scores *mat.Dense, labels []int) error {
	rows, cols := scores.Dims()
	if cols != a.numClasses {
		return fmt.Errorf("metrics: scores have %d columns, want %d", cols, a.numClasses)
	}
	if rows != len(labels) {
		return fmt.Errorf("metrics: %d score rows but %d labels", rows, len(labels))
	}

	predictions := make([]int, rows)
	for i := 0; i < rows; i++ {
		predictions[i] = floats.MaxIdx(scores.RawRowView(i))
	}
	return a.Update(predictions, labels)
}

// Compute reduces the accumulated counts into a Snapshot.
//
// Repeated calls without an intervening Update return equal snapshots.
func (a *Aggregator) Compute() Snapshot {
	n := a.numClasses

	var correct float64
	precisions := make([]float64, n)
	recalls := make([]float64, n)
	f1s := make([]float64, n)

	for c := 0; c < n; c++ {
		tp := a.counts[c*n+c]
		correct += tp

		var predicted, actual float64
		for t := 0; t < n; t++ {
			predicted += a.counts[t*n+c] // column sum: everything predicted as c
		}
		actual = floats.Sum(a.counts[c*n : c*n+n]) // row sum: everything truly c

		// Division by zero for empty classes yields 0, not an error.
		if predicted > 0 {
			precisions[c] = tp / predicted
		}
		if actual > 0 {
			recalls[c] = tp / actual
		}
		if precisions[c]+recalls[c] > 0 {
			f1s[c] = 2 * precisions[c] * recalls[c] / (precisions[c] + recalls[c])
		}
	}

	accuracy := 0.0
	if a.total > 0 {
		accuracy = correct / a.total
	}

	confusion := mat.NewDense(n, n, nil)
	copy(confusion.RawMatrix().Data, a.counts)

	return Snapshot{
		Stage: a.stage,
		Scalars: map[string]float64{
			"acc":       accuracy,
			"precision": floats.Sum(precisions) / float64(n),
			"recall":    floats.Sum(recalls) / float64(n),
			"f1":        floats.Sum(f1s) / float64(n),
		},
		Confusion: confusion,
	}
}

// ConfusionMatrix returns the accumulated confusion counts, rows indexed by
// true label. With normalize set, each row is scaled to sum to 1 (true-label
// conditional probabilities); all-zero rows stay zero.
func (a *Aggregator) ConfusionMatrix(normalize bool) *mat.Dense {
	n := a.numClasses
	m := mat.NewDense(n, n, nil)
	copy(m.RawMatrix().Data, a.counts)

	if normalize {
		for r := 0; r < n; r++ {
			row := m.RawRowView(r)
			if sum := floats.Sum(row); sum > 0 {
				floats.Scale(1/sum, row)
			}
		}
	}
	return m
}

// NumClasses returns the class count the aggregator was built for.
func (a *Aggregator) NumClasses() int {
	return a.numClasses
}
