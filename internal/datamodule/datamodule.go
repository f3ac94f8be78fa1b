// Package datamodule assembles a data source, a deterministic partitioner
// and a batch size into the iterators the trainer consumes.
package datamodule

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/forge-ml/forge/internal/dataset"
	"github.com/forge-ml/forge/internal/split"
)

// Stages a DataModule can be set up for.
const (
	StageFit  = "fit"
	StageTest = "test"
)

// ErrNotPrepared is returned by Setup when Prepare has not fetched the
// dataset yet.
var ErrNotPrepared = errors.New("datamodule: Prepare must run before Setup")

// Batch is one mini-batch of records, features packed row-wise.
type Batch struct {
	X      *mat.Dense
	Labels []int
}

// DataModule owns the data pipeline of one run: it fetches the dataset once,
// derives the train/validation/test partition from its partitioner's seed,
// and serves mini-batches per stage.
//
// Setup is idempotent by construction: the partition is a pure function of
// the dataset size and the partitioner's immutable seed, so repeated Setup
// calls (or calls on another worker sharing the seed) derive identical
// subsets.
type DataModule struct {
	source      dataset.Source
	batchSize   int
	partitioner *split.Partitioner
	log         zerolog.Logger

	ds    *dataset.Dataset
	split split.Split
	ready bool
}

// New creates a DataModule. The batch size must be positive.
func New(source dataset.Source, batchSize int, p *split.Partitioner, log zerolog.Logger) (*DataModule, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("datamodule: batch size must be positive, got %d", batchSize)
	}
	return &DataModule{source: source, batchSize: batchSize, partitioner: p, log: log}, nil
}

// Prepare fetches the dataset from the source. Repeated calls are no-ops so
// the "fit" and "test" stages can both trigger preparation safely.
func (dm *DataModule) Prepare(ctx context.Context) error {
	if dm.ds != nil {
		return nil
	}
	ds, err := dm.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("prepare data: %w", err)
	}
	dm.ds = ds
	dm.log.Info().
		Int("records", ds.Len()).
		Int("features", ds.NumFeatures()).
		Int("classes", ds.NumClasses()).
		Msg("dataset loaded")
	return nil
}

// Setup derives the subset partition for the given stage. Both stages derive
// the same partition; the stage only selects which subset sizes are logged.
func (dm *DataModule) Setup(stage string) error {
	if dm.ds == nil {
		return ErrNotPrepared
	}
	if stage != StageFit && stage != StageTest {
		return fmt.Errorf("datamodule: unknown stage %q", stage)
	}

	if !dm.ready {
		s, err := dm.partitioner.Partition(dm.ds.Len())
		if err != nil {
			return fmt.Errorf("partition dataset: %w", err)
		}
		dm.split = s
		dm.ready = true
	}

	evt := dm.log.Info().Str("stage", stage).Int64("split_seed", dm.partitioner.Seed())
	if stage == StageFit {
		evt = evt.Int("train", len(dm.split.Train)).Int("val", len(dm.split.Val))
	} else {
		evt = evt.Int("test", len(dm.split.Test))
	}
	evt.Msg("dataset partitioned")
	return nil
}

// NumFeatures returns the dataset's feature-vector length. Valid after
// Prepare.
func (dm *DataModule) NumFeatures() int { return dm.ds.NumFeatures() }

// NumClasses returns the dataset's class count. Valid after Prepare.
func (dm *DataModule) NumClasses() int { return dm.ds.NumClasses() }

// SplitSeed returns the seed the partition is derived from.
func (dm *DataModule) SplitSeed() int64 { return dm.partitioner.Seed() }

// TrainBatches returns the training mini-batches for one epoch. The record
// order is reshuffled each epoch, deterministically from the split seed and
// the epoch number.
func (dm *DataModule) TrainBatches(epoch int) []Batch {
	dm.mustBeReady()
	idx := make([]int, len(dm.split.Train))
	copy(idx, dm.split.Train)
	rng := mrand.New(mrand.NewSource(dm.partitioner.Seed() + int64(epoch)))
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return dm.batches(idx)
}

// ValBatches returns the validation mini-batches, in stable order.
func (dm *DataModule) ValBatches() []Batch {
	dm.mustBeReady()
	return dm.batches(dm.split.Val)
}

// TestBatches returns the test mini-batches, in stable order.
func (dm *DataModule) TestBatches() []Batch {
	dm.mustBeReady()
	return dm.batches(dm.split.Test)
}

func (dm *DataModule) mustBeReady() {
	if !dm.ready {
		panic("datamodule: Setup must run before requesting batches")
	}
}

// batches packs the records at the given indices into dense mini-batches.
// The final batch may be short.
func (dm *DataModule) batches(indices []int) []Batch {
	if len(indices) == 0 {
		return nil
	}
	width := dm.ds.NumFeatures()
	out := make([]Batch, 0, (len(indices)+dm.batchSize-1)/dm.batchSize)
	for start := 0; start < len(indices); start += dm.batchSize {
		end := start + dm.batchSize
		if end > len(indices) {
			end = len(indices)
		}
		chunk := indices[start:end]

		x := mat.NewDense(len(chunk), width, nil)
		labels := make([]int, len(chunk))
		for row, i := range chunk {
			rec := dm.ds.At(i)
			x.SetRow(row, rec.Features)
			labels[row] = rec.Label
		}
		out = append(out, Batch{X: x, Labels: labels})
	}
	return out
}
