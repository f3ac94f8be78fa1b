package datamodule_test

import (
	"context"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ml/forge/internal/datamodule"
	"github.com/forge-ml/forge/internal/dataset"
	"github.com/forge-ml/forge/internal/split"
)

// memorySource serves a synthetic dataset and counts fetches.
type memorySource struct {
	n       int
	fetches int
}

func (s *memorySource) Fetch(context.Context) (*dataset.Dataset, error) {
	s.fetches++
	features := make([][]float64, s.n)
	labels := make([]int, s.n)
	for i := range features {
		// Encode the record index in the first feature so batches can be
		// traced back to dataset rows.
		features[i] = []float64{float64(i), 0.5}
		labels[i] = i % 3
	}
	return dataset.New(features, labels)
}

func newModule(t *testing.T, n, batchSize int, seed int64) (*datamodule.DataModule, *memorySource) {
	t.Helper()
	src := &memorySource{n: n}
	p := split.NewSeededPartitioner(split.DefaultFractions, seed)
	dm, err := datamodule.New(src, batchSize, p, zerolog.Nop())
	require.NoError(t, err)
	return dm, src
}

func TestDataModule_PrepareIsIdempotent(t *testing.T) {
	dm, src := newModule(t, 30, 8, 1)
	require.NoError(t, dm.Prepare(context.Background()))
	require.NoError(t, dm.Prepare(context.Background()))
	assert.Equal(t, 1, src.fetches)
}

func TestDataModule_SetupRequiresPrepare(t *testing.T) {
	dm, _ := newModule(t, 30, 8, 1)
	assert.ErrorIs(t, dm.Setup(datamodule.StageFit), datamodule.ErrNotPrepared)
}

func TestDataModule_RejectsUnknownStage(t *testing.T) {
	dm, _ := newModule(t, 30, 8, 1)
	require.NoError(t, dm.Prepare(context.Background()))
	assert.Error(t, dm.Setup("predict"))
}

func TestDataModule_SubsetSizes(t *testing.T) {
	dm, _ := newModule(t, 100, 16, 42)
	require.NoError(t, dm.Prepare(context.Background()))
	require.NoError(t, dm.Setup(datamodule.StageFit))
	require.NoError(t, dm.Setup(datamodule.StageTest))

	count := func(batches []datamodule.Batch) int {
		total := 0
		for _, b := range batches {
			r, c := b.X.Dims()
			assert.Equal(t, 2, c)
			assert.Len(t, b.Labels, r)
			total += r
		}
		return total
	}

	assert.Equal(t, 70, count(dm.TrainBatches(0)))
	assert.Equal(t, 20, count(dm.ValBatches()))
	assert.Equal(t, 10, count(dm.TestBatches()))
}

func TestDataModule_BatchChunking(t *testing.T) {
	dm, _ := newModule(t, 100, 16, 42)
	require.NoError(t, dm.Prepare(context.Background()))
	require.NoError(t, dm.Setup(datamodule.StageFit))

	batches := dm.TrainBatches(0)
	require.Len(t, batches, 5) // 70 records in batches of 16
	for i := 0; i < 4; i++ {
		r, _ := batches[i].X.Dims()
		assert.Equal(t, 16, r)
	}
	r, _ := batches[4].X.Dims()
	assert.Equal(t, 6, r, "final batch holds the remainder")
}

// recordIDs extracts the dataset row ids encoded in the first feature.
func recordIDs(batches []datamodule.Batch) []int {
	var ids []int
	for _, b := range batches {
		rows, _ := b.X.Dims()
		for r := 0; r < rows; r++ {
			ids = append(ids, int(b.X.At(r, 0)))
		}
	}
	return ids
}

func TestDataModule_EpochShuffleIsDeterministic(t *testing.T) {
	dm, _ := newModule(t, 60, 10, 7)
	require.NoError(t, dm.Prepare(context.Background()))
	require.NoError(t, dm.Setup(datamodule.StageFit))

	first := recordIDs(dm.TrainBatches(3))
	again := recordIDs(dm.TrainBatches(3))
	assert.Equal(t, first, again, "same epoch must replay the same order")

	other := recordIDs(dm.TrainBatches(4))
	assert.NotEqual(t, first, other, "a new epoch must reshuffle")

	sort.Ints(first)
	sort.Ints(other)
	assert.Equal(t, first, other, "reshuffling must not change membership")
}

func TestDataModule_EvalOrderIsStable(t *testing.T) {
	dm, _ := newModule(t, 60, 10, 7)
	require.NoError(t, dm.Prepare(context.Background()))
	require.NoError(t, dm.Setup(datamodule.StageTest))

	assert.Equal(t, recordIDs(dm.ValBatches()), recordIDs(dm.ValBatches()))
	assert.Equal(t, recordIDs(dm.TestBatches()), recordIDs(dm.TestBatches()))
}

func TestDataModule_SharedSeedSharesPartition(t *testing.T) {
	a, _ := newModule(t, 90, 10, 99)
	b, _ := newModule(t, 90, 10, 99)
	for _, dm := range []*datamodule.DataModule{a, b} {
		require.NoError(t, dm.Prepare(context.Background()))
		require.NoError(t, dm.Setup(datamodule.StageFit))
	}
	assert.Equal(t, recordIDs(a.ValBatches()), recordIDs(b.ValBatches()))
	assert.Equal(t, recordIDs(a.TrainBatches(0)), recordIDs(b.TrainBatches(0)))
}

func TestDataModule_RejectsBadBatchSize(t *testing.T) {
	src := &memorySource{n: 10}
	p := split.NewPartitioner(split.DefaultFractions)
	_, err := datamodule.New(src, 0, p, zerolog.Nop())
	assert.Error(t, err)
}
