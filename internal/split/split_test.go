package split_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ml/forge/internal/split"
)

// collectIndexSets returns the three subsets as maps for set operations.
func collectIndexSets(s split.Split) (train, val, test map[int]bool) {
	train = make(map[int]bool, len(s.Train))
	val = make(map[int]bool, len(s.Val))
	test = make(map[int]bool, len(s.Test))
	for _, i := range s.Train {
		train[i] = true
	}
	for _, i := range s.Val {
		val[i] = true
	}
	for _, i := range s.Test {
		test[i] = true
	}
	return train, val, test
}

func TestPartition_CoverageAndDisjointness(t *testing.T) {
	fractions := []split.Fractions{
		split.DefaultFractions,
		{Train: 0.8, Val: 0.1, Test: 0.1},
		{Train: 1, Val: 0, Test: 0},
		{Train: 0.5, Val: 0.5, Test: 0},
	}

	for _, f := range fractions {
		for _, n := range []int{1, 2, 3, 7, 10, 99, 100, 1000} {
			s, err := split.Partition(n, f, 7)
			require.NoError(t, err, "n=%d f=%v", n, f)
			require.Equal(t, n, s.Size(), "sizes must sum to n")

			train, val, test := collectIndexSets(s)
			union := make(map[int]bool, n)
			for i := range train {
				assert.False(t, val[i] || test[i], "index %d in more than one subset", i)
				union[i] = true
			}
			for i := range val {
				assert.False(t, test[i], "index %d in val and test", i)
				union[i] = true
			}
			for i := range test {
				union[i] = true
			}
			require.Len(t, union, n, "union must cover [0, n)")
			for i := 0; i < n; i++ {
				assert.True(t, union[i], "index %d missing", i)
			}
		}
	}
}

func TestPartition_Deterministic(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, 1 << 40} {
		a, err := split.Partition(500, split.DefaultFractions, seed)
		require.NoError(t, err)
		b, err := split.Partition(500, split.DefaultFractions, seed)
		require.NoError(t, err)

		assert.Equal(t, a.Train, b.Train)
		assert.Equal(t, a.Val, b.Val)
		assert.Equal(t, a.Test, b.Test)
	}
}

func TestPartition_SeedsDiverge(t *testing.T) {
	a, err := split.Partition(100, split.DefaultFractions, 1)
	require.NoError(t, err)
	b, err := split.Partition(100, split.DefaultFractions, 2)
	require.NoError(t, err)

	// Statistical, not absolute: for n=100 the probability of two seeds
	// producing the same permutation prefix is negligible.
	assert.NotEqual(t, a.Train, b.Train, "different seeds should shuffle differently")
}

func TestPartition_HundredRecordsSeed42(t *testing.T) {
	s, err := split.Partition(100, split.Fractions{Train: 0.7, Val: 0.2, Test: 0.1}, 42)
	require.NoError(t, err)

	assert.Len(t, s.Train, 70)
	assert.Len(t, s.Val, 20)
	assert.Len(t, s.Test, 10)

	train, val, test := collectIndexSets(s)
	seen := make(map[int]bool, 100)
	for i := range train {
		seen[i] = true
	}
	for i := range val {
		require.False(t, seen[i])
		seen[i] = true
	}
	for i := range test {
		require.False(t, seen[i])
		seen[i] = true
	}
	require.Len(t, seen, 100)
}

func TestPartition_RemainderGoesToTest(t *testing.T) {
	// 0.7*7 = 4.9 -> 5, 0.2*7 = 1.4 -> 1, remainder 1 to test.
	s, err := split.Partition(7, split.DefaultFractions, 3)
	require.NoError(t, err)
	assert.Len(t, s.Train, 5)
	assert.Len(t, s.Val, 1)
	assert.Len(t, s.Test, 1)
}

func TestPartition_Errors(t *testing.T) {
	_, err := split.Partition(0, split.DefaultFractions, 42)
	assert.ErrorIs(t, err, split.ErrEmptyDataset)

	_, err = split.Partition(10, split.Fractions{Train: 0.5, Val: 0.2, Test: 0.1}, 42)
	assert.ErrorIs(t, err, split.ErrInvalidFractions)

	_, err = split.Partition(10, split.Fractions{Train: 1.2, Val: -0.1, Test: -0.1}, 42)
	assert.ErrorIs(t, err, split.ErrInvalidFractions)
}

func TestPartitioner_StableAcrossCalls(t *testing.T) {
	p := split.NewPartitioner(split.DefaultFractions)

	a, err := p.Partition(256)
	require.NoError(t, err)
	b, err := p.Partition(256)
	require.NoError(t, err)
	assert.Equal(t, a, b, "one Partitioner must always derive the same split")

	// A restored partitioner with the same seed derives the same split.
	restored := split.NewSeededPartitioner(split.DefaultFractions, p.Seed())
	c, err := restored.Partition(256)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestPartitioner_FreshSeeds(t *testing.T) {
	a := split.NewPartitioner(split.DefaultFractions)
	b := split.NewPartitioner(split.DefaultFractions)
	assert.NotEqual(t, a.Seed(), b.Seed(), "entropy-drawn seeds should differ")
}
