// Package split implements deterministic train/validation/test partitioning
// of dataset indices.
//
// The partition is a pure function of (dataset size, fractions, seed): the
// seed, not the resulting index sets, is the source of truth. Distributed
// workers that share a seed re-derive bit-identical subsets without any
// coordination, and a checkpoint that records the seed reconstructs the
// exact partition it was trained with.
//
// Example:
//
//	p := split.NewPartitioner(split.DefaultFractions)
//	s, err := p.Partition(len(dataset))
//	if err != nil {
//	    return err
//	}
//	// s.Train, s.Val, s.Test are disjoint and cover [0, len(dataset)).
package split

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
)

// Common errors.
var (
	ErrInvalidFractions = errors.New("split fractions must be non-negative and sum to 1")
	ErrEmptyDataset     = errors.New("cannot partition an empty dataset")
)

// fractionTolerance is the permitted floating error when checking that
// fractions sum to one.
const fractionTolerance = 1e-6

// Fractions is the target share of the dataset assigned to each subset.
//
// The three values must be non-negative and sum to 1 within a small
// tolerance. The exact triple is a configuration parameter, not a contract;
// DefaultFractions matches the common 70/20/10 layout.
type Fractions struct {
	Train float64
	Val   float64
	Test  float64
}

// DefaultFractions is the default 0.7/0.2/0.1 split.
var DefaultFractions = Fractions{Train: 0.7, Val: 0.2, Test: 0.1}

// Validate checks that the fractions are non-negative and sum to 1.
func (f Fractions) Validate() error {
	if f.Train < 0 || f.Val < 0 || f.Test < 0 {
		return fmt.Errorf("%w: got (%v, %v, %v)", ErrInvalidFractions, f.Train, f.Val, f.Test)
	}
	if sum := f.Train + f.Val + f.Test; math.Abs(sum-1) > fractionTolerance {
		return fmt.Errorf("%w: sum is %v", ErrInvalidFractions, sum)
	}
	return nil
}

// Split holds three disjoint sets of indices into the same dataset.
//
// A Split references records by index and never copies them. The union of
// the three slices is exactly [0, n) for the n it was derived from.
type Split struct {
	Train []int
	Val   []int
	Test  []int
}

// Size returns the total number of indices across the three subsets.
func (s Split) Size() int {
	return len(s.Train) + len(s.Val) + len(s.Test)
}

// Partition deterministically splits the indices [0, n) into three subsets.
//
// A uniformly shuffled permutation of [0, n) is generated from a PRNG seeded
// with seed. The first round(f.Train*n) indices become the train subset, the
// next round(f.Val*n) the validation subset, and the remainder the test
// subset, so any rounding error is absorbed by the test subset and coverage
// is exact.
//
// Identical (n, f, seed) always produce an identical Split, independent of
// process, goroutine, or call order.
func Partition(n int, f Fractions, seed int64) (Split, error) {
	if n == 0 {
		return Split{}, ErrEmptyDataset
	}
	if n < 0 {
		return Split{}, fmt.Errorf("negative dataset size %d", n)
	}
	if err := f.Validate(); err != nil {
		return Split{}, err
	}

	perm := mrand.New(mrand.NewSource(seed)).Perm(n)

	nTrain := int(math.Round(f.Train * float64(n)))
	nVal := int(math.Round(f.Val * float64(n)))
	if nTrain > n {
		nTrain = n
	}
	if nTrain+nVal > n {
		nVal = n - nTrain
	}

	return Split{
		Train: perm[:nTrain],
		Val:   perm[nTrain : nTrain+nVal],
		Test:  perm[nTrain+nVal:],
	}, nil
}

// Partitioner binds a fraction triple to a seed generated once at
// construction.
//
// The seed is immutable for the Partitioner's lifetime: every Partition call
// on the same instance derives the same subsets for a given dataset size,
// which is what allows setup to run independently for the "fit" and "test"
// stages (or on several workers) without persisting index sets.
type Partitioner struct {
	fractions Fractions
	seed      int64
}

// NewPartitioner creates a Partitioner with a seed drawn from the operating
// system's entropy source.
//
// The seed should be logged and persisted alongside any trained model so the
// partition can be reconstructed later (see trainer checkpoints).
func NewPartitioner(f Fractions) *Partitioner {
	return NewSeededPartitioner(f, randomSeed())
}

// NewSeededPartitioner creates a Partitioner with an explicit seed, used when
// restoring a persisted run.
func NewSeededPartitioner(f Fractions, seed int64) *Partitioner {
	return &Partitioner{fractions: f, seed: seed}
}

// Seed returns the immutable seed of this Partitioner.
func (p *Partitioner) Seed() int64 {
	return p.seed
}

// Fractions returns the fraction triple of this Partitioner.
func (p *Partitioner) Fractions() Fractions {
	return p.fractions
}

// Partition splits the indices [0, n) using the Partitioner's fractions and
// seed. See the package-level Partition for the algorithm.
func (p *Partitioner) Partition(n int) (Split, error) {
	return Partition(n, p.fractions, p.seed)
}

// randomSeed draws a 63-bit seed from crypto/rand.
func randomSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Entropy exhaustion is not recoverable here; crypto/rand never
		// fails on supported platforms.
		panic(fmt.Sprintf("split: reading entropy source: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]) >> 1)
}
