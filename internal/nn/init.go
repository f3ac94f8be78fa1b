package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// xavierSource generates Xavier/Glorot uniform initialized matrices from a
// seeded PRNG, so identical seeds produce identical starting weights.
type xavierSource struct {
	rng *rand.Rand
}

func newXavierSource(seed int64) *xavierSource {
	return &xavierSource{rng: rand.New(rand.NewSource(seed))}
}

// matrix draws a [fanIn, fanOut] matrix from U(-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)).
func (x *xavierSource) matrix(fanIn, fanOut int) *mat.Dense {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (x.rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(fanIn, fanOut, data)
}
