// Package nn provides the classifier abstraction and a reference
// feed-forward implementation.
//
// The numeric core is delegated to gonum: matrices are gonum/mat Dense
// values and all kernels (multiply, element-wise ops) come from that
// library. This package only defines the model shape:
//
//	flatten -> Linear(in, hidden) -> ReLU -> Linear(hidden, classes) -> log-softmax
//
// Models expose parameters and closed-form gradients as named matrices so
// any optimizer in the optim package can update them.
package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Classifier maps batches of feature vectors to per-class log-probabilities.
type Classifier interface {
	// Forward computes log-probabilities for a batch.
	//
	// Input shape: [batch, features]. Output shape: [batch, classes],
	// each row log-normalized over the class dimension.
	Forward(x *mat.Dense) *mat.Dense

	// Parameters returns the trainable parameters by name. The returned
	// matrices are the live storage: optimizers update them in place.
	Parameters() map[string]*mat.Dense

	// NumInputs returns the expected feature-vector length.
	NumInputs() int

	// NumClasses returns the size of the output class dimension.
	NumClasses() int
}

// Trainable is a Classifier that can also produce gradients for its
// parameters, enabling the trainer's optimization loop.
type Trainable interface {
	Classifier

	// Backward runs a forward pass, evaluates the negative log-likelihood
	// of the true labels and returns it together with the parameter
	// gradients, keyed like Parameters().
	Backward(x *mat.Dense, labels []int) (loss float64, grads map[string]*mat.Dense)
}

// SimpleClassifier is the reference two-layer perceptron.
//
// Weights use Xavier/Glorot uniform initialization; biases start at zero.
type SimpleClassifier struct {
	numInputs  int
	numHidden  int
	numClasses int

	w1 *mat.Dense // [in, hidden]
	b1 *mat.Dense // [1, hidden]
	w2 *mat.Dense // [hidden, classes]
	b2 *mat.Dense // [1, classes]
}

// SimpleClassifierConfig holds the hyperparameters of a SimpleClassifier.
type SimpleClassifierConfig struct {
	NumInputs  int
	NumHidden  int
	NumClasses int
	// InitSeed seeds weight initialization; runs that share a seed start
	// from identical weights, which is what makes training reproducible
	// end to end.
	InitSeed int64
}

// NewSimpleClassifier creates the reference classifier.
func NewSimpleClassifier(cfg SimpleClassifierConfig) (*SimpleClassifier, error) {
	if cfg.NumInputs < 1 || cfg.NumHidden < 1 || cfg.NumClasses < 2 {
		return nil, fmt.Errorf("nn: invalid dimensions (inputs=%d hidden=%d classes=%d)",
			cfg.NumInputs, cfg.NumHidden, cfg.NumClasses)
	}

	init := newXavierSource(cfg.InitSeed)
	return &SimpleClassifier{
		numInputs:  cfg.NumInputs,
		numHidden:  cfg.NumHidden,
		numClasses: cfg.NumClasses,
		w1:         init.matrix(cfg.NumInputs, cfg.NumHidden),
		b1:         mat.NewDense(1, cfg.NumHidden, nil),
		w2:         init.matrix(cfg.NumHidden, cfg.NumClasses),
		b2:         mat.NewDense(1, cfg.NumClasses, nil),
	}, nil
}

// Forward computes per-row log-probabilities for a batch.
func (c *SimpleClassifier) Forward(x *mat.Dense) *mat.Dense {
	_, logp := c.forward(x)
	return logp
}

// forward returns the post-ReLU hidden activations together with the
// log-probabilities; the hidden activations are reused by Backward.
func (c *SimpleClassifier) forward(x *mat.Dense) (hidden, logp *mat.Dense) {
	rows, cols := x.Dims()
	if cols != c.numInputs {
		panic(fmt.Sprintf("nn: input has %d features, want %d", cols, c.numInputs))
	}

	// h = relu(x @ w1 + b1)
	hidden = mat.NewDense(rows, c.numHidden, nil)
	hidden.Mul(x, c.w1)
	addRowVector(hidden, c.b1)
	reluInPlace(hidden)

	// z = h @ w2 + b2, then log-softmax over the class dimension.
	logp = mat.NewDense(rows, c.numClasses, nil)
	logp.Mul(hidden, c.w2)
	addRowVector(logp, c.b2)
	logSoftmaxRows(logp)

	return hidden, logp
}

// Backward computes the NLL loss and parameter gradients for one batch.
func (c *SimpleClassifier) Backward(x *mat.Dense, labels []int) (float64, map[string]*mat.Dense) {
	rows, _ := x.Dims()
	if rows != len(labels) {
		panic(fmt.Sprintf("nn: %d input rows but %d labels", rows, len(labels)))
	}

	hidden, logp := c.forward(x)
	loss := NLLLoss(logp, labels)

	// dz = (softmax(z) - onehot(y)) / batch
	dz := mat.NewDense(rows, c.numClasses, nil)
	inv := 1 / float64(rows)
	for i := 0; i < rows; i++ {
		src := logp.RawRowView(i)
		dst := dz.RawRowView(i)
		for j := range dst {
			dst[j] = math.Exp(src[j]) * inv
		}
		dst[labels[i]] -= inv
	}

	gw2 := mat.NewDense(c.numHidden, c.numClasses, nil)
	gw2.Mul(hidden.T(), dz)
	gb2 := columnSums(dz)

	// dh = dz @ w2^T, masked by the ReLU derivative.
	dh := mat.NewDense(rows, c.numHidden, nil)
	dh.Mul(dz, c.w2.T())
	for i := 0; i < rows; i++ {
		h := hidden.RawRowView(i)
		d := dh.RawRowView(i)
		for j := range d {
			if h[j] <= 0 {
				d[j] = 0
			}
		}
	}

	gw1 := mat.NewDense(c.numInputs, c.numHidden, nil)
	gw1.Mul(x.T(), dh)
	gb1 := columnSums(dh)

	return loss, map[string]*mat.Dense{
		"w1": gw1, "b1": gb1,
		"w2": gw2, "b2": gb2,
	}
}

// Parameters returns the live parameter matrices by name.
func (c *SimpleClassifier) Parameters() map[string]*mat.Dense {
	return map[string]*mat.Dense{
		"w1": c.w1, "b1": c.b1,
		"w2": c.w2, "b2": c.b2,
	}
}

// NumInputs returns the expected feature-vector length.
func (c *SimpleClassifier) NumInputs() int { return c.numInputs }

// NumHidden returns the hidden-layer width.
func (c *SimpleClassifier) NumHidden() int { return c.numHidden }

// NumClasses returns the output class count.
func (c *SimpleClassifier) NumClasses() int { return c.numClasses }

// NLLLoss is the mean negative log-likelihood of the true labels under the
// given per-row log-probabilities.
func NLLLoss(logp *mat.Dense, labels []int) float64 {
	rows, _ := logp.Dims()
	var sum float64
	for i := 0; i < rows; i++ {
		sum -= logp.At(i, labels[i])
	}
	return sum / float64(rows)
}

// addRowVector adds the 1xN row vector v to every row of m.
func addRowVector(m, v *mat.Dense) {
	rows, _ := m.Dims()
	row := v.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(m.RawRowView(i), row)
	}
}

// reluInPlace clamps negative entries of m to zero.
func reluInPlace(m *mat.Dense) {
	data := m.RawMatrix().Data
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// columnSums returns a 1xN matrix holding the column sums of m.
func columnSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	dst := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
	return out
}

// logSoftmaxRows log-normalizes every row of m in place using the
// numerically stable max-shifted form.
func logSoftmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		max := floats.Max(row)
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - max)
		}
		lse := max + math.Log(sum)
		for j := range row {
			row[j] -= lse
		}
	}
}
