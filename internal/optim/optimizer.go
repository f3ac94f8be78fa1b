// Package optim implements the optimization algorithms used by the trainer.
//
// Optimizers update named parameter matrices in place from the gradient map
// a Trainable classifier returns. The math itself is plain element-wise
// arithmetic on gonum matrices; anything heavier (autograd, distributed
// updates) is outside this project's scope.
package optim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Optimizer applies gradient updates to named parameters.
type Optimizer interface {
	// Step updates every parameter that has a gradient. Parameters
	// without a matching gradient entry are skipped.
	Step(params, grads map[string]*mat.Dense)

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate, for schedules.
	SetLR(lr float64)
}

// New constructs an optimizer by name ("sgd" or "adam") with the given
// learning rate and default hyperparameters otherwise.
func New(name string, lr float64) (Optimizer, error) {
	switch name {
	case "", "adam":
		return NewAdam(AdamConfig{LR: lr}), nil
	case "sgd":
		return NewSGD(SGDConfig{LR: lr}), nil
	default:
		return nil, fmt.Errorf("optim: unknown optimizer %q (want sgd or adam)", name)
	}
}

// rawData returns the backing slice of a dense matrix.
func rawData(m *mat.Dense) []float64 {
	return m.RawMatrix().Data
}
