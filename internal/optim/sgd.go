package optim

import (
	"gonum.org/v1/gonum/mat"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Without momentum:
//
//	param -= lr * grad
//
// With momentum:
//
//	velocity = momentum*velocity + grad
//	param -= lr * velocity
type SGD struct {
	lr         float64
	momentum   float64
	velocities map[string][]float64
}

// SGDConfig holds the SGD hyperparameters.
type SGDConfig struct {
	LR       float64 // learning rate (default 0.01)
	Momentum float64 // momentum factor in [0, 1)
}

// NewSGD creates an SGD optimizer.
func NewSGD(cfg SGDConfig) *SGD {
	if cfg.LR == 0 {
		cfg.LR = 0.01
	}
	return &SGD{
		lr:         cfg.LR,
		momentum:   cfg.Momentum,
		velocities: make(map[string][]float64),
	}
}

// Step applies one SGD update to every parameter with a gradient.
func (s *SGD) Step(params, grads map[string]*mat.Dense) {
	for name, param := range params {
		grad, ok := grads[name]
		if !ok {
			continue
		}
		p := rawData(param)
		g := rawData(grad)

		if s.momentum == 0 {
			for i := range p {
				p[i] -= s.lr * g[i]
			}
			continue
		}

		v, ok := s.velocities[name]
		if !ok {
			v = make([]float64, len(p))
			s.velocities[name] = v
		}
		for i := range p {
			v[i] = s.momentum*v[i] + g[i]
			p[i] -= s.lr * v[i]
		}
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float64) { s.lr = lr }
