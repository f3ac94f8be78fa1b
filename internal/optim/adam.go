package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2015) with bias-corrected
// first and second moment estimates.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// AdamConfig holds the Adam hyperparameters; zero values take the usual
// defaults (lr 0.001, beta1 0.9, beta2 0.999, eps 1e-8).
type AdamConfig struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
}

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{
		lr:    cfg.LR,
		beta1: cfg.Beta1,
		beta2: cfg.Beta2,
		eps:   cfg.Eps,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// Step applies one Adam update to every parameter with a gradient.
func (a *Adam) Step(params, grads map[string]*mat.Dense) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	for name, param := range params {
		grad, ok := grads[name]
		if !ok {
			continue
		}
		p := rawData(param)
		g := rawData(grad)

		m, ok := a.m[name]
		if !ok {
			m = make([]float64, len(p))
			a.m[name] = m
		}
		v, ok := a.v[name]
		if !ok {
			v = make([]float64, len(p))
			a.v[name] = v
		}

		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			mHat := m[i] / c1
			vHat := v[i] / c2
			p[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.lr = lr }
