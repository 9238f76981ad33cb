package nn

import (
	"math"
)

// Optimizer updates a fixed set of parameters from their gradients.
type Optimizer interface {
	ZeroGrad()
	Step()
}

// Adam implements the Adam update rule.
type Adam struct {
	params []*Param
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	m      [][]float64
	v      [][]float64
	t      int
}

// NewAdam returns an Adam optimizer with the usual beta defaults.
func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{params: params, lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		n := len(p.Value.RawMatrix().Data)
		a.m = append(a.m, make([]float64, n))
		a.v = append(a.v, make([]float64, n))
	}
	return a
}

func (a *Adam) ZeroGrad() { ZeroGrad(a.params) }

// Step applies one bias-corrected Adam update.
func (a *Adam) Step() {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, v := a.m[i], a.v[i]
		for j := range w {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			w[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.eps)
		}
	}
}

// SGD is stochastic gradient descent with optional momentum and L2 weight decay.
type SGD struct {
	params      []*Param
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    [][]float64
}

// NewSGD returns SGD with the given momentum and weight decay; zero disables either.
func NewSGD(params []*Param, lr, momentum, weightDecay float64) *SGD {
	s := &SGD{params: params, lr: lr, momentum: momentum, weightDecay: weightDecay}
	for _, p := range params {
		s.velocity = append(s.velocity, make([]float64, len(p.Value.RawMatrix().Data)))
	}
	return s
}

func (s *SGD) ZeroGrad() { ZeroGrad(s.params) }

// Step applies one momentum update with weight decay folded into the gradient.
func (s *SGD) Step() {
	for i, p := range s.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		vel := s.velocity[i]
		for j := range w {
			d := g[j] + s.weightDecay*w[j]
			vel[j] = s.momentum*vel[j] + d
			w[j] -= s.lr * vel[j]
		}
	}
}
