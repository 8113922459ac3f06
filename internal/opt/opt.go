// Package opt provides optimization algorithms.
package opt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer updates network parameters in place from their gradients.
// params and gradients are aligned lists of buffers, in the same order on
// every call.
type Optimizer interface {
	Step(params, gradients [][]float64)

	// Reset drops any accumulated state.
	Reset()

	Name() string
}

func checkAligned(params, gradients [][]float64) {
	if len(params) != len(gradients) {
		panic(fmt.Sprintf("opt: %d parameter buffers but %d gradient buffers", len(params), len(gradients)))
	}
	for i := range params {
		if len(params[i]) != len(gradients[i]) {
			panic(fmt.Sprintf("opt: buffer %d has %d params but %d gradients", i, len(params[i]), len(gradients[i])))
		}
	}
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	LearningRate float64
}

// Step updates params in-place: params = params - lr * gradients
func (s *SGD) Step(params, gradients [][]float64) {
	checkAligned(params, gradients)
	for i := range params {
		floats.AddScaled(params[i], -s.LearningRate, gradients[i])
	}
}

func (s *SGD) Reset()       {}
func (s *SGD) Name() string { return "sgd" }

// Adam optimizer with bias-corrected first and second moment estimates.
type Adam struct {
	LearningRate float64
	Beta1        float64 // Exponential decay rate for first moment
	Beta2        float64 // Exponential decay rate for second moment
	Epsilon      float64 // Small constant for numerical stability

	m [][]float64
	v [][]float64
	t int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Step applies one Adam update to every parameter:
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	θ -= lr · m̂ / (√v̂ + ε)
func (a *Adam) Step(params, gradients [][]float64) {
	checkAligned(params, gradients)
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p))
			a.v[i] = make([]float64, len(p))
		}
	} else if len(a.m) != len(params) {
		panic(fmt.Sprintf("opt: Adam state tracks %d buffers, got %d", len(a.m), len(params)))
	}

	a.t++
	b1, b2 := a.Beta1, a.Beta2
	corr1 := 1 - math.Pow(b1, float64(a.t))
	corr2 := 1 - math.Pow(b2, float64(a.t))

	for i, p := range params {
		g := gradients[i]
		m, v := a.m[i], a.v[i]
		for j := range p {
			m[j] = b1*m[j] + (1-b1)*g[j]
			v[j] = b2*v[j] + (1-b2)*g[j]*g[j]
			mHat := m[j] / corr1
			vHat := v[j] / corr2
			p[j] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// Reset clears the moment estimates and the iteration counter.
func (a *Adam) Reset() {
	a.m, a.v, a.t = nil, nil, 0
}

// Iterations returns how many updates have been applied.
func (a *Adam) Iterations() int {
	return a.t
}

func (a *Adam) Name() string { return "adam" }

// New creates an optimizer by name.
func New(name string, learningRate float64) (Optimizer, error) {
	switch name {
	case "adam", "":
		return NewAdam(learningRate), nil
	case "sgd":
		return &SGD{LearningRate: learningRate}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
