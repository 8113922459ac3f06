// Package activations provides activation functions optimized for performance.
package activations

import (
	"fmt"
	"math"
	"strings"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the pre-activation x
	Derivative(x float64) float64

	// Name returns the name used in configuration and summaries.
	Name() string
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x). NaN passes through.
func (r ReLU) Activate(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) Name() string { return "relu" }

// Sigmoid activation function.
type Sigmoid struct{}

// sigmoid computes the logistic function without overflowing exp for
// large negative inputs.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

func (s Sigmoid) Name() string { return "sigmoid" }

// Identity passes its input through unchanged.
type Identity struct{}

// Activate returns x
func (i Identity) Activate(x float64) float64 { return x }

// Derivative returns 1
func (i Identity) Derivative(x float64) float64 { return 1 }

func (i Identity) Name() string { return "identity" }

// Parse returns the activation registered under name (case-insensitive).
// "linear" is accepted as an alias of identity.
func Parse(name string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "relu":
		return ReLU{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "identity", "linear", "":
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
