// Package loss provides loss functions over prediction batches.
package loss

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

// DefaultEpsilon bounds probabilities away from 0 and 1 before taking logs.
const DefaultEpsilon = 1e-7

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the mean loss between predicted and true values.
	Forward(yPred, yTrue *tensor.Matrix) float64

	// Backward computes the gradient of the mean loss w.r.t. prediction into
	// grad, which must have the shape of yPred.
	Backward(yPred, yTrue, grad *tensor.Matrix)
}

// BCELoss (Binary Cross Entropy) loss.
// Requires predictions to be in range [0, 1].
type BCELoss struct {
	// Epsilon clips predictions into [eps, 1-eps]; zero means DefaultEpsilon.
	Epsilon float64
}

func (b BCELoss) eps() float64 {
	if b.Epsilon > 0 {
		return b.Epsilon
	}
	return DefaultEpsilon
}

// clip keeps NaN as NaN so divergence stays visible to the caller.
func clip(p, eps float64) float64 {
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func checkShapes(a, b *tensor.Matrix) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("BCELoss: prediction %dx%d and target %dx%d must have same shape", ar, ac, br, bc))
	}
}

// Forward computes binary cross entropy: -(1/n) * sum(y*log(p) + (1-y)*log(1-p))
func (b BCELoss) Forward(yPred, yTrue *tensor.Matrix) float64 {
	checkShapes(yPred, yTrue)
	eps := b.eps()

	pred, target := yPred.Data(), yTrue.Data()
	var sum float64
	for i, p := range pred {
		p = clip(p, eps)
		sum += target[i]*math.Log(p) + (1.0-target[i])*math.Log(1.0-p)
	}
	return -sum / float64(len(pred))
}

// Backward computes gradient for BCE loss.
// Gradient: d/d_pred = (pred - y) / (pred * (1-pred)) / n
func (b BCELoss) Backward(yPred, yTrue, grad *tensor.Matrix) {
	checkShapes(yPred, yTrue)
	checkShapes(yPred, grad)
	eps := b.eps()

	pred, target, g := yPred.Data(), yTrue.Data(), grad.Data()
	n := float64(len(pred))
	for i, p := range pred {
		p = clip(p, eps)
		g[i] = (p - target[i]) / (p * (1.0 - p) * n)
	}
}

// BinaryAccuracy returns the fraction of rows where (p > threshold) matches
// the 0/1 target.
func BinaryAccuracy(yPred, yTrue *tensor.Matrix, threshold float64) float64 {
	checkShapes(yPred, yTrue)
	pred, target := yPred.Data(), yTrue.Data()
	if len(pred) == 0 {
		return 0
	}
	correct := 0
	for i, p := range pred {
		label := 0.0
		if p > threshold {
			label = 1
		}
		if label == target[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(pred))
}
