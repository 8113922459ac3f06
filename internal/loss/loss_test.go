// Package loss provides unit tests for loss functions.
package loss

import (
	"math"
	"testing"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

func column(values ...float64) *tensor.Matrix {
	return tensor.FromSlice(len(values), 1, values)
}

// TestBCELossForward tests BCE loss forward pass.
func TestBCELossForward(t *testing.T) {
	bce := BCELoss{}

	tests := []struct {
		name     string
		yPred    []float64
		yTrue    []float64
		expected float64
	}{
		{"Near perfect", []float64{0.99, 0.01}, []float64{1.0, 0.0}, -math.Log(0.99)},
		{"Uniform", []float64{0.5, 0.5}, []float64{1.0, 0.0}, math.Ln2},
		{"Mixed", []float64{0.8, 0.4}, []float64{1.0, 1.0}, -(math.Log(0.8) + math.Log(0.4)) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bce.Forward(column(tt.yPred...), column(tt.yTrue...))
			if math.Abs(result-tt.expected) > 1e-12 {
				t.Errorf("BCELoss.Forward() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestBCELossClamping checks that saturated predictions give a large but
// finite loss.
func TestBCELossClamping(t *testing.T) {
	bce := BCELoss{}

	l := bce.Forward(column(0, 1), column(1, 0))
	if math.IsInf(l, 0) || math.IsNaN(l) {
		t.Fatalf("loss = %v, want finite", l)
	}
	if want := -math.Log(DefaultEpsilon); math.Abs(l-want) > 1e-6 {
		t.Errorf("loss = %v, want %v", l, want)
	}

	grad := tensor.New(2, 1)
	bce.Backward(column(0, 1), column(1, 0), grad)
	if !grad.IsFinite() {
		t.Errorf("gradient = %v, want finite", grad.Data())
	}
}

func TestBCELossKeepsNaN(t *testing.T) {
	l := BCELoss{}.Forward(column(math.NaN()), column(1))
	if !math.IsNaN(l) {
		t.Errorf("loss = %v, want NaN", l)
	}
}

// TestBCELossBackward tests BCE loss backward pass.
func TestBCELossBackward(t *testing.T) {
	bce := BCELoss{}

	grad := tensor.New(2, 1)
	bce.Backward(column(0.7, 0.3), column(1.0, 0.0), grad)

	// For BCE: grad = (pred - y) / (pred * (1-pred)) / n
	// Sample 1: (0.7 - 1) / (0.7 * 0.3) / 2 = -0.714...
	// Sample 2: (0.3 - 0) / (0.3 * 0.7) / 2 = 0.714...
	expected := []float64{-0.3 / 0.42, 0.3 / 0.42}

	for i, g := range grad.Data() {
		if math.Abs(g-expected[i]) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, g, expected[i])
		}
	}
}

// TestBCELossGradientNumeric checks Backward against finite differences.
func TestBCELossGradientNumeric(t *testing.T) {
	bce := BCELoss{}
	pred := []float64{0.2, 0.6, 0.9}
	target := column(0, 1, 1)

	grad := tensor.New(3, 1)
	bce.Backward(column(pred...), target, grad)

	const h = 1e-7
	for i := range pred {
		plus := append([]float64(nil), pred...)
		minus := append([]float64(nil), pred...)
		plus[i] += h
		minus[i] -= h
		numeric := (bce.Forward(column(plus...), target) - bce.Forward(column(minus...), target)) / (2 * h)
		if math.Abs(numeric-grad.Data()[i]) > 1e-5 {
			t.Errorf("grad[%d]: analytic %v, numeric %v", i, grad.Data()[i], numeric)
		}
	}
}

func TestBCELossShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	BCELoss{}.Forward(column(0.5, 0.5), column(1))
}

func TestBinaryAccuracy(t *testing.T) {
	pred := column(0.9, 0.51, 0.5, 0.1)
	target := column(1, 1, 1, 0)

	// 0.5 is not > 0.5, so the third row is predicted 0
	if acc := BinaryAccuracy(pred, target, 0.5); acc != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", acc)
	}
}
