package layer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

func ones(rows, cols int) *tensor.Matrix {
	m := tensor.New(rows, cols)
	for i := range m.Data() {
		m.Data()[i] = 1
	}
	return m
}

func TestDropoutForwardTraining(t *testing.T) {
	dropout := NewDropout(0.5, newRNG())

	output := dropout.Forward(ones(1, 100))

	nonZero := 0
	for _, v := range output.Data() {
		if v != 0 {
			nonZero++
		}
	}

	// Approximately 50% should be non-zero
	if nonZero < 30 || nonZero > 70 {
		t.Errorf("Expected ~50%% non-zero outputs, got %d/100", nonZero)
	}
}

func TestDropoutScalesSurvivors(t *testing.T) {
	dropout := NewDropout(0.2, newRNG())
	output := dropout.Forward(ones(4, 50))

	for i, v := range output.Data() {
		if v != 0 && math.Abs(v-1.25) > 1e-12 {
			t.Fatalf("output[%d] = %v, want 0 or 1.25", i, v)
		}
	}
}

func TestDropoutPreservesExpectedMagnitude(t *testing.T) {
	dropout := NewDropout(0.2, newRNG())
	output := dropout.Forward(ones(100, 100))

	mean := 0.0
	for _, v := range output.Data() {
		mean += v
	}
	mean /= 10000

	if math.Abs(mean-1) > 0.05 {
		t.Errorf("mean after dropout = %v, want about 1", mean)
	}
}

func TestDropoutBackward(t *testing.T) {
	dropout := NewDropout(0.5, newRNG())
	out := dropout.Forward(ones(1, 10)).Clone()

	grad := dropout.Backward(ones(1, 10))

	scale := 1.0 / (1.0 - 0.5)
	for i := 0; i < 10; i++ {
		if out.Data()[i] > 0 {
			if math.Abs(grad.Data()[i]-scale) > 1e-10 {
				t.Errorf("Grad[%d] = %f, expected %f (scaled)", i, grad.Data()[i], scale)
			}
		} else if grad.Data()[i] != 0 {
			t.Errorf("Grad[%d] = %f, expected 0 (dropped)", i, grad.Data()[i])
		}
	}
}

func TestDropoutSeeded(t *testing.T) {
	a := NewDropout(0.5, rand.New(rand.NewPCG(3, 3)))
	b := NewDropout(0.5, rand.New(rand.NewPCG(3, 3)))

	ma := a.Forward(ones(1, 64)).Clone()
	mb := b.Forward(ones(1, 64))
	for i := range ma.Data() {
		if ma.Data()[i] != mb.Data()[i] {
			t.Fatalf("mask mismatch at %d", i)
		}
	}
}

func TestDropoutZeroRateKeepsEverything(t *testing.T) {
	dropout := NewDropout(0, newRNG())
	for i, v := range dropout.Forward(ones(1, 100)).Data() {
		if v != 1 {
			t.Fatalf("output[%d] = %v, want 1", i, v)
		}
	}
}

func TestDropoutRejectsInvalidRate(t *testing.T) {
	for _, rate := range []float64{-0.1, 1, 1.5} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("rate %v should panic", rate)
				}
			}()
			NewDropout(rate, nil)
		}()
	}
}

func BenchmarkDropoutForwardTraining(b *testing.B) {
	dropout := NewDropout(0.5, newRNG())
	input := ones(32, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dropout.Forward(input)
	}
}
