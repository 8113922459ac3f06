package layer

import (
	"math"
	"testing"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

func TestFitStandardize(t *testing.T) {
	x := tensor.FromRows([][]float64{{1, 100}, {2, 100}, {3, 100}})
	s := FitStandardize(x)

	if m := s.Mean(); m[0] != 2 || m[1] != 100 {
		t.Errorf("mean = %v, want [2 100]", m)
	}
	// constant column falls back to unit deviation
	if sd := s.Std(); sd[0] != 1 || sd[1] != 1 {
		t.Errorf("std = %v, want [1 1]", sd)
	}

	out := s.Infer(x)
	if out.At(0, 0) != -1 || out.At(2, 0) != 1 || out.At(1, 1) != 0 {
		t.Errorf("standardized = %v", out.Data())
	}
}

func TestStandardizeBackward(t *testing.T) {
	s := NewStandardize([]float64{0, 0}, []float64{2, 4})
	s.Forward(tensor.FromRows([][]float64{{1, 1}}))

	g := s.Backward(tensor.FromRows([][]float64{{1, 1}}))
	if g.At(0, 0) != 0.5 || g.At(0, 1) != 0.25 {
		t.Errorf("grad = %v, want [0.5 0.25]", g.Data())
	}
}

func TestStandardizePropagatesNaN(t *testing.T) {
	x := tensor.FromRows([][]float64{{math.NaN()}, {1}})
	s := FitStandardize(x)
	if s.Infer(x).IsFinite() {
		t.Error("NaN input statistics should not be masked")
	}
}

func TestStandardizeHasNoParams(t *testing.T) {
	s := NewStandardize([]float64{1}, []float64{1})
	if s.Params() != nil || s.Gradients() != nil {
		t.Error("standardize must not expose trainable parameters")
	}
	if s.InSize() != 1 || s.OutSize() != 1 {
		t.Error("standardize keeps the width")
	}
}
