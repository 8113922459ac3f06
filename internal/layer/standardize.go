package layer

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

// Standardize rescales each input column to zero mean and unit variance using
// statistics fixed at construction. It has no trainable parameters.
type Standardize struct {
	mean []float64
	std  []float64

	outputBuf *tensor.Matrix
	gradInBuf *tensor.Matrix
}

// NewStandardize creates a standardization stage from per-column statistics.
// A zero (or undefined) deviation is replaced by 1 so constant columns pass
// through centred.
func NewStandardize(mean, std []float64) *Standardize {
	if len(mean) == 0 || len(mean) != len(std) {
		panic(fmt.Sprintf("layer: standardize needs matching stats, got %d means and %d deviations", len(mean), len(std)))
	}
	s := &Standardize{
		mean: append([]float64(nil), mean...),
		std:  append([]float64(nil), std...),
	}
	for i, v := range s.std {
		if !(v > 1e-12) {
			s.std[i] = 1
		}
	}
	return s
}

// FitStandardize computes column means and sample deviations of x.
func FitStandardize(x *tensor.Matrix) *Standardize {
	rows, cols := x.Dims()
	mean := make([]float64, cols)
	std := make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = x.At(i, j)
		}
		mean[j], std[j] = stat.MeanStdDev(col, nil)
	}
	return NewStandardize(mean, std)
}

func (s *Standardize) apply(dst, x *tensor.Matrix) {
	if x.Cols() != len(s.mean) {
		panic(fmt.Sprintf("layer: standardize expects %d inputs, got %d", len(s.mean), x.Cols()))
	}
	cols := x.Cols()
	src, out := x.Data(), dst.Data()
	for i, v := range src {
		j := i % cols
		out[i] = (v - s.mean[j]) / s.std[j]
	}
}

// Forward standardizes x into a reusable buffer.
func (s *Standardize) Forward(x *tensor.Matrix) *tensor.Matrix {
	s.outputBuf = tensor.Ensure(s.outputBuf, x.Rows(), x.Cols())
	s.apply(s.outputBuf, x)
	return s.outputBuf
}

// Backward scales the incoming gradient by 1/std.
func (s *Standardize) Backward(grad *tensor.Matrix) *tensor.Matrix {
	rows, cols := grad.Dims()
	s.gradInBuf = tensor.Ensure(s.gradInBuf, rows, cols)
	g, out := grad.Data(), s.gradInBuf.Data()
	for i, v := range g {
		out[i] = v / s.std[i%cols]
	}
	return s.gradInBuf
}

// Infer standardizes x into a fresh matrix.
func (s *Standardize) Infer(x *tensor.Matrix) *tensor.Matrix {
	out := tensor.New(x.Rows(), x.Cols())
	s.apply(out, x)
	return out
}

func (s *Standardize) Params() [][]float64    { return nil }
func (s *Standardize) Gradients() [][]float64 { return nil }
func (s *Standardize) InSize() int            { return len(s.mean) }
func (s *Standardize) OutSize() int           { return len(s.mean) }

// Mean returns a copy of the column means.
func (s *Standardize) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Std returns a copy of the column deviations actually used for scaling.
func (s *Standardize) Std() []float64 { return append([]float64(nil), s.std...) }
