// Package tensor provides the dense 2-D matrix used by the network layers.
//
// A Matrix keeps its values in a row-major contiguous slice shared with a
// gonum mat.Dense, so hot loops can index the slice directly while matrix
// products go through gonum's BLAS-backed implementation.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major matrix of float64 values.
// A Matrix exclusively owns its backing slice.
type Matrix struct {
	rows  int
	cols  int
	data  []float64
	dense *mat.Dense
}

// New creates a zero-filled matrix with the given shape.
func New(rows, cols int) *Matrix {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor: invalid shape %dx%d", rows, cols))
	}
	data := make([]float64, rows*cols)
	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

// FromSlice creates a matrix backed by a copy of data.
func FromSlice(rows, cols int, data []float64) *Matrix {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %d values for shape %dx%d", len(data), rows, cols))
	}
	m := New(rows, cols)
	copy(m.data, data)
	return m
}

// FromRows creates a matrix from equally sized rows.
func FromRows(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		panic("tensor: no rows")
	}
	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			panic(fmt.Sprintf("tensor: row %d has %d columns, want %d", i, len(r), cols))
		}
		copy(m.data[i*cols:(i+1)*cols], r)
	}
	return m
}

// Ensure returns m when it already has the requested shape, otherwise a new
// zeroed matrix. Used by layers to reuse buffers between batches.
func Ensure(m *Matrix, rows, cols int) *Matrix {
	if m != nil && m.rows == rows && m.cols == cols {
		return m
	}
	return New(rows, cols)
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Dims returns rows and columns.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// Data returns the backing slice. Writes are visible to the matrix.
func (m *Matrix) Data() []float64 { return m.data }

// At returns the element at (i, j).
func (m *Matrix) At(i, j int) float64 { return m.data[i*m.cols+j] }

// Set sets the element at (i, j).
func (m *Matrix) Set(i, j int, v float64) { m.data[i*m.cols+j] = v }

// Row returns a view of row i.
func (m *Matrix) Row(i int) []float64 { return m.data[i*m.cols : (i+1)*m.cols] }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix { return FromSlice(m.rows, m.cols, m.data) }

// Zero sets every element to zero.
func (m *Matrix) Zero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// Mul stores a·b in m.
func (m *Matrix) Mul(a, b *Matrix) {
	m.checkProduct(a.rows, a.cols, b.rows, b.cols)
	m.dense.Mul(a.dense, b.dense)
}

// MulTransA stores aᵀ·b in m.
func (m *Matrix) MulTransA(a, b *Matrix) {
	m.checkProduct(a.cols, a.rows, b.rows, b.cols)
	m.dense.Mul(a.dense.T(), b.dense)
}

// MulTransB stores a·bᵀ in m.
func (m *Matrix) MulTransB(a, b *Matrix) {
	m.checkProduct(a.rows, a.cols, b.cols, b.rows)
	m.dense.Mul(a.dense, b.dense.T())
}

func (m *Matrix) checkProduct(ar, ac, br, bc int) {
	if ac != br || m.rows != ar || m.cols != bc {
		panic(fmt.Sprintf("tensor: cannot store (%dx%d)·(%dx%d) in %dx%d", ar, ac, br, bc, m.rows, m.cols))
	}
}

// Dot returns a new matrix holding a·b.
func Dot(a, b *Matrix) *Matrix {
	m := New(a.rows, b.cols)
	m.Mul(a, b)
	return m
}

// T returns the transpose as a new matrix.
func (m *Matrix) T() *Matrix {
	t := New(m.cols, m.rows)
	t.dense.Copy(m.dense.T())
	return t
}

// AddRowVector adds v to every row (broadcast add).
func (m *Matrix) AddRowVector(v []float64) {
	if len(v) != m.cols {
		panic(fmt.Sprintf("tensor: broadcast of %d values over %d columns", len(v), m.cols))
	}
	for i := 0; i < m.rows; i++ {
		floats.Add(m.data[i*m.cols:(i+1)*m.cols], v)
	}
}

// Apply sets every element of m to fn applied to the same element of src.
func (m *Matrix) Apply(fn func(float64) float64, src *Matrix) {
	m.checkSame(src)
	for i, v := range src.data {
		m.data[i] = fn(v)
	}
}

// MulElem stores the element-wise product of a and b in m.
func (m *Matrix) MulElem(a, b *Matrix) {
	m.checkSame(a)
	m.checkSame(b)
	for i := range m.data {
		m.data[i] = a.data[i] * b.data[i]
	}
}

// Scale multiplies every element by f.
func (m *Matrix) Scale(f float64) {
	floats.Scale(f, m.data)
}

// SumCols returns the column sums (a row vector of length Cols) into dst.
func (m *Matrix) SumCols(dst []float64) []float64 {
	if len(dst) != m.cols {
		dst = make([]float64, m.cols)
	}
	for j := range dst {
		dst[j] = 0
	}
	for i := 0; i < m.rows; i++ {
		floats.Add(dst, m.data[i*m.cols:(i+1)*m.cols])
	}
	return dst
}

// IsFinite reports whether no element is NaN or ±Inf.
func (m *Matrix) IsFinite() bool {
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (m *Matrix) checkSame(o *Matrix) {
	if m.rows != o.rows || m.cols != o.cols {
		panic(fmt.Sprintf("tensor: shape mismatch %dx%d vs %dx%d", m.rows, m.cols, o.rows, o.cols))
	}
}

// String formats the matrix for debugging.
func (m *Matrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.dense, mat.Squeeze()))
}
