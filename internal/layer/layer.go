// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/FlavioCFOliveira/FailSight/internal/activations"
	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

// Layer is a neural network layer operating on mini-batches.
// Rows of the input matrix are samples, columns are features.
type Layer interface {
	// Forward runs the training-mode pass and caches what Backward needs.
	Forward(x *tensor.Matrix) *tensor.Matrix

	// Backward takes dL/d(output) and returns dL/d(input), filling the
	// layer's gradient buffers.
	Backward(grad *tensor.Matrix) *tensor.Matrix

	// Infer runs the inference-mode pass. It does not touch any cached
	// state, so concurrent calls are safe once training has stopped.
	Infer(x *tensor.Matrix) *tensor.Matrix

	// Params returns the live parameter buffers.
	Params() [][]float64

	// Gradients returns the live gradient buffers, aligned with Params.
	Gradients() [][]float64

	InSize() int
	OutSize() int
}

// Dense is a fully connected layer: activation(x·W + b), optionally followed
// by dropout in training mode.
// Buffers are kept between batches and reallocated only when the batch size
// changes.
type Dense struct {
	// Shape: [in, out]
	weights *tensor.Matrix
	biases  []float64
	act     activations.Activation
	dropout *Dropout
	inSize  int
	outSize int

	// Reusable buffers for gradient computation
	input     *tensor.Matrix
	preActBuf *tensor.Matrix
	outputBuf *tensor.Matrix
	dzBuf     *tensor.Matrix
	gradInBuf *tensor.Matrix
	gradWBuf  *tensor.Matrix
	gradBBuf  []float64
}

// DenseOption configures a Dense layer.
type DenseOption func(*Dense, *rand.Rand)

// WithDropout applies dropout with the given rate to the layer output during
// training.
func WithDropout(rate float64) DenseOption {
	return func(d *Dense, rng *rand.Rand) {
		if rate > 0 {
			d.dropout = NewDropout(rate, rng)
		}
	}
}

// NewDense creates a new dense layer.
// Weights use Glorot-uniform initialization drawn from rng; biases start at
// zero. A nil rng falls back to a fixed seed.
func NewDense(in, out int, act activations.Activation, rng *rand.Rand, opts ...DenseOption) *Dense {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("layer: invalid dense shape %d->%d", in, out))
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(42, 42))
	}
	if act == nil {
		act = activations.Identity{}
	}

	weights := tensor.New(in, out)
	limit := math.Sqrt(6.0 / float64(in+out))
	w := weights.Data()
	for i := range w {
		w[i] = rng.Float64()*2*limit - limit
	}

	d := &Dense{
		weights:  weights,
		biases:   make([]float64, out),
		act:      act,
		inSize:   in,
		outSize:  out,
		gradWBuf: tensor.New(in, out),
		gradBBuf: make([]float64, out),
	}
	for _, opt := range opts {
		opt(d, rng)
	}
	return d
}

// Forward performs a training-mode forward pass.
func (d *Dense) Forward(x *tensor.Matrix) *tensor.Matrix {
	d.checkInput(x)
	batch := x.Rows()

	d.input = x
	d.preActBuf = tensor.Ensure(d.preActBuf, batch, d.outSize)
	d.preActBuf.Mul(x, d.weights)
	d.preActBuf.AddRowVector(d.biases)

	d.outputBuf = tensor.Ensure(d.outputBuf, batch, d.outSize)
	d.outputBuf.Apply(d.act.Activate, d.preActBuf)

	if d.dropout != nil {
		return d.dropout.Forward(d.outputBuf)
	}
	return d.outputBuf
}

// Backward performs backpropagation through the dense layer.
// Weight and bias gradients are summed over the batch; the loss gradient is
// expected to carry the 1/batch factor already.
func (d *Dense) Backward(grad *tensor.Matrix) *tensor.Matrix {
	if d.input == nil {
		panic("layer: Dense.Backward called before Forward")
	}
	if d.dropout != nil {
		grad = d.dropout.Backward(grad)
	}
	batch := grad.Rows()

	// dz = dL/d(output) * activation'(z)
	d.dzBuf = tensor.Ensure(d.dzBuf, batch, d.outSize)
	d.dzBuf.Apply(d.act.Derivative, d.preActBuf)
	d.dzBuf.MulElem(d.dzBuf, grad)

	// dW = xᵀ·dz, db = column sums of dz
	d.gradWBuf.MulTransA(d.input, d.dzBuf)
	d.dzBuf.SumCols(d.gradBBuf)

	// dx = dz·Wᵀ
	d.gradInBuf = tensor.Ensure(d.gradInBuf, batch, d.inSize)
	d.gradInBuf.MulTransB(d.dzBuf, d.weights)
	return d.gradInBuf
}

// Infer performs an inference-mode forward pass into a fresh matrix.
// Dropout is the identity here.
func (d *Dense) Infer(x *tensor.Matrix) *tensor.Matrix {
	d.checkInput(x)
	out := tensor.New(x.Rows(), d.outSize)
	out.Mul(x, d.weights)
	out.AddRowVector(d.biases)
	out.Apply(d.act.Activate, out)
	return out
}

func (d *Dense) checkInput(x *tensor.Matrix) {
	if x.Cols() != d.inSize {
		panic(fmt.Sprintf("layer: dense expects %d inputs, got %d", d.inSize, x.Cols()))
	}
}

// Params returns the weight and bias buffers.
func (d *Dense) Params() [][]float64 {
	return [][]float64{d.weights.Data(), d.biases}
}

// Gradients returns the weight and bias gradient buffers.
func (d *Dense) Gradients() [][]float64 {
	return [][]float64{d.gradWBuf.Data(), d.gradBBuf}
}

// Weights returns the weight matrix directly.
func (d *Dense) Weights() *tensor.Matrix {
	return d.weights
}

// Biases returns the biases slice directly.
func (d *Dense) Biases() []float64 {
	return d.biases
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int {
	return d.inSize
}

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int {
	return d.outSize
}

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation {
	return d.act
}

// DropoutRate returns the dropout rate, 0 when dropout is disabled.
func (d *Dense) DropoutRate() float64 {
	if d.dropout == nil {
		return 0
	}
	return d.dropout.Rate()
}
