// Package net provides the feed-forward network model and its lifecycle.
package net

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/FlavioCFOliveira/FailSight/internal/layer"
	"github.com/FlavioCFOliveira/FailSight/internal/loss"
	"github.com/FlavioCFOliveira/FailSight/internal/opt"
	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

var (
	// ErrLayerMismatch is returned when consecutive layer widths do not chain.
	ErrLayerMismatch = errors.New("net: layer widths do not chain")

	// ErrInvalidState is returned when an operation is not allowed in the
	// model's current lifecycle state.
	ErrInvalidState = errors.New("net: invalid model state")

	// ErrNonFiniteLoss is returned by TrainBatch when the batch loss is NaN or
	// infinite. No update is applied in that case.
	ErrNonFiniteLoss = errors.New("net: non-finite loss")
)

// State is the lifecycle state of a Network.
type State int32

const (
	Untrained State = iota
	Training
	Trained
)

func (s State) String() string {
	switch s {
	case Untrained:
		return "untrained"
	case Training:
		return "training"
	case Trained:
		return "trained"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Network is an ordered stack of layers with a loss and an optimizer.
//
// Training methods must be called from a single goroutine. Once the network
// is Trained it is read-only and Predict may be called concurrently.
type Network struct {
	layers []layer.Layer
	loss   loss.Loss
	opt    opt.Optimizer
	state  atomic.Int32

	// Live parameter and gradient buffers of every layer, in layer order.
	params    [][]float64
	gradients [][]float64

	// Pre-allocated loss gradient, resized with the batch
	lossGradBuf *tensor.Matrix
}

// New creates a network from layers whose widths chain. The network starts
// Untrained.
func New(layers []layer.Layer, lossFn loss.Loss, optimizer opt.Optimizer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrLayerMismatch)
	}
	for i := 1; i < len(layers); i++ {
		if out, in := layers[i-1].OutSize(), layers[i].InSize(); out != in {
			return nil, fmt.Errorf("%w: layer %d outputs %d but layer %d expects %d", ErrLayerMismatch, i-1, out, i, in)
		}
	}
	if lossFn == nil {
		lossFn = loss.BCELoss{}
	}
	if optimizer == nil {
		optimizer = opt.NewAdam(0.001)
	}

	n := &Network{
		layers: layers,
		loss:   lossFn,
		opt:    optimizer,
	}
	for _, l := range layers {
		n.params = append(n.params, l.Params()...)
		n.gradients = append(n.gradients, l.Gradients()...)
	}
	return n, nil
}

// State returns the current lifecycle state.
func (n *Network) State() State {
	return State(n.state.Load())
}

// BeginTraining moves an Untrained network to Training.
func (n *Network) BeginTraining() error {
	if !n.state.CompareAndSwap(int32(Untrained), int32(Training)) {
		return fmt.Errorf("%w: cannot start training from %s", ErrInvalidState, n.State())
	}
	return nil
}

// MarkTrained seals a Training network. After this call the weights never
// change.
func (n *Network) MarkTrained() error {
	if !n.state.CompareAndSwap(int32(Training), int32(Trained)) {
		return fmt.Errorf("%w: cannot mark %s network trained", ErrInvalidState, n.State())
	}
	return nil
}

// InputSize returns the width the first layer accepts.
func (n *Network) InputSize() int {
	return n.layers[0].InSize()
}

// OutputSize returns the width of the last layer.
func (n *Network) OutputSize() int {
	return n.layers[len(n.layers)-1].OutSize()
}

// Forward performs a forward pass through all layers. With training set the
// layers cache activations for Backward and apply dropout; otherwise the
// stateless inference path is used.
func (n *Network) Forward(x *tensor.Matrix, training bool) *tensor.Matrix {
	curr := x
	for _, l := range n.layers {
		if training {
			curr = l.Forward(curr)
		} else {
			curr = l.Infer(curr)
		}
	}
	return curr
}

// Backward performs a backward pass through all layers.
func (n *Network) Backward(grad *tensor.Matrix) *tensor.Matrix {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// Step applies one optimizer update to every trainable parameter.
func (n *Network) Step() {
	n.opt.Step(n.params, n.gradients)
}

// TrainBatch runs forward, loss, backward and one optimizer step on a
// mini-batch and returns the batch loss. The network must be Training.
func (n *Network) TrainBatch(x, y *tensor.Matrix) (float64, error) {
	if s := n.State(); s != Training {
		return 0, fmt.Errorf("%w: train batch on %s network", ErrInvalidState, s)
	}

	yPred := n.Forward(x, true)
	l := n.loss.Forward(yPred, y)
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return l, ErrNonFiniteLoss
	}

	n.lossGradBuf = tensor.Ensure(n.lossGradBuf, yPred.Rows(), yPred.Cols())
	n.loss.Backward(yPred, y, n.lossGradBuf)
	n.Backward(n.lossGradBuf)
	n.Step()

	return l, nil
}

// Evaluate returns the mean loss and the binary accuracy at threshold 0.5 of
// the inference-mode predictions for x.
func (n *Network) Evaluate(x, y *tensor.Matrix) (lossValue, accuracy float64) {
	yPred := n.Forward(x, false)
	return n.loss.Forward(yPred, y), loss.BinaryAccuracy(yPred, y, 0.5)
}

// Predict runs inference on a batch. It allocates its own buffers and is safe
// for concurrent use on a Trained network.
func (n *Network) Predict(x *tensor.Matrix) *tensor.Matrix {
	return n.Forward(x, false)
}

// PredictOne runs inference on a single feature vector.
func (n *Network) PredictOne(features []float64) ([]float64, error) {
	if len(features) != n.InputSize() {
		return nil, fmt.Errorf("net: expected %d features, got %d", n.InputSize(), len(features))
	}
	out := n.Predict(tensor.FromSlice(1, len(features), features))
	return out.Row(0), nil
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// Loss returns the network's loss function.
func (n *Network) Loss() loss.Loss {
	return n.loss
}

// Optimizer returns the network's optimizer.
func (n *Network) Optimizer() opt.Optimizer {
	return n.opt
}

// NumParams returns the number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.params {
		total += len(p)
	}
	return total
}

// Params returns a flattened copy of all trainable parameters.
func (n *Network) Params() []float64 {
	out := make([]float64, 0, n.NumParams())
	for _, p := range n.params {
		out = append(out, p...)
	}
	return out
}
