package net

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/FlavioCFOliveira/FailSight/internal/activations"
	"github.com/FlavioCFOliveira/FailSight/internal/layer"
	"github.com/FlavioCFOliveira/FailSight/internal/loss"
	"github.com/FlavioCFOliveira/FailSight/internal/opt"
)

// LayerSpec describes one hidden dense layer.
type LayerSpec struct {
	Units      int     `yaml:"units"`
	Activation string  `yaml:"activation"`
	Dropout    float64 `yaml:"dropout"`
}

// DefaultHidden is the hidden stack of the failure predictor.
var DefaultHidden = []LayerSpec{
	{Units: 64, Activation: "relu", Dropout: 0.2},
	{Units: 32, Activation: "relu", Dropout: 0.2},
	{Units: 16, Activation: "relu"},
}

// Topology describes a binary classifier: an optional standardization stage,
// hidden dense layers and a single sigmoid output unit.
type Topology struct {
	Inputs int
	Hidden []LayerSpec
	// Standardize, when set, is prepended to the dense stack.
	Standardize *layer.Standardize
}

// NewSequential builds an Untrained binary classifier from t. Weights are
// drawn from rng.
func NewSequential(t Topology, optimizer opt.Optimizer, rng *rand.Rand) (*Network, error) {
	if t.Inputs <= 0 {
		return nil, fmt.Errorf("%w: input width %d", ErrLayerMismatch, t.Inputs)
	}

	var layers []layer.Layer
	if t.Standardize != nil {
		layers = append(layers, t.Standardize)
	}

	in := t.Inputs
	for i, spec := range t.Hidden {
		if spec.Units <= 0 {
			return nil, fmt.Errorf("%w: hidden layer %d has %d units", ErrLayerMismatch, i, spec.Units)
		}
		if spec.Dropout < 0 || spec.Dropout >= 1 {
			return nil, fmt.Errorf("net: hidden layer %d dropout %v outside [0,1)", i, spec.Dropout)
		}
		act, err := activations.Parse(spec.Activation)
		if err != nil {
			return nil, fmt.Errorf("net: hidden layer %d: %w", i, err)
		}
		layers = append(layers, layer.NewDense(in, spec.Units, act, rng, layer.WithDropout(spec.Dropout)))
		in = spec.Units
	}
	layers = append(layers, layer.NewDense(in, 1, activations.Sigmoid{}, rng))

	return New(layers, loss.BCELoss{}, optimizer)
}

// Summary writes a table of the network architecture to w.
func (n *Network) Summary(w io.Writer) {
	rule := strings.Repeat("_", 65)
	fmt.Fprintln(w, "Model: Sequential")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))

	for i, l := range n.layers {
		lType := fmt.Sprintf("%T", l)
		// Extract simple type name
		if j := strings.LastIndexByte(lType, '.'); j >= 0 {
			lType = lType[j+1:]
		}

		params := 0
		for _, p := range l.Params() {
			params += len(p)
		}
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", fmt.Sprintf("%s_%d", lType, i), fmt.Sprintf("(None, %d)", l.OutSize()), params)
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "Total params: %d\n", n.NumParams())
	fmt.Fprintln(w, rule)
}
