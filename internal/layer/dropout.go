package layer

import (
	"fmt"
	"math/rand/v2"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

// Dropout implements inverted dropout.
// During training each unit is zeroed with probability rate and survivors are
// scaled by 1/(1-rate), so inference is a plain pass-through.
type Dropout struct {
	// Probability of dropping a unit
	rate  float64
	scale float64

	// Reusable buffers; maskBuf holds 0 or scale per unit for the backward pass
	maskBuf   *tensor.Matrix
	outputBuf *tensor.Matrix
	gradInBuf *tensor.Matrix

	rng *rand.Rand
}

// NewDropout creates a dropout stage. rate must be in [0, 1).
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("layer: dropout rate %v outside [0,1)", rate))
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(42, 42))
	}
	return &Dropout{
		rate:  rate,
		scale: 1.0 / (1.0 - rate),
		rng:   rng,
	}
}

// Rate returns the drop probability.
func (d *Dropout) Rate() float64 {
	return d.rate
}

// Forward samples a fresh mask and applies it to x.
func (d *Dropout) Forward(x *tensor.Matrix) *tensor.Matrix {
	rows, cols := x.Dims()
	d.maskBuf = tensor.Ensure(d.maskBuf, rows, cols)
	d.outputBuf = tensor.Ensure(d.outputBuf, rows, cols)

	mask := d.maskBuf.Data()
	for i := range mask {
		if d.rng.Float64() < d.rate {
			mask[i] = 0
		} else {
			mask[i] = d.scale
		}
	}
	d.outputBuf.MulElem(x, d.maskBuf)
	return d.outputBuf
}

// Backward routes the gradient through the units kept by the last Forward.
func (d *Dropout) Backward(grad *tensor.Matrix) *tensor.Matrix {
	if d.maskBuf == nil {
		panic("layer: Dropout.Backward called before Forward")
	}
	rows, cols := grad.Dims()
	d.gradInBuf = tensor.Ensure(d.gradInBuf, rows, cols)
	d.gradInBuf.MulElem(grad, d.maskBuf)
	return d.gradInBuf
}
