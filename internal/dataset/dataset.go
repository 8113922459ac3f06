package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/FlavioCFOliveira/FailSight/internal/tensor"
)

// Sample is an immutable labeled reading.
type Sample struct {
	Features  Features
	Label     int
	CreatedAt time.Time
}

// Dataset is an ordered sequence of samples.
type Dataset []Sample

// ValidationSize returns how many trailing samples a split of n holds out:
// ⌈n·fraction⌉.
func ValidationSize(n int, fraction float64) int {
	// tolerance absorbs representation error, e.g. 0.2·1000
	return int(math.Ceil(float64(n)*fraction - 1e-9))
}

// Split partitions the dataset into training and validation parts. The
// validation part is the trailing ⌈n·fraction⌉ samples; order is preserved.
// Both parts share the receiver's backing array.
func (d Dataset) Split(fraction float64) (train, val Dataset, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, &InputError{Reason: fmt.Sprintf("validation fraction %v outside (0,1)", fraction)}
	}
	nVal := ValidationSize(len(d), fraction)
	nTrain := len(d) - nVal
	if nTrain < 1 || nVal < 1 {
		return nil, nil, &InputError{Reason: fmt.Sprintf("%d samples cannot be split %v for validation", len(d), fraction)}
	}
	return d[:nTrain:nTrain], d[nTrain:], nil
}

// Matrices returns the features as an n×NumFeatures matrix and the labels as
// an n×1 matrix.
func (d Dataset) Matrices() (x, y *tensor.Matrix) {
	x = tensor.New(len(d), NumFeatures)
	y = tensor.New(len(d), 1)
	for i, s := range d {
		copy(x.Row(i), s.Features[:])
		y.Set(i, 0, float64(s.Label))
	}
	return x, y
}

// Batch gathers the samples at idx into matrices.
func (d Dataset) Batch(idx []int) (x, y *tensor.Matrix) {
	x = tensor.New(len(idx), NumFeatures)
	y = tensor.New(len(idx), 1)
	for i, j := range idx {
		copy(x.Row(i), d[j].Features[:])
		y.Set(i, 0, float64(d[j].Label))
	}
	return x, y
}

// Validate checks that every label is 0 or 1.
func (d Dataset) Validate() error {
	if len(d) == 0 {
		return &InputError{Reason: "dataset is empty"}
	}
	for i, s := range d {
		if _, err := Validate(s.Features[:]); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if s.Label != 0 && s.Label != 1 {
			return &InputError{Field: "label", Value: float64(s.Label), Reason: fmt.Sprintf("sample %d label must be 0 or 1", i)}
		}
	}
	return nil
}

// FailureRate returns the fraction of samples labeled 1.
func (d Dataset) FailureRate() float64 {
	if len(d) == 0 {
		return 0
	}
	n := 0
	for _, s := range d {
		n += s.Label
	}
	return float64(n) / float64(len(d))
}

// Synthesizer draws samples uniformly from each feature's synthetic range and
// labels them with FailureLabel. It is not safe for concurrent use; give each
// goroutine its own Synthesizer.
type Synthesizer struct {
	rng      *rand.Rand
	now      func() time.Time
	interval time.Duration
}

// SynthOption configures a Synthesizer.
type SynthOption func(*Synthesizer)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) SynthOption {
	return func(s *Synthesizer) { s.now = now }
}

// WithInterval sets the spacing between consecutive timestamps.
func WithInterval(d time.Duration) SynthOption {
	return func(s *Synthesizer) { s.interval = d }
}

// NewSynthesizer creates a synthesizer drawing from rng.
func NewSynthesizer(rng *rand.Rand, opts ...SynthOption) *Synthesizer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := &Synthesizer{
		rng:      rng,
		now:      time.Now,
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns n fresh samples. Timestamps step forward by the configured
// interval and end one interval before the clock's current time.
func (s *Synthesizer) Generate(n int) (Dataset, error) {
	if n <= 0 {
		return nil, &InputError{Reason: fmt.Sprintf("sample count must be positive, got %d", n)}
	}
	now := s.now()
	data := make(Dataset, n)
	for i := range data {
		var f Features
		for j, spec := range Specs {
			f[j] = spec.Synth.Min + s.rng.Float64()*(spec.Synth.Max-spec.Synth.Min)
		}
		data[i] = Sample{
			Features:  f,
			Label:     FailureLabel(f),
			CreatedAt: now.Add(-time.Duration(n-i) * s.interval),
		}
	}
	return data, nil
}
