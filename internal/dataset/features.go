// Package dataset synthesizes labeled equipment sensor samples and validates
// feature vectors coming from callers.
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// NumFeatures is the width of a feature vector.
const NumFeatures = 5

// Feature indices.
const (
	Temperature = iota
	Vibration
	Pressure
	Speed
	Load
)

// Features is one sensor reading: temperature, vibration, pressure, speed, load.
type Features [NumFeatures]float64

// Slice returns the features as a new slice.
func (f Features) Slice() []float64 {
	s := make([]float64, NumFeatures)
	copy(s, f[:])
	return s
}

// Range is a closed-open numeric interval [Min, Max).
type Range struct {
	Min float64
	Max float64
}

// FeatureSpec describes one feature.
type FeatureSpec struct {
	Name string
	Unit string
	// Synth is the uniform range samples are drawn from.
	Synth Range
	// Domain bounds (inclusive) accepted from callers.
	Domain Range
	// FailAbove marks a failure when the value is strictly greater.
	FailAbove float64
}

// Specs lists the features in vector order.
var Specs = [NumFeatures]FeatureSpec{
	Temperature: {Name: "temperature", Unit: "°C", Synth: Range{60, 100}, Domain: Range{-273.15, 1000}, FailAbove: 90},
	Vibration:   {Name: "vibration", Unit: "mm/s", Synth: Range{0, 0.5}, Domain: Range{0, 100}, FailAbove: 0.35},
	Pressure:    {Name: "pressure", Unit: "PSI", Synth: Range{80, 140}, Domain: Range{0, 10000}, FailAbove: 140},
	Speed:       {Name: "speed", Unit: "RPM", Synth: Range{1500, 2500}, Domain: Range{0, 100000}, FailAbove: 2200},
	Load:        {Name: "load", Unit: "%", Synth: Range{50, 100}, Domain: Range{0, 1000}, FailAbove: 90},
}

// DefaultInput is the reading the dashboard form starts with.
var DefaultInput = Features{75, 0.2, 120, 1800, 85}

// FailureLabel applies the threshold rule: 1 when any feature exceeds its
// failure threshold, otherwise 0.
func FailureLabel(f Features) int {
	for i, spec := range Specs {
		if f[i] > spec.FailAbove {
			return 1
		}
	}
	return 0
}

// ErrInvalidInput is matched by every InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError reports a rejected feature vector.
type InputError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Validate checks width, finiteness and domain bounds of a raw vector.
func Validate(values []float64) (Features, error) {
	var f Features
	if len(values) != NumFeatures {
		return f, &InputError{Reason: fmt.Sprintf("expected %d features, got %d", NumFeatures, len(values))}
	}
	for i, v := range values {
		spec := Specs[i]
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			return f, &InputError{Field: spec.Name, Value: v, Reason: "not a finite number"}
		case v < spec.Domain.Min || v > spec.Domain.Max:
			return f, &InputError{Field: spec.Name, Value: v,
				Reason: fmt.Sprintf("outside [%v, %v] %s", spec.Domain.Min, spec.Domain.Max, spec.Unit)}
		}
		f[i] = v
	}
	return f, nil
}
