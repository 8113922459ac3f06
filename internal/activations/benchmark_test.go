package activations

import (
	"math/rand/v2"
	"testing"
)

var sink float64

func BenchmarkActivations(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	inputs := make([]float64, 1024)
	for i := range inputs {
		inputs[i] = rng.NormFloat64() * 4
	}

	for _, name := range []string{"relu", "sigmoid", "identity"} {
		act, err := Parse(name)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(name+"/activate", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				for _, x := range inputs {
					sink += act.Activate(x)
				}
			}
		})
		b.Run(name+"/derivative", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				for _, x := range inputs {
					sink += act.Derivative(x)
				}
			}
		})
	}
}
