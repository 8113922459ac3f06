// Package opt provides unit tests for optimizers.
package opt

import (
	"math"
	"testing"
)

// TestSGDStep tests SGD step computation.
func TestSGDStep(t *testing.T) {
	sgd := &SGD{LearningRate: 0.1}

	params := [][]float64{{1.0, 2.0, 3.0}}
	gradients := [][]float64{{0.1, 0.2, 0.3}}

	sgd.Step(params, gradients)

	// Expected: params - lr * gradients
	expected := []float64{
		1.0 - 0.1*0.1, // 0.99
		2.0 - 0.1*0.2, // 1.98
		3.0 - 0.1*0.3, // 2.97
	}

	for i := range expected {
		if math.Abs(params[0][i]-expected[i]) > 1e-10 {
			t.Errorf("params[%d] = %v, want %v", i, params[0][i], expected[i])
		}
	}
}

// TestSGDZeroLearningRate tests zero learning rate behavior.
func TestSGDZeroLearningRate(t *testing.T) {
	sgd := &SGD{LearningRate: 0.0}

	params := [][]float64{{1.0, 2.0, 3.0}}
	sgd.Step(params, [][]float64{{1.0, 1.0, 1.0}})

	for i, want := range []float64{1, 2, 3} {
		if params[0][i] != want {
			t.Errorf("With zero LR, param[%d] should not change: %v", i, params[0][i])
		}
	}
}

// TestSGDMultipleParameters tests updates over several buffers.
func TestSGDMultipleParameters(t *testing.T) {
	sgd := &SGD{LearningRate: 0.5}

	params := [][]float64{{1, 1}, {2}}
	sgd.Step(params, [][]float64{{2, -2}, {1}})

	if params[0][0] != 0 || params[0][1] != 2 || params[1][0] != 1.5 {
		t.Errorf("params = %v", params)
	}
}

// TestSGDConvergence minimises f(x) = x² from x = 5.
func TestSGDConvergence(t *testing.T) {
	sgd := &SGD{LearningRate: 0.1}
	x := [][]float64{{5}}
	for i := 0; i < 200; i++ {
		sgd.Step(x, [][]float64{{2 * x[0][0]}})
	}
	if math.Abs(x[0][0]) > 1e-6 {
		t.Errorf("x = %v, want ~0", x[0][0])
	}
}

// TestAdamNewAdam tests default hyper-parameters.
func TestAdamNewAdam(t *testing.T) {
	adam := NewAdam(0.001)

	if adam.LearningRate != 0.001 {
		t.Errorf("LearningRate = %v, want 0.001", adam.LearningRate)
	}
	if adam.Beta1 != 0.9 {
		t.Errorf("Beta1 = %v, want 0.9", adam.Beta1)
	}
	if adam.Beta2 != 0.999 {
		t.Errorf("Beta2 = %v, want 0.999", adam.Beta2)
	}
	if adam.Epsilon != 1e-8 {
		t.Errorf("Epsilon = %v, want 1e-8", adam.Epsilon)
	}
}

// TestAdamFirstStep checks that bias correction makes the first update
// lr * g / (|g| + ε), i.e. about lr against the gradient sign.
func TestAdamFirstStep(t *testing.T) {
	adam := NewAdam(0.001)

	params := [][]float64{{1.0, 1.0, 1.0}}
	gradients := [][]float64{{0.5, -3.0, 1e-3}}
	adam.Step(params, gradients)

	for i, g := range gradients[0] {
		want := 1.0 - 0.001*g/(math.Abs(g)+1e-8)
		if math.Abs(params[0][i]-want) > 1e-12 {
			t.Errorf("params[%d] = %v, want %v", i, params[0][i], want)
		}
	}
	if adam.Iterations() != 1 {
		t.Errorf("Iterations = %d, want 1", adam.Iterations())
	}
}

// TestAdamMomentState checks the second step against a hand computation.
func TestAdamMomentState(t *testing.T) {
	adam := NewAdam(0.1)
	params := [][]float64{{0}}

	adam.Step(params, [][]float64{{1}})
	adam.Step(params, [][]float64{{0.5}})

	m := 0.9*0.1 + 0.1*0.5
	v := 0.999*0.001 + 0.001*0.25
	mHat := m / (1 - 0.81)
	vHat := v / (1 - 0.999*0.999)
	first := -0.1 / (1 + 1e-8)
	want := first - 0.1*mHat/(math.Sqrt(vHat)+1e-8)

	if math.Abs(params[0][0]-want) > 1e-9 {
		t.Errorf("param = %v, want %v", params[0][0], want)
	}
}

// TestAdamZeroGradient tests that zero gradients leave params untouched.
func TestAdamZeroGradient(t *testing.T) {
	adam := NewAdam(0.01)
	params := [][]float64{{1.0, -2.0}}
	adam.Step(params, [][]float64{{0, 0}})

	if params[0][0] != 1.0 || params[0][1] != -2.0 {
		t.Errorf("params = %v, want unchanged", params[0])
	}
}

// TestAdamConvergence minimises f(x) = (x-3)².
func TestAdamConvergence(t *testing.T) {
	adam := NewAdam(0.05)
	x := [][]float64{{0}}
	for i := 0; i < 2000; i++ {
		adam.Step(x, [][]float64{{2 * (x[0][0] - 3)}})
	}
	if math.Abs(x[0][0]-3) > 1e-2 {
		t.Errorf("x = %v, want ~3", x[0][0])
	}
}

// TestAdamReset tests that Reset restarts bias correction.
func TestAdamReset(t *testing.T) {
	adam := NewAdam(0.001)
	params := [][]float64{{0}}
	adam.Step(params, [][]float64{{1}})
	adam.Step(params, [][]float64{{1}})
	adam.Reset()

	if adam.Iterations() != 0 {
		t.Fatalf("Iterations after Reset = %d", adam.Iterations())
	}

	fresh := [][]float64{{0}}
	adam.Step(fresh, [][]float64{{2}})
	if math.Abs(fresh[0][0]+0.001) > 1e-9 {
		t.Errorf("first step after reset = %v, want -0.001", fresh[0][0])
	}
}

func TestMisalignedBuffersPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewAdam(0.1).Step([][]float64{{1, 2}}, [][]float64{{1}})
}

// TestOptimizerInterface tests that optimizers implement the interface.
func TestOptimizerInterface(t *testing.T) {
	var _ Optimizer = &SGD{}
	var _ Optimizer = &Adam{}

	for _, name := range []string{"adam", "sgd"} {
		o, err := New(name, 0.01)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if o.Name() != name {
			t.Errorf("Name() = %q, want %q", o.Name(), name)
		}
	}
	if _, err := New("rmsprop", 0.01); err == nil {
		t.Error("New should reject unknown optimizers")
	}
}

func BenchmarkAdamStep(b *testing.B) {
	adam := NewAdam(0.001)
	params := [][]float64{make([]float64, 2048), make([]float64, 64)}
	gradients := [][]float64{make([]float64, 2048), make([]float64, 64)}
	for i := range gradients[0] {
		gradients[0][i] = float64(i%13) * 0.01
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		adam.Step(params, gradients)
	}
}
