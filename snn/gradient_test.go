package snn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
)

func newTestRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func randomBatch(rng *rand.Rand, batch, width int) [][]float32 {
	out := make([][]float32, batch)
	for s := range out {
		out[s] = make([]float32, width)
		for i := range out[s] {
			out[s][i] = rng.Float32()*2 - 1
		}
	}
	return out
}

// lossAt runs a forward pass and returns the MSE against targets
func lossAt(t *testing.T, net *Network, inputs, targets [][]float32) float64 {
	t.Helper()
	outputs, err := net.Forward(inputs)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	loss, _, err := MSELoss{}.Compute(outputs, targets)
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}
	return float64(loss)
}

// analyticGradients runs forward+backward and returns copies of all gradients
func analyticGradients(t *testing.T, net *Network, inputs, targets [][]float32) ([][]float32, [][]float32) {
	t.Helper()
	outputs, err := net.Forward(inputs)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	_, grads, err := MSELoss{}.Compute(outputs, targets)
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}
	if err := net.Backward(grads); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	weights := make([][]float32, len(net.Blocks))
	decays := make([][]float32, len(net.Blocks))
	for i := range net.Blocks {
		weights[i] = append([]float32(nil), net.WeightGradients()[i]...)
		decays[i] = append([]float32(nil), net.DecayGradients()[i]...)
	}
	return weights, decays
}

// numericGradient differentiates the loss w.r.t. values, which must alias network storage
func numericGradient(t *testing.T, net *Network, values []float32, inputs, targets [][]float32, step float64) []float64 {
	t.Helper()
	saved := append([]float32(nil), values...)
	x := make([]float64, len(values))
	for i, v := range values {
		x[i] = float64(v)
	}

	grad := fd.Gradient(nil, func(p []float64) float64 {
		for i, v := range p {
			values[i] = float32(v)
		}
		return lossAt(t, net, inputs, targets)
	}, x, &fd.Settings{Formula: fd.Central, Step: step})

	copy(values, saved)
	return grad
}

func checkClose(t *testing.T, name string, analytic []float32, numeric []float64, tol float64) {
	t.Helper()
	for i := range analytic {
		a, n := float64(analytic[i]), numeric[i]
		if math.Abs(a-n) > tol*math.Max(1, math.Abs(n)) {
			t.Errorf("%s[%d]: analytic %.6f, numeric %.6f", name, i, a, n)
		}
	}
}

// TestAffineWeightGradient checks the synapse backward against finite differences
func TestAffineWeightGradient(t *testing.T) {
	const steps = 5
	rng := newTestRand()
	params := DefaultCUBAParams()
	params.CurrentDecay = 0.3

	net, err := NewNetwork(steps, InitAffineBlock(params, 3, 2, rng))
	if err != nil {
		t.Fatal(err)
	}
	inputs := randomBatch(rng, 4, steps*3)
	targets := randomBatch(rng, 4, steps*2)

	weightGrads, _ := analyticGradients(t, net, inputs, targets)
	numeric := numericGradient(t, net, net.Blocks[0].Weights, inputs, targets, 1e-2)
	checkClose(t, "weights", weightGrads[0], numeric, 1e-3)
}

// TestChainedWeightGradient checks gradients flow through a block's input
func TestChainedWeightGradient(t *testing.T) {
	const steps = 4
	rng := newTestRand()
	params := DefaultCUBAParams()
	params.CurrentDecay = 0.5

	net, err := NewNetwork(steps,
		InitAffineBlock(params, 3, 4, rng),
		InitAffineBlock(params, 4, 2, rng),
	)
	if err != nil {
		t.Fatal(err)
	}
	inputs := randomBatch(rng, 3, steps*3)
	targets := randomBatch(rng, 3, steps*2)

	weightGrads, _ := analyticGradients(t, net, inputs, targets)
	for bi := range net.Blocks {
		numeric := numericGradient(t, net, net.Blocks[bi].Weights, inputs, targets, 1e-2)
		checkClose(t, "weights", weightGrads[bi], numeric, 1e-3)
	}
}

// TestDecayGradient checks the gradients of the learnable current and voltage decays
func TestDecayGradient(t *testing.T) {
	const steps = 5
	rng := newTestRand()
	params := DefaultCUBAParams()
	params.CurrentDecay = 0.4
	params.VoltageDecay = 0.3

	net, err := NewNetwork(steps, InitAffineBlock(params, 2, 2, rng))
	if err != nil {
		t.Fatal(err)
	}
	inputs := randomBatch(rng, 3, steps*2)
	targets := randomBatch(rng, 3, steps*2)

	_, decayGrads := analyticGradients(t, net, inputs, targets)
	numeric := numericGradient(t, net, net.Blocks[0].Decay, inputs, targets, 1e-3)
	checkClose(t, "decay", decayGrads[0], numeric, 5e-3)
}

// TestFrozenDecayHasNoGradient verifies RequiresGrad=false keeps decays out of training
func TestFrozenDecayHasNoGradient(t *testing.T) {
	rng := newTestRand()
	params := DefaultCUBAParams()
	params.RequiresGrad = false

	net, err := NewNetwork(4, InitAffineBlock(params, 2, 1, rng))
	if err != nil {
		t.Fatal(err)
	}
	_, decayGrads := analyticGradients(t, net, randomBatch(rng, 2, 8), randomBatch(rng, 2, 4))
	if decayGrads[0][0] != 0 || decayGrads[0][1] != 0 {
		t.Errorf("Expected zero decay gradients, got %v", decayGrads[0])
	}
	for _, p := range net.Parameters() {
		if p.Clamp {
			t.Errorf("frozen decay %s listed as a parameter", p.Name)
		}
	}
}

// TestSurrogateGradientReachesHiddenBlocks verifies spiking blocks receive gradients
func TestSurrogateGradientReachesHiddenBlocks(t *testing.T) {
	const steps = 10
	net, err := NewXORNetwork(steps, 7)
	if err != nil {
		t.Fatal(err)
	}
	inputs := [][]float32{broadcastPair(1, 0, steps), broadcastPair(0, 1, steps)}
	ones := make([]float32, steps)
	for i := range ones {
		ones[i] = 1
	}
	targets := [][]float32{ones, ones}

	weightGrads, _ := analyticGradients(t, net, inputs, targets)
	for bi := 1; bi < len(net.Blocks); bi++ {
		nonZero := false
		for _, g := range weightGrads[bi] {
			if g != 0 {
				nonZero = true
				break
			}
		}
		if !nonZero {
			t.Errorf("block %d (%s) received no weight gradient", bi, net.Blocks[bi].Type)
		}
	}
}

// TestParallelBackwardMatchesSerial verifies the worker pool does not change results
func TestParallelBackwardMatchesSerial(t *testing.T) {
	const steps = 8
	rng := newTestRand()
	inputs := make([][]float32, 6)
	for s := range inputs {
		inputs[s] = broadcastPair(float32(rng.Intn(2)), float32(rng.Intn(2)), steps)
	}
	targets := randomBatch(rng, 6, steps)

	serial, err := NewXORNetwork(steps, 3)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := NewXORNetwork(steps, 3)
	if err != nil {
		t.Fatal(err)
	}
	parallel.Workers = 4

	serialGrads, serialDecay := analyticGradients(t, serial, inputs, targets)
	parallelGrads, parallelDecay := analyticGradients(t, parallel, inputs, targets)

	for bi := range serialGrads {
		for j := range serialGrads[bi] {
			if serialGrads[bi][j] != parallelGrads[bi][j] {
				t.Fatalf("block %d weight %d: serial %v, parallel %v", bi, j, serialGrads[bi][j], parallelGrads[bi][j])
			}
		}
		for j := range serialDecay[bi] {
			if serialDecay[bi][j] != parallelDecay[bi][j] {
				t.Fatalf("block %d decay %d: serial %v, parallel %v", bi, j, serialDecay[bi][j], parallelDecay[bi][j])
			}
		}
	}
}

// TestBackwardBeforeForward verifies Backward requires a forward pass
func TestBackwardBeforeForward(t *testing.T) {
	net, err := NewXORNetwork(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := net.Backward([][]float32{make([]float32, 5)}); err == nil {
		t.Error("Expected an error when calling Backward first")
	}
}

// TestBackwardAfterFailedForward verifies a forward pass that fails in a later
// block leaves no partial traces behind
func TestBackwardAfterFailedForward(t *testing.T) {
	const steps = 5
	net, err := NewXORNetwork(steps, 1)
	if err != nil {
		t.Fatal(err)
	}
	inputs := [][]float32{broadcastPair(1, 0, steps)}
	if _, err := net.Forward(inputs); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	weights := net.Blocks[2].Weights
	net.Blocks[2].Weights = weights[:1]
	if _, err := net.Forward(inputs); errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("Expected ErrShapeMismatch from block 2, got %v", err)
	}
	if err := net.Backward([][]float32{make([]float32, steps)}); err == nil {
		t.Error("Expected Backward to fail after an incomplete forward pass")
	}

	net.Blocks[2].Weights = weights
	if _, err := net.Forward(inputs); err != nil {
		t.Fatalf("Forward failed after restoring weights: %v", err)
	}
	if err := net.Backward([][]float32{make([]float32, steps)}); err != nil {
		t.Errorf("Backward failed after a complete forward pass: %v", err)
	}
}

func broadcastPair(a, b float32, steps int) []float32 {
	out := make([]float32, 0, 2*steps)
	for i := 0; i < steps; i++ {
		out = append(out, a, b)
	}
	return out
}
