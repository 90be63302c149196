package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// xorTable is the boolean XOR truth table in fixed order
var xorTable = [4]struct {
	in  [2]float32
	out float32
}{
	{[2]float32{0, 0}, 0},
	{[2]float32{0, 1}, 1},
	{[2]float32{1, 0}, 1},
	{[2]float32{1, 1}, 0},
}

// XOR is the four-sample XOR regression dataset.
// Each sample's two inputs and single output are repeated across TimeSteps.
type XOR struct {
	TimeSteps int

	// Jitter > 0 replaces the static input with a Bernoulli spike train whose
	// per-step firing probability is input*(1-Jitter)+Jitter/2. A new train is
	// drawn on every At, so each epoch sees fresh spikes. Targets stay static.
	Jitter float32

	samples []Sample
	rng     *rand.Rand
}

// NewXOR builds the XOR dataset with the given number of pseudo-time steps
func NewXOR(timeSteps int) (*XOR, error) {
	if timeSteps < 1 {
		return nil, errors.Errorf("time steps must be at least 1, got %d", timeSteps)
	}
	d := &XOR{TimeSteps: timeSteps}
	d.samples = make([]Sample, len(xorTable))
	for i, row := range xorTable {
		d.samples[i] = Sample{
			Input:  Broadcast(row.in[:], timeSteps),
			Target: Broadcast([]float32{row.out}, timeSteps),
		}
	}
	return d, nil
}

// NewJitteredXOR builds an XOR dataset with rate-coded stochastic inputs
func NewJitteredXOR(timeSteps int, jitter float32, seed int64) (*XOR, error) {
	if jitter < 0 || jitter > 1 {
		return nil, errors.Errorf("jitter must be in [0,1], got %g", jitter)
	}
	d, err := NewXOR(timeSteps)
	if err != nil {
		return nil, err
	}
	d.Jitter = jitter
	if jitter > 0 {
		d.rng = rand.New(rand.NewSource(seed))
	}
	return d, nil
}

// spikeTrain draws a rate-coded input for row i from the dataset's rng
func (d *XOR) spikeTrain(i int) []float32 {
	row := xorTable[i]
	in := make([]float32, d.TimeSteps*len(row.in))
	for t := 0; t < d.TimeSteps; t++ {
		for j, v := range row.in {
			p := v*(1-d.Jitter) + d.Jitter/2
			if d.rng.Float32() < p {
				in[t*len(row.in)+j] = 1
			}
		}
	}
	return in
}

// Len returns the number of samples (always 4)
func (d *XOR) Len() int {
	return len(d.samples)
}

// At returns sample i. With Jitter the input is redrawn on each call, so a
// jittered XOR must not be shared between goroutines.
func (d *XOR) At(i int) Sample {
	if d.rng == nil {
		return d.samples[i]
	}
	return Sample{Input: d.spikeTrain(i), Target: d.samples[i].Target}
}

// InputSize is the number of input features per time step
func (d *XOR) InputSize() int { return 2 }

// OutputSize is the number of regression outputs per time step
func (d *XOR) OutputSize() int { return 1 }

// Table returns the raw truth table: inputs and expected outputs
func (d *XOR) Table() ([][]float32, []float32) {
	inputs := make([][]float32, len(xorTable))
	labels := make([]float32, len(xorTable))
	for i, row := range xorTable {
		inputs[i] = []float32{row.in[0], row.in[1]}
		labels[i] = row.out
	}
	return inputs, labels
}
