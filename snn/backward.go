package snn

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Backward propagates output gradients through the last forward pass and
// stores the weight and decay gradients (overwriting the previous ones).
// gradOutputs: [batch][TimeSteps * OutputSize]
func (n *Network) Backward(gradOutputs [][]float32) error {
	batchSize := len(n.traces)
	if batchSize == 0 {
		return errors.New("backward called before forward")
	}
	if len(gradOutputs) != batchSize {
		return errors.Wrapf(ErrShapeMismatch, "got %d output gradients for a batch of %d", len(gradOutputs), batchSize)
	}

	steps := n.TimeSteps
	expected := steps * n.OutputSize()
	for s, g := range gradOutputs {
		if len(g) != expected {
			return errors.Wrapf(ErrShapeMismatch, "sample %d: gradient length %d, expected %d", s, len(g), expected)
		}
	}

	n.ZeroGradients()

	grads := gradOutputs
	for bi := len(n.Blocks) - 1; bi >= 0; bi-- {
		block := &n.Blocks[bi]

		gradZ := make([][]float32, batchSize)
		sampleDecay := make([][2]float32, batchSize)
		n.parallelFor(batchSize, func(s int) {
			gradZ[s], sampleDecay[s] = cubaBackward(block, n.traces[s][bi], grads[s], steps)
		})

		// Reduce in sample order
		if block.Neuron.RequiresGrad {
			for s := 0; s < batchSize; s++ {
				n.decayGradients[bi][0] += sampleDecay[s][0]
				n.decayGradients[bi][1] += sampleDecay[s][1]
			}
		}

		next, err := n.synapseBackward(bi, gradZ)
		if err != nil {
			return errors.Wrapf(err, "block %d (%s) backward", bi, block.Type)
		}
		grads = next
	}

	for bi := range n.Blocks {
		notifyGradientObserver(&n.Blocks[bi], bi, n.weightGradients[bi], n.stepCount)
	}
	return nil
}

// synapseBackward accumulates the weight gradient of block bi and returns the
// gradient w.r.t. the block input (nil for the first block).
func (n *Network) synapseBackward(bi int, gradZ [][]float32) ([][]float32, error) {
	block := &n.Blocks[bi]
	batchSize := len(gradZ)
	wantInput := bi > 0

	if block.Type == BlockInput {
		if !wantInput {
			return nil, nil
		}
		gradIn := make([][]float32, batchSize)
		for s, gz := range gradZ {
			gradIn[s] = make([]float32, len(gz))
			for i, g := range gz {
				gradIn[s][i] = block.Gain * g
			}
		}
		return gradIn, nil
	}

	if n.gpu != nil {
		// a synapse left unbuilt by the budget check falls back to the CPU
		if syn := n.gpu.synapses[bi]; syn != nil && syn.Rows() > 0 {
			return n.synapseBackwardGPU(bi, syn, gradZ)
		}
	}

	sampleWeights := make([][]float32, batchSize)
	gradIn := make([][]float32, batchSize)
	n.parallelFor(batchSize, func(s int) {
		sampleWeights[s], gradIn[s] = synapseBackwardCPU(gradZ[s], n.traces[s][bi].input, block, n.TimeSteps, wantInput)
	})

	// Reduce in sample order
	dst := n.weightGradients[bi]
	for _, gw := range sampleWeights {
		for j, g := range gw {
			dst[j] += g
		}
	}
	if !wantInput {
		return nil, nil
	}
	return gradIn, nil
}

// ZeroGradients clears all stored gradients
func (n *Network) ZeroGradients() {
	for bi := range n.Blocks {
		for j := range n.weightGradients[bi] {
			n.weightGradients[bi][j] = 0
		}
		n.decayGradients[bi][0] = 0
		n.decayGradients[bi][1] = 0
	}
}

// Parameter is a learnable tensor together with its gradient.
// Value aliases the network's storage, so optimizers update it in place.
type Parameter struct {
	Name  string
	Value []float32
	Grad  []float32
	Clamp bool // keep values in [0, 1]
}

// Parameters returns every learnable tensor of the network
func (n *Network) Parameters() []Parameter {
	params := make([]Parameter, 0, 2*len(n.Blocks))
	for bi := range n.Blocks {
		block := &n.Blocks[bi]
		if len(block.Weights) > 0 {
			params = append(params, Parameter{
				Name:  fmt.Sprintf("weights_%d", bi),
				Value: block.Weights,
				Grad:  n.weightGradients[bi],
			})
		}
		if block.Neuron.RequiresGrad {
			params = append(params, Parameter{
				Name:  fmt.Sprintf("decay_%d", bi),
				Value: block.Decay,
				Grad:  n.decayGradients[bi],
				Clamp: true,
			})
		}
	}
	return params
}

// GradientNorm returns the global L2 norm of all gradients
func (n *Network) GradientNorm() float32 {
	total := float32(0)
	for _, p := range n.Parameters() {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	return math32.Sqrt(total)
}

// clipGradients clips gradients by global norm
func (n *Network) clipGradients(maxNorm float32) {
	totalNorm := n.GradientNorm()
	if maxNorm <= 0 || totalNorm <= maxNorm {
		return
	}

	scale := maxNorm / totalNorm
	for _, p := range n.Parameters() {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
}
