package snn

import (
	"github.com/openfluke/snnloom/gpu"
	"github.com/pkg/errors"
)

// Forward runs a batch of time-major samples through every block.
// inputs: [batch][TimeSteps * InputSize]
// returns: [batch][TimeSteps * OutputSize]
func (n *Network) Forward(inputs [][]float32) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}

	steps := n.TimeSteps
	expected := steps * n.InputSize()
	for s, in := range inputs {
		if len(in) != expected {
			return nil, errors.Wrapf(ErrShapeMismatch, "sample %d: input length %d, expected %d (%d steps × %d inputs)",
				s, len(in), expected, steps, n.InputSize())
		}
	}

	// traces are published only after every block succeeded
	batchSize := len(inputs)
	n.traces = nil
	traces := make([][]*blockTrace, batchSize)
	for s := range traces {
		traces[s] = make([]*blockTrace, len(n.Blocks))
	}

	x := inputs
	for bi := range n.Blocks {
		block := &n.Blocks[bi]

		z, err := n.project(bi, x)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d (%s) projection", bi, block.Type)
		}

		next := make([][]float32, batchSize)
		n.parallelFor(batchSize, func(s int) {
			tr := cubaForward(block, x[s], z[s], steps)
			traces[s][bi] = tr
			next[s] = tr.output
		})

		notifyObserver(block, "forward", bi, next, n.stepCount)
		x = next
	}

	n.traces = traces
	n.stepCount++
	return x, nil
}

// project computes the synaptic input of block bi for every sample
func (n *Network) project(bi int, x [][]float32) ([][]float32, error) {
	block := &n.Blocks[bi]
	z := make([][]float32, len(x))

	if block.Type == BlockInput {
		for s := range x {
			z[s] = inputProjectionCPU(x[s], block)
		}
		return z, nil
	}

	if len(block.Weights) != block.InputSize*block.OutputSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d weights, expected %d×%d",
			len(block.Weights), block.InputSize, block.OutputSize)
	}

	if n.gpu != nil {
		if syn := n.gpu.synapses[bi]; syn != nil {
			z, err := n.projectGPU(bi, syn, x)
			if errors.Cause(err) != gpu.ErrBudgetExceeded {
				return z, err
			}
		}
	}

	n.parallelFor(len(x), func(s int) {
		z[s] = synapseForwardCPU(x[s], block, n.TimeSteps)
	})
	return z, nil
}

// SpikeCounts returns the number of spikes each block emitted during the
// last forward pass, summed over the batch. Affine blocks report 0.
func (n *Network) SpikeCounts() []float64 {
	counts := make([]float64, len(n.Blocks))
	for _, sample := range n.traces {
		for bi, tr := range sample {
			if tr == nil || tr.spikes == nil {
				continue
			}
			for _, s := range tr.spikes {
				counts[bi] += float64(s)
			}
		}
	}
	return counts
}

// BatchSize returns the number of samples of the last forward pass
func (n *Network) BatchSize() int {
	return len(n.traces)
}
