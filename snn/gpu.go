package snn

import (
	"github.com/openfluke/snnloom/gpu"
	"github.com/pkg/errors"
)

// gpuState holds one synapse kernel per dense/affine block
type gpuState struct {
	synapses map[int]*gpu.Synapse
}

// InitGPU moves the synaptic projections of dense and affine blocks onto the
// GPU, forward and backward. Neuron dynamics stay on the CPU.
func (n *Network) InitGPU() error {
	if err := gpu.EnsureGPU(); err != nil {
		return errors.Wrap(err, "init gpu")
	}

	st := &gpuState{synapses: make(map[int]*gpu.Synapse)}
	for i, b := range n.Blocks {
		if b.Type == BlockInput {
			continue
		}
		st.synapses[i] = gpu.NewSynapse(gpu.SynapseSpec{
			InputSize:     b.InputSize,
			OutputSize:    b.OutputSize,
			WorkgroupSize: n.GPUWorkgroupSize,
			BudgetBytes:   n.GPUBudgetBytes,
		})
	}
	n.gpu = st
	return nil
}

// GPUEnabled reports whether InitGPU succeeded and ReleaseGPU has not been called
func (n *Network) GPUEnabled() bool {
	return n.gpu != nil
}

// ReleaseGPU releases GPU resources
func (n *Network) ReleaseGPU() {
	if n.gpu == nil {
		return
	}
	for _, syn := range n.gpu.synapses {
		syn.Cleanup()
	}
	n.gpu = nil
}

// projectGPU runs the synapse of block bi for all samples in one dispatch.
// Weights are uploaded on every call since the optimizer updates them on the CPU.
func (n *Network) projectGPU(bi int, syn *gpu.Synapse, x [][]float32) ([][]float32, error) {
	block := &n.Blocks[bi]
	steps := n.TimeSteps
	rows := len(x) * steps

	if syn.Rows() != rows {
		syn.Cleanup()
		if err := syn.Build(rows); err != nil {
			return nil, errors.Wrap(err, "build synapse")
		}
	}
	if err := syn.UploadWeights(block.Weights); err != nil {
		return nil, err
	}

	sampleIn := steps * block.InputSize
	flat := make([]float32, rows*block.InputSize)
	for s, in := range x {
		copy(flat[s*sampleIn:], in)
	}

	out, err := syn.Forward(flat)
	if err != nil {
		return nil, errors.Wrap(err, "synapse forward")
	}

	sampleOut := steps * block.OutputSize
	z := make([][]float32, len(x))
	for s := range z {
		z[s] = out[s*sampleOut : (s+1)*sampleOut]
	}
	return z, nil
}

// synapseBackwardGPU computes the weight gradient of block bi summed over the
// batch and the per-sample input gradient in one dispatch.
func (n *Network) synapseBackwardGPU(bi int, syn *gpu.Synapse, gradZ [][]float32) ([][]float32, error) {
	block := &n.Blocks[bi]
	steps := n.TimeSteps
	rows := len(gradZ) * steps
	if syn.Rows() != rows {
		return nil, errors.Errorf("synapse built for %d rows, backward has %d", syn.Rows(), rows)
	}

	sampleIn := steps * block.InputSize
	sampleOut := steps * block.OutputSize
	flatIn := make([]float32, rows*block.InputSize)
	flatGrad := make([]float32, rows*block.OutputSize)
	for s := range gradZ {
		copy(flatIn[s*sampleIn:], n.traces[s][bi].input)
		copy(flatGrad[s*sampleOut:], gradZ[s])
	}

	gradW, gradIn, err := syn.Backward(flatIn, flatGrad)
	if err != nil {
		return nil, errors.Wrap(err, "synapse backward")
	}
	copy(n.weightGradients[bi], gradW)

	if bi == 0 {
		return nil, nil
	}
	out := make([][]float32, len(gradZ))
	for s := range out {
		out[s] = gradIn[s*sampleIn : (s+1)*sampleIn]
	}
	return out, nil
}
