package snn

import (
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when a series does not match TimeSteps * width
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyBatch is returned when a batch has no samples
	ErrEmptyBatch = errors.New("empty batch")
)

// BlockType defines the type of a network block
type BlockType int

const (
	BlockInput  BlockType = 0 // Gain/bias on the raw signal, spiking CUBA neuron
	BlockDense  BlockType = 1 // Dense synapse, spiking CUBA neuron
	BlockAffine BlockType = 2 // Dense synapse, CUBA voltage without spike
)

func (bt BlockType) String() string {
	switch bt {
	case BlockInput:
		return "input"
	case BlockDense:
		return "dense"
	case BlockAffine:
		return "affine"
	default:
		return "unknown"
	}
}

// CUBAParams holds the neuron hyperparameters of a block
type CUBAParams struct {
	Threshold    float32 `json:"threshold"`
	CurrentDecay float32 `json:"current_decay"` // 1 = no current memory
	VoltageDecay float32 `json:"voltage_decay"`
	TauGrad      float32 `json:"tau_grad"`      // surrogate width, relative to threshold
	ScaleGrad    float32 `json:"scale_grad"`    // surrogate peak
	RequiresGrad bool    `json:"requires_grad"` // learn the two decays
}

// DefaultCUBAParams returns the neuron parameters used by the XOR example
func DefaultCUBAParams() CUBAParams {
	return CUBAParams{
		Threshold:    0.1,
		CurrentDecay: 1,
		VoltageDecay: 0.1,
		TauGrad:      1,
		ScaleGrad:    1,
		RequiresGrad: true,
	}
}

// BlockConfig holds the configuration and parameters of one block
type BlockConfig struct {
	Type       BlockType
	Neuron     CUBAParams
	InputSize  int
	OutputSize int

	// Synaptic weights [InputSize * OutputSize], index i*OutputSize + o (Dense/Affine)
	Weights []float32

	// Decay holds the live decays [current, voltage]. Initialized from Neuron
	// and updated by the optimizer when Neuron.RequiresGrad is set.
	Decay []float32

	// Input block scaling: z = Gain*x + Bias
	Gain float32
	Bias float32

	// Observer receives forward/backward events (nil = none)
	Observer BlockObserver
}

// CurrentDecay returns the live current decay
func (b *BlockConfig) CurrentDecay() float32 {
	return b.Decay[0]
}

// VoltageDecay returns the live voltage decay
func (b *BlockConfig) VoltageDecay() float32 {
	return b.Decay[1]
}

// Spiking reports whether the block emits spikes
func (b *BlockConfig) Spiking() bool {
	return b.Type != BlockAffine
}

// NumParameters returns the number of learnable scalars in the block
func (b *BlockConfig) NumParameters() int {
	count := len(b.Weights)
	if b.Neuron.RequiresGrad {
		count += len(b.Decay)
	}
	return count
}

// Network is a feed-forward chain of spiking blocks unrolled over TimeSteps
type Network struct {
	TimeSteps int
	Blocks    []BlockConfig

	// Workers bounds the goroutines used per batch (<= 1 runs serially)
	Workers int

	// GPUWorkgroupSize and GPUBudgetBytes are read by InitGPU (0 = defaults).
	// Batches whose synapse buffers exceed the budget are projected on the CPU.
	GPUWorkgroupSize uint32
	GPUBudgetBytes   uint64

	gpu *gpuState

	// traces[sample][block] from the last forward pass (needed for backward)
	traces [][]*blockTrace

	weightGradients [][]float32
	decayGradients  [][]float32

	stepCount uint64
}

// NewNetwork creates a network from a chain of blocks
func NewNetwork(timeSteps int, blocks ...BlockConfig) (*Network, error) {
	if timeSteps < 1 {
		return nil, errors.Errorf("time steps must be at least 1, got %d", timeSteps)
	}
	if len(blocks) == 0 {
		return nil, errors.New("network needs at least one block")
	}

	for i := range blocks {
		b := &blocks[i]
		if b.InputSize <= 0 || b.OutputSize <= 0 {
			return nil, errors.Errorf("block %d (%s): sizes must be positive, got %d→%d",
				i, b.Type, b.InputSize, b.OutputSize)
		}
		if i > 0 && blocks[i-1].OutputSize != b.InputSize {
			return nil, errors.Wrapf(ErrShapeMismatch, "block %d (%s) expects %d inputs, previous block emits %d",
				i, b.Type, b.InputSize, blocks[i-1].OutputSize)
		}
		switch b.Type {
		case BlockInput:
			if b.InputSize != b.OutputSize {
				return nil, errors.Errorf("block %d: input block must keep its width (%d→%d)", i, b.InputSize, b.OutputSize)
			}
		case BlockDense, BlockAffine:
			if len(b.Weights) != b.InputSize*b.OutputSize {
				return nil, errors.Wrapf(ErrShapeMismatch, "block %d (%s): %d weights, expected %d",
					i, b.Type, len(b.Weights), b.InputSize*b.OutputSize)
			}
		default:
			return nil, errors.Errorf("block %d: unknown block type %d", i, b.Type)
		}
		if len(b.Decay) != 2 {
			b.Decay = []float32{b.Neuron.CurrentDecay, b.Neuron.VoltageDecay}
		}
	}

	n := &Network{
		TimeSteps:       timeSteps,
		Blocks:          blocks,
		Workers:         1,
		weightGradients: make([][]float32, len(blocks)),
		decayGradients:  make([][]float32, len(blocks)),
	}
	for i := range blocks {
		n.weightGradients[i] = make([]float32, len(blocks[i].Weights))
		n.decayGradients[i] = make([]float32, 2)
	}
	return n, nil
}

// TotalBlocks returns the number of blocks
func (n *Network) TotalBlocks() int {
	return len(n.Blocks)
}

// InputSize returns the per-step input width
func (n *Network) InputSize() int {
	return n.Blocks[0].InputSize
}

// OutputSize returns the per-step output width
func (n *Network) OutputSize() int {
	return n.Blocks[len(n.Blocks)-1].OutputSize
}

// WeightGradients returns the weight gradients of all blocks
func (n *Network) WeightGradients() [][]float32 {
	return n.weightGradients
}

// DecayGradients returns the [current, voltage] decay gradients of all blocks
func (n *Network) DecayGradients() [][]float32 {
	return n.decayGradients
}

// StepCount returns the number of forward passes run so far
func (n *Network) StepCount() uint64 {
	return n.stepCount
}
