package snn

import (
	"math/rand"

	"github.com/chewxy/math32"
)

// InitInputBlock creates an input block of the given width.
// The block scales the raw signal (gain 1, bias 0) and fires CUBA spikes.
func InitInputBlock(params CUBAParams, size int) BlockConfig {
	return BlockConfig{
		Type:       BlockInput,
		Neuron:     params,
		InputSize:  size,
		OutputSize: size,
		Decay:      []float32{params.CurrentDecay, params.VoltageDecay},
		Gain:       1,
		Bias:       0,
	}
}

// InitDenseBlock creates a dense synapse followed by a spiking CUBA neuron
func InitDenseBlock(params CUBAParams, inputSize, outputSize int, rng *rand.Rand) BlockConfig {
	return BlockConfig{
		Type:       BlockDense,
		Neuron:     params,
		InputSize:  inputSize,
		OutputSize: outputSize,
		Weights:    initWeights(inputSize, outputSize, rng),
		Decay:      []float32{params.CurrentDecay, params.VoltageDecay},
	}
}

// InitAffineBlock creates a dense synapse followed by a non-spiking CUBA neuron.
// Its output is the membrane voltage, which makes it usable as a regression head.
func InitAffineBlock(params CUBAParams, inputSize, outputSize int, rng *rand.Rand) BlockConfig {
	return BlockConfig{
		Type:       BlockAffine,
		Neuron:     params,
		InputSize:  inputSize,
		OutputSize: outputSize,
		Weights:    initWeights(inputSize, outputSize, rng),
		Decay:      []float32{params.CurrentDecay, params.VoltageDecay},
	}
}

// initWeights draws uniform(-1/sqrt(in), 1/sqrt(in)) weights
func initWeights(inputSize, outputSize int, rng *rand.Rand) []float32 {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	bound := 1 / math32.Sqrt(float32(inputSize))
	weights := make([]float32, inputSize*outputSize)
	for i := range weights {
		weights[i] = (rng.Float32()*2 - 1) * bound
	}
	return weights
}

// XORHidden is the width of both hidden blocks of the XOR network
const XORHidden = 32

// NewXORNetwork builds the fixed XOR regression topology:
// Input(2) → Dense(2→32) → Dense(32→32) → Affine(32→1)
func NewXORNetwork(timeSteps int, seed int64) (*Network, error) {
	params := DefaultCUBAParams()
	rng := rand.New(rand.NewSource(seed))

	return NewNetwork(timeSteps,
		InitInputBlock(params, 2),
		InitDenseBlock(params, 2, XORHidden, rng),
		InitDenseBlock(params, XORHidden, XORHidden, rng),
		InitAffineBlock(params, XORHidden, 1, rng),
	)
}

// inputProjectionCPU computes z = Gain*x + Bias for an input block
func inputProjectionCPU(input []float32, config *BlockConfig) []float32 {
	z := make([]float32, len(input))
	for i, x := range input {
		z[i] = config.Gain*x + config.Bias
	}
	return z
}

// synapseForwardCPU performs the dense projection for every time step
// input: [steps * inputSize]
// weights: [inputSize * outputSize]
// output: [steps * outputSize]
func synapseForwardCPU(input []float32, config *BlockConfig, steps int) []float32 {
	inputSize := config.InputSize
	outputSize := config.OutputSize
	weights := config.Weights

	z := make([]float32, steps*outputSize)
	for t := 0; t < steps; t++ {
		in := input[t*inputSize : (t+1)*inputSize]
		out := z[t*outputSize : (t+1)*outputSize]
		for i, x := range in {
			if x == 0 {
				continue // spikes are sparse
			}
			row := weights[i*outputSize : (i+1)*outputSize]
			for o, w := range row {
				out[o] += x * w
			}
		}
	}
	return z
}

// synapseBackwardCPU returns the weight gradient and, if wantInput, the input gradient
func synapseBackwardCPU(gradZ, input []float32, config *BlockConfig, steps int, wantInput bool) ([]float32, []float32) {
	inputSize := config.InputSize
	outputSize := config.OutputSize
	weights := config.Weights

	gradWeights := make([]float32, inputSize*outputSize)
	var gradInput []float32
	if wantInput {
		gradInput = make([]float32, steps*inputSize)
	}

	for t := 0; t < steps; t++ {
		gz := gradZ[t*outputSize : (t+1)*outputSize]
		in := input[t*inputSize : (t+1)*inputSize]
		for i := 0; i < inputSize; i++ {
			x := in[i]
			row := weights[i*outputSize : (i+1)*outputSize]
			gRow := gradWeights[i*outputSize : (i+1)*outputSize]

			var gi float32
			for o, g := range gz {
				if x != 0 {
					gRow[o] += x * g
				}
				gi += row[o] * g
			}
			if wantInput {
				gradInput[t*inputSize+i] = gi
			}
		}
	}
	return gradWeights, gradInput
}
