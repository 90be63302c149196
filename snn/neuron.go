package snn

import (
	"github.com/chewxy/math32"
)

// blockTrace keeps what a block saw and produced for one sample
type blockTrace struct {
	input   []float32 // [T*in] block input
	current []float32 // [T*out] synaptic current I[t]
	voltage []float32 // [T*out] pre-reset membrane voltage u[t]
	spikes  []float32 // [T*out] spikes s[t], nil for affine blocks
	output  []float32 // spikes, or voltage for affine blocks
}

// surrogateGradient approximates ds/du of the spike step
func surrogateGradient(u float32, p *CUBAParams) float32 {
	width := p.TauGrad * p.Threshold
	if width <= 0 {
		width = 1
	}
	return p.ScaleGrad * math32.Exp(-math32.Abs(u-p.Threshold)/width)
}

// cubaForward runs CUBA neuron dynamics over all time steps.
// z is the synaptic input [steps * OutputSize].
func cubaForward(config *BlockConfig, input, z []float32, steps int) *blockTrace {
	out := config.OutputSize
	currentKeep := 1 - config.CurrentDecay()
	voltageKeep := 1 - config.VoltageDecay()
	threshold := config.Neuron.Threshold
	spiking := config.Spiking()

	tr := &blockTrace{
		input:   input,
		current: make([]float32, steps*out),
		voltage: make([]float32, steps*out),
	}
	if spiking {
		tr.spikes = make([]float32, steps*out)
	}

	for o := 0; o < out; o++ {
		var current, voltage float32
		for t := 0; t < steps; t++ {
			idx := t*out + o
			current = currentKeep*current + z[idx]
			u := voltageKeep*voltage + current

			tr.current[idx] = current
			tr.voltage[idx] = u

			if spiking && u >= threshold {
				tr.spikes[idx] = 1
				voltage = 0
			} else {
				voltage = u
			}
		}
	}

	if spiking {
		tr.output = tr.spikes
	} else {
		tr.output = tr.voltage
	}
	return tr
}

// cubaBackward backpropagates through time for one sample.
// gradOutput is dL/d(output) [steps * OutputSize]. It returns dL/dz and
// the gradients of the [current, voltage] decays. The reset is treated as
// a constant gate.
func cubaBackward(config *BlockConfig, tr *blockTrace, gradOutput []float32, steps int) ([]float32, [2]float32) {
	out := config.OutputSize
	currentKeep := 1 - config.CurrentDecay()
	voltageKeep := 1 - config.VoltageDecay()
	spiking := tr.spikes != nil

	gradZ := make([]float32, steps*out)
	var gradDecay [2]float32

	for o := 0; o < out; o++ {
		// gradients w.r.t. u[t+1] and I[t+1]
		var nextGradU, nextGradI float32
		for t := steps - 1; t >= 0; t-- {
			idx := t*out + o

			// v[t] feeds u[t+1]
			gradV := voltageKeep * nextGradU

			var gradU float32
			if spiking {
				gradU = gradOutput[idx]*surrogateGradient(tr.voltage[idx], &config.Neuron) +
					gradV*(1-tr.spikes[idx])
			} else {
				gradU = gradOutput[idx] + gradV
			}
			gradI := gradU + currentKeep*nextGradI
			gradZ[idx] = gradI

			if t > 0 {
				prev := idx - out
				prevV := tr.voltage[prev]
				if spiking && tr.spikes[prev] > 0 {
					prevV = 0
				}
				gradDecay[0] -= gradI * tr.current[prev]
				gradDecay[1] -= gradU * prevV
			}

			nextGradU, nextGradI = gradU, gradI
		}
	}
	return gradZ, gradDecay
}
