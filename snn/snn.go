// Package snn provides a small spiking neural network engine built from
// current-based (CUBA) leaky-integrate-and-fire blocks and trained with
// surrogate-gradient backpropagation through time.
//
// A network is a chain of blocks. Every block sees a time-major series
// [TimeSteps * width] per sample:
//   - Input:  scales the raw signal and turns it into spikes
//   - Dense:  dense synapse followed by a spiking CUBA neuron
//   - Affine: dense synapse followed by a non-spiking CUBA neuron (output = voltage)
//
// CUBA dynamics for one neuron at step t:
//
//	I[t] = (1 - currentDecay) * I[t-1] + z[t]
//	u[t] = (1 - voltageDecay) * v[t-1] + I[t]
//	s[t] = u[t] >= threshold
//	v[t] = u[t] * (1 - s[t])
//
// Example usage:
//
//	network, _ := snn.NewXORNetwork(50, 1)
//	assistant := snn.NewAssistant(network, snn.NewAdamOptimizerDefault(), 0.003)
//
//	for _, batch := range loader.Batches() {
//		assistant.Train(batch)
//	}
//
//	predictions, _ := network.Predict(inputs)
package snn
