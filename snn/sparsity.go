package snn

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// BlockSparsity holds spike statistics of one spiking block
type BlockSparsity struct {
	Index   int
	Type    BlockType
	Neurons int
	Spikes  float64 // spikes emitted
	Slots   float64 // neurons * time steps * samples observed
}

// EventRate returns spikes per neuron per time step
func (b BlockSparsity) EventRate() float64 {
	if b.Slots == 0 {
		return 0
	}
	return b.Spikes / b.Slots
}

// Sparsity is a snapshot of spike statistics for every spiking block
type Sparsity struct {
	Blocks []BlockSparsity
}

// Overall returns the event rate pooled over all spiking blocks
func (s Sparsity) Overall() float64 {
	spikes := make([]float64, len(s.Blocks))
	slots := make([]float64, len(s.Blocks))
	for i, b := range s.Blocks {
		spikes[i] = b.Spikes
		slots[i] = b.Slots
	}
	total := floats.Sum(slots)
	if total == 0 {
		return 0
	}
	return floats.Sum(spikes) / total
}

// Rates returns the per-block event rates
func (s Sparsity) Rates() []float64 {
	rates := make([]float64, len(s.Blocks))
	for i, b := range s.Blocks {
		rates[i] = b.EventRate()
	}
	return rates
}

// Summary returns a one-line description of the event rates
func (s Sparsity) Summary() string {
	parts := make([]string, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		parts = append(parts, fmt.Sprintf("%s[%d] %.4f", b.Type, b.Index, b.EventRate()))
	}
	return fmt.Sprintf("Sparsity (events/neuron/step): %s | overall %.4f",
		strings.Join(parts, ", "), s.Overall())
}

// SparsityCounter accumulates spike counts from the assistant's count log
type SparsityCounter struct {
	blocks []BlockSparsity
}

// NewSparsityCounter creates a counter for the spiking blocks of a network
func NewSparsityCounter(n *Network) *SparsityCounter {
	c := &SparsityCounter{}
	for i, b := range n.Blocks {
		if !b.Spiking() {
			continue
		}
		c.blocks = append(c.blocks, BlockSparsity{
			Index:   i,
			Type:    b.Type,
			Neurons: b.OutputSize,
		})
	}
	return c
}

// Add records per-block spike counts (indexed by block) for samples*steps slots
func (c *SparsityCounter) Add(counts []float64, samples, steps int) {
	for i := range c.blocks {
		b := &c.blocks[i]
		if b.Index < len(counts) {
			b.Spikes += counts[b.Index]
		}
		b.Slots += float64(b.Neurons * samples * steps)
	}
}

// Reset clears the counts
func (c *SparsityCounter) Reset() {
	for i := range c.blocks {
		c.blocks[i].Spikes = 0
		c.blocks[i].Slots = 0
	}
}

// Snapshot returns a copy of the current statistics
func (c *SparsityCounter) Snapshot() Sparsity {
	blocks := make([]BlockSparsity, len(c.blocks))
	copy(blocks, c.blocks)
	return Sparsity{Blocks: blocks}
}
