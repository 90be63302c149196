// Package dataset provides the static XOR table used by the spiking regression
// example, broadcast along a pseudo-time axis so it can be consumed by
// time-stepped spiking blocks.
package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Sample is one time-major training example.
// Input is [TimeSteps * InputSize], Target is [TimeSteps * OutputSize].
type Sample struct {
	Input  []float32
	Target []float32
}

// Dataset is an indexable collection of samples
type Dataset interface {
	Len() int
	At(i int) Sample
}

// Broadcast replicates a static vector across steps pseudo-time steps.
// The result is time-major: out[t*len(values)+i] = values[i].
func Broadcast(values []float32, steps int) []float32 {
	if steps <= 0 {
		return nil
	}
	out := make([]float32, steps*len(values))
	for t := 0; t < steps; t++ {
		copy(out[t*len(values):], values)
	}
	return out
}

// FinalStep returns the values of the last time step of a time-major series.
func FinalStep(series []float32, width int) []float32 {
	if width <= 0 || len(series) < width {
		return nil
	}
	return series[len(series)-width:]
}

// Batch is a group of samples handed to the training assistant at once
type Batch struct {
	Inputs  [][]float32
	Targets [][]float32
	Indices []int // dataset index of each sample
}

// Size returns the number of samples in the batch
func (b Batch) Size() int {
	return len(b.Inputs)
}

// Loader splits a dataset into batches
type Loader struct {
	Data      Dataset
	BatchSize int
	Shuffle   bool

	rng *rand.Rand
}

// NewLoader creates a loader. A seed is only used when shuffle is true.
func NewLoader(data Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if data == nil || data.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Loader{
		Data:      data,
		BatchSize: batchSize,
		Shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Batches returns one epoch worth of batches
func (l *Loader) Batches() []Batch {
	n := l.Data.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	numBatches := (n + l.BatchSize - 1) / l.BatchSize
	batches := make([]Batch, 0, numBatches)
	for start := 0; start < n; start += l.BatchSize {
		end := start + l.BatchSize
		if end > n {
			end = n
		}
		b := Batch{
			Inputs:  make([][]float32, 0, end-start),
			Targets: make([][]float32, 0, end-start),
			Indices: make([]int, 0, end-start),
		}
		for _, idx := range order[start:end] {
			s := l.Data.At(idx)
			b.Inputs = append(b.Inputs, s.Input)
			b.Targets = append(b.Targets, s.Target)
			b.Indices = append(b.Indices, idx)
		}
		batches = append(batches, b)
	}
	return batches
}

// All returns the whole dataset as a single batch in index order
func All(data Dataset) Batch {
	b := Batch{
		Inputs:  make([][]float32, data.Len()),
		Targets: make([][]float32, data.Len()),
		Indices: make([]int, data.Len()),
	}
	for i := 0; i < data.Len(); i++ {
		s := data.At(i)
		b.Inputs[i] = s.Input
		b.Targets[i] = s.Target
		b.Indices[i] = i
	}
	return b
}
