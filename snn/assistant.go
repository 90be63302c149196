package snn

import (
	"github.com/openfluke/snnloom/dataset"
	"github.com/pkg/errors"
)

// Assistant runs one optimization step per batch and keeps statistics.
// With CountLog set, Train and Test also return the per-block spike counts.
type Assistant struct {
	Net          *Network
	Loss         LossFunc
	Optimizer    Optimizer
	Scheduler    LRScheduler
	Stats        *LearningStats
	CountLog     bool
	GradientClip float32 // max global gradient norm (0 = no clipping)

	step int
}

// NewAssistant creates an assistant with MSE loss and a constant learning rate
func NewAssistant(net *Network, optimizer Optimizer, learningRate float32) *Assistant {
	return &Assistant{
		Net:       net,
		Loss:      MSELoss{},
		Optimizer: optimizer,
		Scheduler: NewConstantScheduler(learningRate),
		Stats:     NewLearningStats(),
	}
}

// LearningRate returns the learning rate of the next step
func (a *Assistant) LearningRate() float32 {
	return a.Scheduler.GetLR(a.step)
}

// Steps returns the number of optimizer steps taken
func (a *Assistant) Steps() int {
	return a.step
}

// Train runs forward, loss, backward and one optimizer step on a batch
func (a *Assistant) Train(batch dataset.Batch) ([][]float32, []float64, error) {
	outputs, loss, grads, err := a.evaluate(batch)
	if err != nil {
		return nil, nil, err
	}

	if err := a.Net.Backward(grads); err != nil {
		return nil, nil, errors.Wrap(err, "backward")
	}
	if a.GradientClip > 0 {
		a.Net.clipGradients(a.GradientClip)
	}

	a.Optimizer.Step(a.Net, a.Scheduler.GetLR(a.step))
	a.step++

	correct := RegressionCorrect(outputs, batch.Targets, a.Net.OutputSize())
	a.Stats.Training.record(float64(loss), batch.Size(), correct)

	return outputs, a.counts(), nil
}

// Test runs a forward pass on a batch and records testing statistics
func (a *Assistant) Test(batch dataset.Batch) ([][]float32, []float64, error) {
	outputs, loss, _, err := a.evaluate(batch)
	if err != nil {
		return nil, nil, err
	}

	correct := RegressionCorrect(outputs, batch.Targets, a.Net.OutputSize())
	a.Stats.Testing.record(float64(loss), batch.Size(), correct)

	return outputs, a.counts(), nil
}

func (a *Assistant) evaluate(batch dataset.Batch) ([][]float32, float32, [][]float32, error) {
	if batch.Size() == 0 {
		return nil, 0, nil, ErrEmptyBatch
	}
	outputs, err := a.Net.Forward(batch.Inputs)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "forward")
	}
	loss, grads, err := a.Loss.Compute(outputs, batch.Targets)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "loss")
	}
	return outputs, loss, grads, nil
}

func (a *Assistant) counts() []float64 {
	if !a.CountLog {
		return nil
	}
	return a.Net.SpikeCounts()
}
