package snn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// LossFunc computes a scalar loss and its gradient w.r.t. every output
type LossFunc interface {
	Compute(outputs, targets [][]float32) (float32, [][]float32, error)
	Name() string
}

// MSELoss is the mean squared error over batch, time steps and outputs
type MSELoss struct{}

func (MSELoss) Name() string { return "mse" }

// Compute returns mean((o - t)^2) and its gradient 2(o - t)/N
func (MSELoss) Compute(outputs, targets [][]float32) (float32, [][]float32, error) {
	if len(outputs) != len(targets) {
		return 0, nil, errors.Wrapf(ErrShapeMismatch, "%d outputs, %d targets", len(outputs), len(targets))
	}
	if len(outputs) == 0 {
		return 0, nil, ErrEmptyBatch
	}

	total := 0
	for s := range outputs {
		if len(outputs[s]) != len(targets[s]) {
			return 0, nil, errors.Wrapf(ErrShapeMismatch, "sample %d: output length %d, target length %d",
				s, len(outputs[s]), len(targets[s]))
		}
		total += len(outputs[s])
	}

	scale := 2 / float32(total)
	sum := float32(0)
	grads := make([][]float32, len(outputs))
	for s := range outputs {
		grads[s] = make([]float32, len(outputs[s]))
		for j, o := range outputs[s] {
			diff := o - targets[s][j]
			sum += diff * diff
			grads[s][j] = diff * scale
		}
	}
	return sum / float32(total), grads, nil
}

// roundHalfUp rounds to the nearest integer, halves away from zero.
// Small negative values round to +0, never -0.
func roundHalfUp(v float32) float32 {
	var r float32
	if v < 0 {
		r = -math32.Floor(-v + 0.5)
	} else {
		r = math32.Floor(v + 0.5)
	}
	if r == 0 {
		return 0
	}
	return r
}

// RoundFinal rounds the final time step of a time-major output of the given width
func RoundFinal(output []float32, width int) []float32 {
	if width <= 0 || len(output) < width {
		return nil
	}
	last := output[len(output)-width:]
	rounded := make([]float32, width)
	for i, v := range last {
		rounded[i] = roundHalfUp(v)
	}
	return rounded
}

// RegressionCorrect counts samples whose rounded final-step output equals
// the final-step target in every position
func RegressionCorrect(outputs, targets [][]float32, width int) int {
	correct := 0
	for s := range outputs {
		if s >= len(targets) {
			break
		}
		pred := RoundFinal(outputs[s], width)
		if pred == nil || len(targets[s]) < width {
			continue
		}
		want := targets[s][len(targets[s])-width:]
		ok := true
		for i := range pred {
			if pred[i] != roundHalfUp(want[i]) {
				ok = false
				break
			}
		}
		if ok {
			correct++
		}
	}
	return correct
}

// RegressionAccuracy returns the fraction of samples counted by RegressionCorrect
func RegressionAccuracy(outputs, targets [][]float32, width int) float64 {
	if len(outputs) == 0 {
		return 0
	}
	return float64(RegressionCorrect(outputs, targets, width)) / float64(len(outputs))
}
