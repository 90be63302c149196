package snn

import (
	"fmt"
	"math"
	"strings"
)

// Stats accumulates loss and accuracy over one epoch and keeps the history
type Stats struct {
	lossSum        float64
	correctSamples int
	numSamples     int

	MinLoss     float64
	MaxAccuracy float64
	LossLog     []float64
	AccuracyLog []float64
}

func newStats() Stats {
	return Stats{MinLoss: math.Inf(1)}
}

// record adds a batch: loss is the batch mean, weighted by its sample count
func (s *Stats) record(loss float64, samples, correct int) {
	s.lossSum += loss * float64(samples)
	s.numSamples += samples
	s.correctSamples += correct
}

// Samples returns the samples recorded in the current epoch
func (s *Stats) Samples() int {
	return s.numSamples
}

// Loss returns the mean loss of the current epoch
func (s *Stats) Loss() float64 {
	if s.numSamples == 0 {
		return 0
	}
	return s.lossSum / float64(s.numSamples)
}

// Accuracy returns the accuracy of the current epoch
func (s *Stats) Accuracy() float64 {
	if s.numSamples == 0 {
		return 0
	}
	return float64(s.correctSamples) / float64(s.numSamples)
}

// Update closes the epoch: logs current values and resets the accumulators
func (s *Stats) Update() {
	if s.numSamples == 0 {
		return
	}
	loss, acc := s.Loss(), s.Accuracy()
	s.LossLog = append(s.LossLog, loss)
	s.AccuracyLog = append(s.AccuracyLog, acc)
	if loss < s.MinLoss {
		s.MinLoss = loss
	}
	if acc > s.MaxAccuracy {
		s.MaxAccuracy = acc
	}
	s.lossSum, s.correctSamples, s.numSamples = 0, 0, 0
}

func (s *Stats) line(name string) string {
	minLoss := math.Min(s.MinLoss, s.Loss())
	maxAcc := math.Max(s.MaxAccuracy, s.Accuracy())
	return fmt.Sprintf("%s loss = %.5f (min = %.5f)  accuracy = %.5f (max = %.5f)",
		name, s.Loss(), minLoss, s.Accuracy(), maxAcc)
}

// LearningStats tracks training and testing statistics
type LearningStats struct {
	Training Stats
	Testing  Stats
}

// NewLearningStats creates empty statistics
func NewLearningStats() *LearningStats {
	return &LearningStats{
		Training: newStats(),
		Testing:  newStats(),
	}
}

// Update closes the epoch for both training and testing
func (ls *LearningStats) Update() {
	ls.Training.Update()
	ls.Testing.Update()
}

// Line returns the progress line of the current epoch
func (ls *LearningStats) Line(epoch, epochs int) string {
	var b strings.Builder
	width := len(fmt.Sprint(epochs))
	fmt.Fprintf(&b, "[Epoch %*d/%d] ", width, epoch, epochs)
	if ls.Training.Samples() > 0 {
		b.WriteString(ls.Training.line("Train"))
	}
	if ls.Testing.Samples() > 0 {
		if ls.Training.Samples() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(ls.Testing.line("Test"))
	}
	return b.String()
}
