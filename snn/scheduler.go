package snn

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// LRScheduler interface defines learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for the given step
	GetLR(step int) float32

	// Name returns the scheduler name
	Name() string
}

// NewScheduler builds a scheduler by name: "constant", "linear", "cosine", "step".
// totalSteps is the number of optimizer steps of the whole run.
func NewScheduler(name string, baseLR float32, totalSteps int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "constant", "":
		return NewConstantScheduler(baseLR), nil
	case "linear":
		return NewLinearDecayScheduler(baseLR, baseLR*0.1, totalSteps), nil
	case "cosine":
		return NewCosineAnnealingScheduler(baseLR, baseLR*0.01, totalSteps), nil
	case "step":
		stepSize := totalSteps / 3
		if stepSize < 1 {
			stepSize = 1
		}
		return NewStepDecayScheduler(baseLR, 0.5, stepSize), nil
	default:
		return nil, errors.Errorf("unknown lr schedule %q", name)
	}
}

// ============================================================================
// Constant Scheduler - Fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float32
}

func NewConstantScheduler(baseLR float32) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(step int) float32 {
	return s.baseLR
}

func (s *ConstantScheduler) Name() string {
	return "Constant"
}

// ============================================================================
// Linear Decay Scheduler - Linear decay from initial to final LR
// ============================================================================

type LinearDecayScheduler struct {
	initialLR  float32
	finalLR    float32
	totalSteps int
}

func NewLinearDecayScheduler(initialLR, finalLR float32, totalSteps int) *LinearDecayScheduler {
	return &LinearDecayScheduler{
		initialLR:  initialLR,
		finalLR:    finalLR,
		totalSteps: totalSteps,
	}
}

func (s *LinearDecayScheduler) GetLR(step int) float32 {
	if step >= s.totalSteps {
		return s.finalLR
	}
	progress := float32(step) / float32(s.totalSteps)
	return s.initialLR + (s.finalLR-s.initialLR)*progress
}

func (s *LinearDecayScheduler) Name() string {
	return "LinearDecay"
}

// ============================================================================
// Cosine Annealing Scheduler
// ============================================================================

type CosineAnnealingScheduler struct {
	initialLR  float32
	minLR      float32
	totalSteps int
}

func NewCosineAnnealingScheduler(initialLR, minLR float32, totalSteps int) *CosineAnnealingScheduler {
	return &CosineAnnealingScheduler{
		initialLR:  initialLR,
		minLR:      minLR,
		totalSteps: totalSteps,
	}
}

func (s *CosineAnnealingScheduler) GetLR(step int) float32 {
	if step >= s.totalSteps {
		return s.minLR
	}
	progress := float32(step) / float32(s.totalSteps)

	// lr = minLR + (initialLR - minLR) * (1 + cos(pi * progress)) / 2
	cosineDecay := (1 + math32.Cos(math32.Pi*progress)) / 2
	return s.minLR + (s.initialLR-s.minLR)*cosineDecay
}

func (s *CosineAnnealingScheduler) Name() string {
	return "CosineAnnealing"
}

// ============================================================================
// Step Decay Scheduler - Step-wise decay every stepSize steps
// ============================================================================

type StepDecayScheduler struct {
	initialLR   float32
	decayFactor float32
	stepSize    int
}

func NewStepDecayScheduler(initialLR, decayFactor float32, stepSize int) *StepDecayScheduler {
	return &StepDecayScheduler{
		initialLR:   initialLR,
		decayFactor: decayFactor,
		stepSize:    stepSize,
	}
}

func (s *StepDecayScheduler) GetLR(step int) float32 {
	numDecays := step / s.stepSize
	return s.initialLR * math32.Pow(s.decayFactor, float32(numDecays))
}

func (s *StepDecayScheduler) Name() string {
	return "StepDecay"
}
