package snn

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Optimizer interface defines the contract for all optimizers
type Optimizer interface {
	// Step applies gradients to network parameters
	Step(network *Network, learningRate float32)

	// Reset clears optimizer state (momentum, etc.)
	Reset()

	// Name returns the optimizer name
	Name() string
}

// NewOptimizer builds an optimizer by name: "sgd", "sgd_momentum", "adam", "adamw"
func NewOptimizer(name string) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGDOptimizer(), nil
	case "sgd_momentum":
		return NewSGDOptimizerWithMomentum(0.9, 0, false), nil
	case "adam", "":
		return NewAdamOptimizerDefault(), nil
	case "adamw":
		return NewAdamOptimizer(0.9, 0.999, 1e-8, 0.01), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q", name)
	}
}

// clampUnit keeps a learnable decay inside [0, 1]
func clampUnit(values []float32) {
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		} else if v > 1 {
			values[i] = 1
		}
	}
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	momentum   float32
	velocities map[string][]float32 // Momentum buffers
	dampening  float32
	nesterov   bool
}

func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{
		velocities: make(map[string][]float32),
	}
}

func NewSGDOptimizerWithMomentum(momentum, dampening float32, nesterov bool) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:   momentum,
		velocities: make(map[string][]float32),
		dampening:  dampening,
		nesterov:   nesterov,
	}
}

func (opt *SGDOptimizer) Step(network *Network, learningRate float32) {
	for _, p := range network.Parameters() {
		if opt.momentum == 0 {
			// w = w - lr * grad
			for j := range p.Value {
				p.Value[j] -= learningRate * p.Grad[j]
			}
		} else {
			if opt.velocities[p.Name] == nil {
				opt.velocities[p.Name] = make([]float32, len(p.Value))
			}
			v := opt.velocities[p.Name]

			// v = momentum * v + (1 - dampening) * grad
			for j := range p.Value {
				grad := p.Grad[j]
				v[j] = opt.momentum*v[j] + (1-opt.dampening)*grad
				if opt.nesterov {
					p.Value[j] -= learningRate * (grad + opt.momentum*v[j])
				} else {
					p.Value[j] -= learningRate * v[j]
				}
			}
		}
		if p.Clamp {
			clampUnit(p.Value)
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		if opt.nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// Adam Optimizer (with optional decoupled weight decay, i.e. AdamW)
// ============================================================================

type AdamOptimizer struct {
	beta1       float32
	beta2       float32
	epsilon     float32
	weightDecay float32
	step        int

	// First moment estimates (momentum)
	m map[string][]float32

	// Second moment estimates (variance)
	v map[string][]float32
}

func NewAdamOptimizer(beta1, beta2, epsilon, weightDecay float32) *AdamOptimizer {
	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           make(map[string][]float32),
		v:           make(map[string][]float32),
	}
}

// NewAdamOptimizerDefault returns plain Adam (no weight decay)
func NewAdamOptimizerDefault() *AdamOptimizer {
	return NewAdamOptimizer(0.9, 0.999, 1e-8, 0)
}

func (opt *AdamOptimizer) Step(network *Network, learningRate float32) {
	opt.step++

	// Bias correction factors
	biasCorrection1 := 1 - math32.Pow(opt.beta1, float32(opt.step))
	biasCorrection2 := 1 - math32.Pow(opt.beta2, float32(opt.step))

	for _, p := range network.Parameters() {
		if opt.m[p.Name] == nil {
			opt.m[p.Name] = make([]float32, len(p.Value))
			opt.v[p.Name] = make([]float32, len(p.Value))
		}
		m, v := opt.m[p.Name], opt.v[p.Name]

		// Decays are never weight-decayed
		decay := opt.weightDecay
		if p.Clamp {
			decay = 0
		}

		for j := range p.Value {
			grad := p.Grad[j]

			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2

			p.Value[j] -= learningRate * (mHat/(math32.Sqrt(vHat)+opt.epsilon) + decay*p.Value[j])
		}
		if p.Clamp {
			clampUnit(p.Value)
		}
	}
}

func (opt *AdamOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamOptimizer) Name() string {
	if opt.weightDecay > 0 {
		return "AdamW"
	}
	return "Adam"
}
