package snn

import (
	"math"
	"testing"
)

// TestGPUMatchesCPU compares outputs and weight gradients of both backends
func TestGPUMatchesCPU(t *testing.T) {
	const steps = 6
	gpuNet, err := NewXORNetwork(steps, 11)
	if err != nil {
		t.Fatal(err)
	}
	if err := gpuNet.InitGPU(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}
	defer gpuNet.ReleaseGPU()

	cpuNet, err := NewXORNetwork(steps, 11)
	if err != nil {
		t.Fatal(err)
	}

	inputs := [][]float32{broadcastPair(0, 1, steps), broadcastPair(1, 1, steps)}
	targets := randomBatch(newTestRand(), 2, steps)

	cpuGrads, _ := analyticGradients(t, cpuNet, inputs, targets)
	gpuGrads, _ := analyticGradients(t, gpuNet, inputs, targets)

	for bi := range cpuGrads {
		for j := range cpuGrads[bi] {
			if math.Abs(float64(cpuGrads[bi][j]-gpuGrads[bi][j])) > 1e-4 {
				t.Fatalf("block %d weight %d: cpu %v, gpu %v", bi, j, cpuGrads[bi][j], gpuGrads[bi][j])
			}
		}
	}
}

// TestGPUBudgetFallsBackToCPU checks that batches over the GPU memory budget
// are projected and backpropagated on the CPU
func TestGPUBudgetFallsBackToCPU(t *testing.T) {
	const steps = 4
	gpuNet, err := NewXORNetwork(steps, 5)
	if err != nil {
		t.Fatal(err)
	}
	gpuNet.GPUBudgetBytes = 1
	if err := gpuNet.InitGPU(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}
	defer gpuNet.ReleaseGPU()

	cpuNet, err := NewXORNetwork(steps, 5)
	if err != nil {
		t.Fatal(err)
	}

	inputs := [][]float32{broadcastPair(1, 0, steps)}
	targets := [][]float32{make([]float32, steps)}
	cpuGrads, _ := analyticGradients(t, cpuNet, inputs, targets)
	gpuGrads, _ := analyticGradients(t, gpuNet, inputs, targets)

	for bi := range cpuGrads {
		for j := range cpuGrads[bi] {
			if cpuGrads[bi][j] != gpuGrads[bi][j] {
				t.Fatalf("block %d weight %d: cpu %v, fallback %v", bi, j, cpuGrads[bi][j], gpuGrads[bi][j])
			}
		}
	}
}
