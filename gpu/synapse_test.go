package gpu

import (
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestTransposeWeights(t *testing.T) {
	// [2,3] -> [3,2]
	in := []float32{1, 2, 3, 4, 5, 6}
	out := transposeWeights(in, 2, 3)
	want := []float32{1, 4, 2, 5, 3, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestSynapseShaderDimensions(t *testing.T) {
	s := NewSynapse(SynapseSpec{InputSize: 32, OutputSize: 7})
	shader := s.GenerateShader()
	if !strings.Contains(shader, "let n_out = 7u;") || !strings.Contains(shader, "let n_in = 32u;") {
		t.Errorf("shader does not embed dimensions:\n%s", shader)
	}
	if s.Rows() != 0 {
		t.Errorf("unbuilt synapse should report 0 rows, got %d", s.Rows())
	}
	if _, err := s.Forward([]float32{1}); err == nil {
		t.Error("Forward on unbuilt synapse should fail")
	}
}

func TestSynapseForwardMatchesCPU(t *testing.T) {
	if err := EnsureGPU(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}

	s := NewSynapse(SynapseSpec{InputSize: 3, OutputSize: 2})
	defer s.Cleanup()
	if err := s.Build(2); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	weights := []float32{
		0.5, -1, // input 0
		1, 2, // input 1
		-0.25, 0, // input 2
	}
	if err := s.UploadWeights(weights); err != nil {
		t.Fatalf("UploadWeights failed: %v", err)
	}

	input := []float32{1, 0, 1, 0, 1, 1}
	out, err := s.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	want := []float32{0.25, -1, 0.75, 2}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-5 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestSynapseBackwardShaderDimensions(t *testing.T) {
	s := NewSynapse(SynapseSpec{InputSize: 4, OutputSize: 3})
	gradW := s.GenerateBackwardShaderGradW(10)
	if !strings.Contains(gradW, "let rows = 10u;") || !strings.Contains(gradW, "let n_out = 3u;") {
		t.Errorf("dW shader does not embed dimensions:\n%s", gradW)
	}
	if !strings.Contains(s.GenerateBackwardShaderGradInput(), "let n_in = 4u;") {
		t.Error("dX shader does not embed the input size")
	}
	if _, _, err := s.Backward([]float32{1}, []float32{1}); err == nil {
		t.Error("Backward on unbuilt synapse should fail")
	}
}

func TestSynapseBackwardMatchesCPU(t *testing.T) {
	if err := EnsureGPU(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}

	s := NewSynapse(SynapseSpec{InputSize: 3, OutputSize: 2})
	defer s.Cleanup()
	if err := s.Build(2); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	weights := []float32{0.5, -1, 1, 2, -0.25, 0}
	if err := s.UploadWeights(weights); err != nil {
		t.Fatalf("UploadWeights failed: %v", err)
	}

	input := []float32{1, 0, 1, 0, 1, 1}
	gradZ := []float32{1, 2, 3, -1}
	gradW, gradIn, err := s.Backward(input, gradZ)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	wantW := []float32{1, 2, 3, -1, 4, 1}
	for i := range wantW {
		if math.Abs(float64(gradW[i]-wantW[i])) > 1e-5 {
			t.Errorf("dW[%d] = %v, want %v", i, gradW[i], wantW[i])
		}
	}
	wantIn := []float32{-1.5, 5, -0.25, 2.5, 1, -0.75}
	for i := range wantIn {
		if math.Abs(float64(gradIn[i]-wantIn[i])) > 1e-5 {
			t.Errorf("dX[%d] = %v, want %v", i, gradIn[i], wantIn[i])
		}
	}
}

func TestSynapseWorkgroupSize(t *testing.T) {
	tests := []struct {
		workgroup uint32
		shader    string
		forward   uint32 // dispatches for 7 outputs × 10 rows
	}{
		{0, "@workgroup_size(256)", 1},
		{64, "@workgroup_size(64)", 2},
		{16, "@workgroup_size(16)", 5},
	}
	for _, tt := range tests {
		s := NewSynapse(SynapseSpec{InputSize: 4, OutputSize: 7, WorkgroupSize: tt.workgroup})
		for name, code := range map[string]string{
			"forward": s.GenerateShader(),
			"dW":      s.GenerateBackwardShaderGradW(10),
			"dX":      s.GenerateBackwardShaderGradInput(),
		} {
			if !strings.Contains(code, tt.shader) {
				t.Errorf("workgroup %d: %s shader missing %q", tt.workgroup, name, tt.shader)
			}
		}
		if got := s.workgroups(7 * 10); got != tt.forward {
			t.Errorf("workgroup %d: %d dispatches, expected %d", tt.workgroup, got, tt.forward)
		}
	}
}

func TestSynapseBudget(t *testing.T) {
	s := NewSynapse(SynapseSpec{InputSize: 2, OutputSize: 3})
	// 3 × 4 bytes × (2*5 + 3*5 + 2*3)
	if got := s.BufferBytes(5); got != 372 {
		t.Errorf("BufferBytes(5) = %d, expected 372", got)
	}

	s.Spec.BudgetBytes = 371
	if err := s.Build(5); errors.Cause(err) != ErrBudgetExceeded {
		t.Errorf("Expected ErrBudgetExceeded, got %v", err)
	}
	if s.Rows() != 0 {
		t.Errorf("over-budget synapse should stay unbuilt, got %d rows", s.Rows())
	}
}

func TestSynapseRebuild(t *testing.T) {
	if err := EnsureGPU(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}

	s := NewSynapse(SynapseSpec{InputSize: 3, OutputSize: 2, WorkgroupSize: 64})
	defer s.Cleanup()
	weights := []float32{0.5, -1, 1, 2, -0.25, 0}
	for _, rows := range []int{2, 5, 2} {
		s.Cleanup()
		if err := s.Build(rows); err != nil {
			t.Fatalf("Build(%d) failed: %v", rows, err)
		}
		if s.bindGroupLayout == nil || s.Rows() != rows {
			t.Fatalf("Build(%d) left the synapse incomplete", rows)
		}
		if err := s.UploadWeights(weights); err != nil {
			t.Fatal(err)
		}
		out, err := s.Forward(make([]float32, rows*3))
		if err != nil {
			t.Fatalf("Forward after rebuild failed: %v", err)
		}
		if len(out) != rows*2 {
			t.Errorf("rows %d: got %d outputs", rows, len(out))
		}
		if _, _, err := s.Backward(make([]float32, rows*3), make([]float32, rows*2)); err != nil {
			t.Fatalf("Backward after rebuild failed: %v", err)
		}
	}
	s.Cleanup()
	if s.bindGroupLayout != nil || s.backward != nil {
		t.Error("Cleanup left layouts or backward buffers behind")
	}
}
