package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// DefaultWorkgroupSize is used when SynapseSpec.WorkgroupSize is 0
const DefaultWorkgroupSize = 256

// ErrBudgetExceeded is returned by Build when the buffers for the requested
// row count would not fit SynapseSpec.BudgetBytes.
var ErrBudgetExceeded = errors.New("synapse buffers exceed the memory budget")

// SynapseSpec defines a dense synaptic projection Z = X·W
type SynapseSpec struct {
	InputSize  int
	OutputSize int

	// WorkgroupSize is the 1D workgroup of every synapse kernel (0 = 256)
	WorkgroupSize uint32
	// BudgetBytes caps forward plus backward buffer memory (0 = no cap)
	BudgetBytes uint64
}

// Synapse computes the projection of many time-major rows in one dispatch.
// Rows are batch*timeSteps; the projection has no temporal dependency so
// every (row, output) pair is one invocation.
type Synapse struct {
	Spec SynapseSpec

	rows int

	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup

	InputBuffer   *wgpu.Buffer
	OutputBuffer  *wgpu.Buffer
	WeightBuffer  *wgpu.Buffer
	StagingBuffer *wgpu.Buffer

	WorkgroupsX uint32

	backward *synapseBackward
}

// NewSynapse creates an unbuilt synapse kernel
func NewSynapse(spec SynapseSpec) *Synapse {
	return &Synapse{Spec: spec}
}

// Rows returns the row count the kernel was built for (0 = not built)
func (s *Synapse) Rows() int {
	return s.rows
}

func (s *Synapse) workgroupSize() uint32 {
	if s.Spec.WorkgroupSize == 0 {
		return DefaultWorkgroupSize
	}
	return s.Spec.WorkgroupSize
}

// workgroups returns the dispatch count covering threads invocations
func (s *Synapse) workgroups(threads int) uint32 {
	wg := s.workgroupSize()
	return (uint32(threads) + wg - 1) / wg
}

// BufferBytes is the GPU memory used by the forward and backward buffers
// (staging included) for the given row count.
func (s *Synapse) BufferBytes(rows int) uint64 {
	in, out := uint64(s.Spec.InputSize), uint64(s.Spec.OutputSize)
	r := uint64(rows)
	return 4 * 3 * (in*r + out*r + in*out)
}

// GenerateShader creates WGSL for the projection
func (s *Synapse) GenerateShader() string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_out = %du;
			let n_in = %du;

			if (idx >= arrayLength(&output)) {
				return;
			}

			// idx = row * n_out + out_idx
			let row = idx / n_out;
			let out_idx = idx %% n_out;

			var sum: f32 = 0.0;
			let weight_offset = out_idx * n_in;
			let input_offset = row * n_in;

			for (var i: u32 = 0u; i < n_in; i++) {
				sum += weights[weight_offset + i] * input[input_offset + i];
			}

			output[idx] = sum;
		}
	`, s.workgroupSize(), s.Spec.OutputSize, s.Spec.InputSize)
}

// Build allocates buffers and compiles the pipeline for the given row count
func (s *Synapse) Build(rows int) error {
	if rows <= 0 {
		return errors.Errorf("synapse rows must be positive, got %d", rows)
	}
	if s.Spec.BudgetBytes > 0 && s.BufferBytes(rows) > s.Spec.BudgetBytes {
		return errors.Wrapf(ErrBudgetExceeded, "%d rows need %d bytes, budget %d",
			rows, s.BufferBytes(rows), s.Spec.BudgetBytes)
	}
	c, err := GetContext()
	if err != nil {
		return err
	}

	label := fmt.Sprintf("Syn%dx%d", s.Spec.InputSize, s.Spec.OutputSize)
	Log("building %s for %d rows", label, rows)

	inBytes := uint64(s.Spec.InputSize * rows * 4)
	outBytes := uint64(s.Spec.OutputSize * rows * 4)

	s.InputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + "_In",
		Size:  inBytes,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.Wrap(err, "input buffer")
	}

	s.OutputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + "_Out",
		Size:  outBytes,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return errors.Wrap(err, "output buffer")
	}

	s.WeightBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + "_W",
		Size:  uint64(s.Spec.InputSize * s.Spec.OutputSize * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.Wrap(err, "weight buffer")
	}

	s.StagingBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + "_Staging",
		Size:  outBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.Wrap(err, "staging buffer")
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: s.GenerateShader()},
	})
	if err != nil {
		return errors.Wrap(err, "shader compile")
	}
	defer module.Release()

	// Explicit bind group layout to avoid "auto" layout issues in WASM
	s.bindGroupLayout, err = c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Input
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},         // Output
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Weights
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bgl")
	}

	pipelineLayout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{s.bindGroupLayout},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}
	defer pipelineLayout.Release()

	s.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return errors.Wrap(err, "pipeline create")
	}

	s.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + "_Bind",
		Layout: s.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: s.InputBuffer, Size: s.InputBuffer.GetSize()},
			{Binding: 1, Buffer: s.OutputBuffer, Size: s.OutputBuffer.GetSize()},
			{Binding: 2, Buffer: s.WeightBuffer, Size: s.WeightBuffer.GetSize()},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group")
	}

	s.WorkgroupsX = s.workgroups(s.Spec.OutputSize * rows)
	s.rows = rows
	return nil
}

// UploadWeights writes [InputSize, OutputSize] weights, transposed for the kernel
func (s *Synapse) UploadWeights(weights []float32) error {
	if len(weights) != s.Spec.InputSize*s.Spec.OutputSize {
		return errors.Errorf("synapse expects %d weights, got %d", s.Spec.InputSize*s.Spec.OutputSize, len(weights))
	}
	c, err := GetContext()
	if err != nil {
		return err
	}
	transposed := transposeWeights(weights, s.Spec.InputSize, s.Spec.OutputSize)
	c.Queue.WriteBuffer(s.WeightBuffer, 0, wgpu.ToBytes(transposed))
	return nil
}

// Forward projects rows*InputSize inputs to rows*OutputSize outputs
func (s *Synapse) Forward(input []float32) ([]float32, error) {
	if s.rows == 0 {
		return nil, errors.New("synapse not built")
	}
	if len(input) != s.rows*s.Spec.InputSize {
		return nil, errors.Errorf("synapse input has %d values, expected %d", len(input), s.rows*s.Spec.InputSize)
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	c.Queue.WriteBuffer(s.InputBuffer, 0, wgpu.ToBytes(input))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create command encoder")
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, s.bindGroup, nil)
	pass.DispatchWorkgroups(s.WorkgroupsX, 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(s.OutputBuffer, 0, s.StagingBuffer, 0, s.OutputBuffer.GetSize())

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, errors.Wrap(err, "finish command")
	}
	c.Queue.Submit(cmd)

	return readStagingBuffer(c, s.StagingBuffer, s.rows*s.Spec.OutputSize)
}

// Cleanup releases resources
func (s *Synapse) Cleanup() {
	s.releaseBackward()
	if s.InputBuffer != nil {
		s.InputBuffer.Destroy()
	}
	if s.OutputBuffer != nil {
		s.OutputBuffer.Destroy()
	}
	if s.WeightBuffer != nil {
		s.WeightBuffer.Destroy()
	}
	if s.StagingBuffer != nil {
		s.StagingBuffer.Destroy()
	}
	if s.bindGroup != nil {
		s.bindGroup.Release()
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.bindGroupLayout != nil {
		s.bindGroupLayout.Release()
	}
	*s = Synapse{Spec: s.Spec}
}
