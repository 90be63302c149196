package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// synapseBackward holds buffers and pipelines for the synapse gradients
type synapseBackward struct {
	rows int

	gradZBuf     *wgpu.Buffer
	gradWBuf     *wgpu.Buffer
	gradInBuf    *wgpu.Buffer
	stagingW     *wgpu.Buffer
	stagingIn    *wgpu.Buffer
	pipelineW    *wgpu.ComputePipeline
	pipelineIn   *wgpu.ComputePipeline
	bindGroup    *wgpu.BindGroup
	workgroupsW  uint32
	workgroupsIn uint32
}

// GenerateBackwardShaderGradW creates WGSL for dW[i, o] = sum_r X[r, i] * dZ[r, o].
// The result uses the CPU layout i*n_out + o, summed over all rows.
func (s *Synapse) GenerateBackwardShaderGradW(rows int) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> d_z : array<f32>;
		@group(0) @binding(4) var<storage, read_write> d_weights : array<f32>;
		@group(0) @binding(5) var<storage, read_write> d_input : array<f32>;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_in = %du;
			let n_out = %du;
			let rows = %du;

			if (idx >= n_in * n_out) {
				return;
			}

			let i = idx / n_out;
			let o = idx %% n_out;

			var sum: f32 = 0.0;
			for (var r: u32 = 0u; r < rows; r++) {
				sum += input[r * n_in + i] * d_z[r * n_out + o];
			}
			d_weights[idx] = sum;
		}
	`, s.workgroupSize(), s.Spec.InputSize, s.Spec.OutputSize, rows)
}

// GenerateBackwardShaderGradInput creates WGSL for dX[r, i] = sum_o W[i, o] * dZ[r, o]
func (s *Synapse) GenerateBackwardShaderGradInput() string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> d_z : array<f32>;
		@group(0) @binding(4) var<storage, read_write> d_weights : array<f32>;
		@group(0) @binding(5) var<storage, read_write> d_input : array<f32>;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_in = %du;
			let n_out = %du;

			if (idx >= arrayLength(&d_input)) {
				return;
			}

			let r = idx / n_in;
			let i = idx %% n_in;

			// weights are stored transposed: W[i, o] at o * n_in + i
			var sum: f32 = 0.0;
			for (var o: u32 = 0u; o < n_out; o++) {
				sum += weights[o * n_in + i] * d_z[r * n_out + o];
			}
			d_input[idx] = sum;
		}
	`, s.workgroupSize(), s.Spec.InputSize, s.Spec.OutputSize)
}

// buildBackward allocates the gradient buffers and pipelines; the forward
// kernel must be built for the same row count first.
func (s *Synapse) buildBackward() error {
	c, err := GetContext()
	if err != nil {
		return err
	}

	rows := s.rows
	label := fmt.Sprintf("Syn%dx%d_Bwd", s.Spec.InputSize, s.Spec.OutputSize)
	Log("building %s for %d rows", label, rows)

	weightBytes := uint64(s.Spec.InputSize * s.Spec.OutputSize * 4)
	inBytes := uint64(s.Spec.InputSize * rows * 4)
	outBytes := uint64(s.Spec.OutputSize * rows * 4)

	b := &synapseBackward{rows: rows}
	s.backward = b

	newBuffer := func(name string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
		buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label + "_" + name,
			Size:  size,
			Usage: usage,
		})
		return buf, errors.Wrapf(err, "%s buffer", name)
	}

	if b.gradZBuf, err = newBuffer("dZ", outBytes, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}
	if b.gradWBuf, err = newBuffer("dW", weightBytes, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	if b.gradInBuf, err = newBuffer("dX", inBytes, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	if b.stagingW, err = newBuffer("dW_Staging", weightBytes, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}
	if b.stagingIn, err = newBuffer("dX_Staging", inBytes, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}

	readOnly := wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}
	readWrite := wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}
	bgl, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: readOnly},  // Input
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: readOnly},  // Weights
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: readOnly},  // dZ
			{Binding: 4, Visibility: wgpu.ShaderStageCompute, Buffer: readWrite}, // dW
			{Binding: 5, Visibility: wgpu.ShaderStageCompute, Buffer: readWrite}, // dX
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bgl")
	}
	defer bgl.Release()

	layout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}
	defer layout.Release()

	compile := func(name, code string) (*wgpu.ComputePipeline, error) {
		module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          label + "_" + name + "_Shader",
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "%s shader compile", name)
		}
		defer module.Release()

		pipe, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:   label + "_" + name + "_Pipe",
			Layout:  layout,
			Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
		})
		return pipe, errors.Wrapf(err, "%s pipeline create", name)
	}

	if b.pipelineW, err = compile("dW", s.GenerateBackwardShaderGradW(rows)); err != nil {
		return err
	}
	if b.pipelineIn, err = compile("dX", s.GenerateBackwardShaderGradInput()); err != nil {
		return err
	}

	b.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + "_Bind",
		Layout: bgl,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: s.InputBuffer, Size: s.InputBuffer.GetSize()},
			{Binding: 2, Buffer: s.WeightBuffer, Size: s.WeightBuffer.GetSize()},
			{Binding: 3, Buffer: b.gradZBuf, Size: b.gradZBuf.GetSize()},
			{Binding: 4, Buffer: b.gradWBuf, Size: b.gradWBuf.GetSize()},
			{Binding: 5, Buffer: b.gradInBuf, Size: b.gradInBuf.GetSize()},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group")
	}

	b.workgroupsW = s.workgroups(s.Spec.InputSize * s.Spec.OutputSize)
	b.workgroupsIn = s.workgroups(s.Spec.InputSize * rows)
	return nil
}

// Backward returns the weight gradient summed over all rows ([InputSize*OutputSize],
// index i*OutputSize+o) and the per-row input gradient ([rows*InputSize]).
// input must be the rows passed to the last Forward; weights are those of the last upload.
func (s *Synapse) Backward(input, gradZ []float32) ([]float32, []float32, error) {
	if s.rows == 0 {
		return nil, nil, errors.New("synapse not built")
	}
	if len(input) != s.rows*s.Spec.InputSize || len(gradZ) != s.rows*s.Spec.OutputSize {
		return nil, nil, errors.Errorf("synapse backward got %d inputs and %d gradients for %d rows",
			len(input), len(gradZ), s.rows)
	}
	if s.backward == nil {
		if err := s.buildBackward(); err != nil {
			s.releaseBackward()
			return nil, nil, err
		}
	}

	c, err := GetContext()
	if err != nil {
		return nil, nil, err
	}
	b := s.backward

	c.Queue.WriteBuffer(s.InputBuffer, 0, wgpu.ToBytes(input))
	c.Queue.WriteBuffer(b.gradZBuf, 0, wgpu.ToBytes(gradZ))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create command encoder")
	}
	pass := enc.BeginComputePass(nil)
	pass.SetBindGroup(0, b.bindGroup, nil)
	pass.SetPipeline(b.pipelineW)
	pass.DispatchWorkgroups(b.workgroupsW, 1, 1)
	pass.SetPipeline(b.pipelineIn)
	pass.DispatchWorkgroups(b.workgroupsIn, 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(b.gradWBuf, 0, b.stagingW, 0, b.gradWBuf.GetSize())
	enc.CopyBufferToBuffer(b.gradInBuf, 0, b.stagingIn, 0, b.gradInBuf.GetSize())

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "finish command")
	}
	c.Queue.Submit(cmd)

	gradW, err := readStagingBuffer(c, b.stagingW, s.Spec.InputSize*s.Spec.OutputSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read dW")
	}
	gradIn, err := readStagingBuffer(c, b.stagingIn, s.rows*s.Spec.InputSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read dX")
	}
	return gradW, gradIn, nil
}

func (s *Synapse) releaseBackward() {
	b := s.backward
	if b == nil {
		return
	}
	for _, buf := range []*wgpu.Buffer{b.gradZBuf, b.gradWBuf, b.gradInBuf, b.stagingW, b.stagingIn} {
		if buf != nil {
			buf.Destroy()
		}
	}
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	if b.pipelineW != nil {
		b.pipelineW.Release()
	}
	if b.pipelineIn != nil {
		b.pipelineIn.Release()
	}
	s.backward = nil
}
