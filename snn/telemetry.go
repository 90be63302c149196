package snn

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/c2h5oh/datasize"
)

// ModelTelemetry represents a single network's structure
type ModelTelemetry struct {
	ID          string           `json:"id"`
	TimeSteps   int              `json:"time_steps"`
	TotalBlocks int              `json:"total_blocks"`
	TotalParams int              `json:"total_parameters"`
	Blocks      []BlockTelemetry `json:"blocks"`
}

// BlockTelemetry contains metadata about a specific block
type BlockTelemetry struct {
	Index      int        `json:"index"`
	Type       string     `json:"type"`
	Parameters int        `json:"parameters"`
	InputSize  int        `json:"input_size"`
	OutputSize int        `json:"output_size"`
	Neuron     CUBAParams `json:"neuron"`
	Decay      []float32  `json:"decay"`

	// Bytes of state one sample keeps for backward (current, voltage, spikes)
	TraceBytes uint64 `json:"trace_bytes"`
}

// ExtractNetworkBlueprint extracts telemetry data from a network
func ExtractNetworkBlueprint(n *Network, modelID string) ModelTelemetry {
	telemetry := ModelTelemetry{
		ID:          modelID,
		TimeSteps:   n.TimeSteps,
		TotalBlocks: len(n.Blocks),
		Blocks:      make([]BlockTelemetry, 0, len(n.Blocks)),
	}

	floatSize := uint64(unsafe.Sizeof(float32(0)))
	for i := range n.Blocks {
		b := &n.Blocks[i]
		planes := uint64(2)
		if b.Spiking() {
			planes++
		}
		bt := BlockTelemetry{
			Index:      i,
			Type:       b.Type.String(),
			Parameters: b.NumParameters(),
			InputSize:  b.InputSize,
			OutputSize: b.OutputSize,
			Neuron:     b.Neuron,
			Decay:      append([]float32(nil), b.Decay...),
			TraceBytes: planes * uint64(n.TimeSteps*b.OutputSize) * floatSize,
		}
		telemetry.Blocks = append(telemetry.Blocks, bt)
		telemetry.TotalParams += bt.Parameters
	}
	return telemetry
}

// ParamBytes returns the memory taken by the learnable parameters
func (m ModelTelemetry) ParamBytes() datasize.ByteSize {
	return datasize.ByteSize(uint64(m.TotalParams) * uint64(unsafe.Sizeof(float32(0))))
}

// TraceBytes returns the per-sample memory kept for backward
func (m ModelTelemetry) TraceBytes() datasize.ByteSize {
	var total uint64
	for _, b := range m.Blocks {
		total += b.TraceBytes
	}
	return datasize.ByteSize(total)
}

// String returns a per-block summary with human readable sizes
func (m ModelTelemetry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d blocks, %d time steps\n", m.ID, m.TotalBlocks, m.TimeSteps)
	for _, bt := range m.Blocks {
		fmt.Fprintf(&b, "%8s[%d]:\t %d→%d\t Params: %d\t TraceMem: %v\n",
			bt.Type, bt.Index, bt.InputSize, bt.OutputSize, bt.Parameters,
			datasize.ByteSize(bt.TraceBytes).HumanReadable())
	}
	fmt.Fprintf(&b, "Params: %d (%v)\t TraceMem/sample: %v",
		m.TotalParams, m.ParamBytes().HumanReadable(), m.TraceBytes().HumanReadable())
	return b.String()
}
