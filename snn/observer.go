package snn

import (
	"fmt"
)

// BlockObserver receives events from a block during forward and backward passes
type BlockObserver interface {
	OnForward(event BlockEvent)
	OnBackward(event BlockEvent)
}

// BlockStats summarizes a block's output (forward) or weight gradient (backward)
type BlockStats struct {
	AvgValue  float32 `json:"avg"`
	MaxValue  float32 `json:"max"`
	MinValue  float32 `json:"min"`
	Events    int     `json:"events"`     // non-zero entries (spikes on forward)
	Total     int     `json:"total"`      // entries observed
	EventRate float32 `json:"event_rate"` // Events / Total
	BlockType string  `json:"block_type"`
}

// BlockEvent is delivered to a BlockObserver
type BlockEvent struct {
	Type      string    `json:"type"` // "forward" or "backward"
	BlockIdx  int       `json:"block_idx"`
	BlockType BlockType `json:"-"`
	Stats     BlockStats
	StepCount uint64 `json:"step"`
}

// computeBlockStats calculates summary statistics over one or more slices
func computeBlockStats(data [][]float32, blockType string) BlockStats {
	stats := BlockStats{BlockType: blockType}
	first := true
	var sum float32
	for _, d := range data {
		for _, v := range d {
			if first {
				stats.MaxValue, stats.MinValue = v, v
				first = false
			}
			sum += v
			if v > stats.MaxValue {
				stats.MaxValue = v
			}
			if v < stats.MinValue {
				stats.MinValue = v
			}
			if v != 0 {
				stats.Events++
			}
			stats.Total++
		}
	}
	if stats.Total > 0 {
		stats.AvgValue = sum / float32(stats.Total)
		stats.EventRate = float32(stats.Events) / float32(stats.Total)
	}
	return stats
}

// notifyObserver sends a forward event to the block's observer if one exists
func notifyObserver(config *BlockConfig, eventType string, blockIdx int, outputs [][]float32, stepCount uint64) {
	if config.Observer == nil {
		return
	}

	event := BlockEvent{
		Type:      eventType,
		BlockIdx:  blockIdx,
		BlockType: config.Type,
		Stats:     computeBlockStats(outputs, config.Type.String()),
		StepCount: stepCount,
	}
	config.Observer.OnForward(event)
}

// notifyGradientObserver sends a backward event with weight gradient stats
func notifyGradientObserver(config *BlockConfig, blockIdx int, gradWeights []float32, stepCount uint64) {
	if config.Observer == nil {
		return
	}

	event := BlockEvent{
		Type:      "backward",
		BlockIdx:  blockIdx,
		BlockType: config.Type,
		Stats:     computeBlockStats([][]float32{gradWeights}, config.Type.String()),
		StepCount: stepCount,
	}
	config.Observer.OnBackward(event)
}

// =============================================================================
// Observer Implementations
// =============================================================================

// ConsoleObserver prints block events to stdout
type ConsoleObserver struct{}

func (o *ConsoleObserver) OnForward(event BlockEvent) {
	fmt.Printf("[FWD] Block %d (%s): avg=%.4f max=%.4f events=%d/%d (rate %.4f)\n",
		event.BlockIdx, event.Stats.BlockType,
		event.Stats.AvgValue, event.Stats.MaxValue,
		event.Stats.Events, event.Stats.Total, event.Stats.EventRate)
}

func (o *ConsoleObserver) OnBackward(event BlockEvent) {
	fmt.Printf("[BWD] Block %d (%s): grad_avg=%.6f grad_max=%.6f\n",
		event.BlockIdx, event.Stats.BlockType,
		event.Stats.AvgValue, event.Stats.MaxValue)
}

// ChannelObserver sends events to a Go channel (for internal processing)
type ChannelObserver struct {
	Events chan BlockEvent
}

func NewChannelObserver(bufferSize int) *ChannelObserver {
	return &ChannelObserver{
		Events: make(chan BlockEvent, bufferSize),
	}
}

func (o *ChannelObserver) OnForward(event BlockEvent) {
	select {
	case o.Events <- event:
	default:
		// Channel full, drop event to avoid blocking
	}
}

func (o *ChannelObserver) OnBackward(event BlockEvent) {
	select {
	case o.Events <- event:
	default:
	}
}

// AttachObserver sets the same observer on every block
func (n *Network) AttachObserver(observer BlockObserver) {
	for i := range n.Blocks {
		n.Blocks[i].Observer = observer
	}
}
