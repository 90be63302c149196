package snn

import (
	"testing"

	"github.com/openfluke/snnloom/dataset"
)

func xorLoader(t *testing.T, steps int) *dataset.Loader {
	t.Helper()
	data, err := dataset.NewXOR(steps)
	if err != nil {
		t.Fatal(err)
	}
	loader, err := dataset.NewLoader(data, 4, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	return loader
}

// TestFitReducesLoss trains the XOR network briefly and checks the loss goes down
func TestFitReducesLoss(t *testing.T) {
	const steps = 20
	net, err := NewXORNetwork(steps, 1)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultTrainConfig()
	cfg.Epochs = 30
	cfg.LearningRate = 0.01
	cfg.Verbose = false

	var summaries []EpochSummary
	cfg.OnEpoch = func(s EpochSummary) { summaries = append(summaries, s) }

	result, err := net.Fit(xorLoader(t, steps), cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if len(result.LossHistory) != cfg.Epochs || len(summaries) != cfg.Epochs {
		t.Fatalf("Expected %d epochs, got %d losses and %d summaries",
			cfg.Epochs, len(result.LossHistory), len(summaries))
	}
	if result.BestLoss >= result.LossHistory[0] {
		t.Errorf("loss did not decrease: first %.5f, best %.5f", result.LossHistory[0], result.BestLoss)
	}
	if result.FinalLoss != result.LossHistory[cfg.Epochs-1] {
		t.Errorf("FinalLoss %.5f does not match history %.5f", result.FinalLoss, result.LossHistory[cfg.Epochs-1])
	}
	for i, b := range net.Blocks {
		for _, d := range b.Decay {
			if d < 0 || d > 1 {
				t.Errorf("block %d decay %.4f left [0, 1]", i, d)
			}
		}
	}
	if len(result.Sparsity.Blocks) != 3 {
		t.Errorf("Expected 3 spiking blocks in the sparsity report, got %d", len(result.Sparsity.Blocks))
	}
}

// TestFitSolvesXOR trains with the default configuration and checks the
// rounded final-step predictions reproduce the XOR table
func TestFitSolvesXOR(t *testing.T) {
	const steps = 50
	net, err := NewXORNetwork(steps, 0)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultTrainConfig()
	cfg.Verbose = false

	result, err := net.Fit(xorLoader(t, steps), cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.FinalAccuracy != 1 {
		t.Errorf("Expected final accuracy 1, got %.2f (loss %.5f)", result.FinalAccuracy, result.FinalLoss)
	}

	data, _ := dataset.NewXOR(steps)
	predictions, err := net.Predict(dataset.All(data).Inputs)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	want := []float32{0, 1, 1, 0}
	if len(predictions) != len(want) {
		t.Fatalf("Expected %d predictions, got %d", len(want), len(predictions))
	}
	for i, p := range predictions {
		if len(p) != 1 || p[0] != want[i] {
			t.Errorf("sample %d: predicted %v, expected %v", i, p, want[i])
		}
	}
}

// TestFitValidatesConfig covers the configuration errors
func TestFitValidatesConfig(t *testing.T) {
	net, err := NewXORNetwork(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	loader := xorLoader(t, 5)

	tests := []struct {
		name   string
		mutate func(*TrainConfig)
	}{
		{"zero epochs", func(c *TrainConfig) { c.Epochs = 0 }},
		{"zero learning rate", func(c *TrainConfig) { c.LearningRate = 0 }},
		{"unknown optimizer", func(c *TrainConfig) { c.Optimizer = "lion" }},
		{"unknown schedule", func(c *TrainConfig) { c.LRSchedule = "warmup" }},
	}
	for _, tt := range tests {
		cfg := DefaultTrainConfig()
		cfg.Verbose = false
		tt.mutate(&cfg)
		if _, err := net.Fit(loader, cfg); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}

	if _, err := net.Fit(nil, DefaultTrainConfig()); err == nil {
		t.Error("nil loader: expected an error")
	}
}

// TestAssistantTrainRecordsStats verifies one step updates parameters and statistics
func TestAssistantTrainRecordsStats(t *testing.T) {
	const steps = 10
	net, err := NewXORNetwork(steps, 2)
	if err != nil {
		t.Fatal(err)
	}
	before := append([]float32(nil), net.Blocks[3].Weights...)

	assistant := NewAssistant(net, NewAdamOptimizerDefault(), 0.01)
	assistant.CountLog = true

	data, _ := dataset.NewXOR(steps)
	batch := dataset.All(data)
	outputs, counts, err := assistant.Train(batch)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(outputs) != 4 || len(counts) != 4 {
		t.Fatalf("Expected 4 outputs and 4 block counts, got %d and %d", len(outputs), len(counts))
	}
	if assistant.Steps() != 1 {
		t.Errorf("Expected 1 step, got %d", assistant.Steps())
	}
	if assistant.Stats.Training.Samples() != 4 {
		t.Errorf("Expected 4 recorded samples, got %d", assistant.Stats.Training.Samples())
	}

	changed := false
	for i, w := range net.Blocks[3].Weights {
		if w != before[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("output weights did not change after a training step")
	}

	if _, _, err := assistant.Test(dataset.Batch{}); err != ErrEmptyBatch {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
}
