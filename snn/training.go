package snn

import (
	"fmt"
	"time"

	"github.com/openfluke/snnloom/dataset"
	"github.com/pkg/errors"
)

// TrainConfig holds configuration for Fit
type TrainConfig struct {
	Epochs       int
	LearningRate float32
	Optimizer    string  // "adam" (default), "adamw", "sgd", "sgd_momentum"
	LRSchedule   string  // "constant" (default), "linear", "cosine", "step"
	GradientClip float32 // max global gradient norm (0 = no clipping)
	Verbose      bool
	PrintEvery   int // print every N epochs (<= 1 prints all)

	// OnEpoch is called after every epoch with its summary
	OnEpoch func(EpochSummary)
}

// DefaultTrainConfig returns the settings used to train the XOR network
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       300,
		LearningRate: 0.003,
		Optimizer:    "adam",
		LRSchedule:   "constant",
		Verbose:      true,
		PrintEvery:   1,
	}
}

// EpochSummary describes one finished epoch
type EpochSummary struct {
	Epoch        int
	Loss         float64
	Accuracy     float64
	LearningRate float32
	Sparsity     Sparsity
	Duration     time.Duration
}

// TrainingResult contains training statistics
type TrainingResult struct {
	FinalLoss       float64
	BestLoss        float64
	FinalAccuracy   float64
	BestAccuracy    float64
	LossHistory     []float64
	AccuracyHistory []float64
	Sparsity        Sparsity // last epoch
	TotalTime       time.Duration
	Epochs          int
}

// Fit trains the network on every batch of the loader for cfg.Epochs epochs
func (n *Network) Fit(loader *dataset.Loader, cfg TrainConfig) (*TrainingResult, error) {
	if loader == nil {
		return nil, errors.New("nil loader")
	}
	if cfg.Epochs < 1 {
		return nil, errors.Errorf("epochs must be at least 1, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}

	optimizer, err := NewOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	batchesPerEpoch := len(loader.Batches())
	if batchesPerEpoch == 0 {
		return nil, ErrEmptyBatch
	}
	scheduler, err := NewScheduler(cfg.LRSchedule, cfg.LearningRate, cfg.Epochs*batchesPerEpoch)
	if err != nil {
		return nil, err
	}

	assistant := NewAssistant(n, optimizer, cfg.LearningRate)
	assistant.Scheduler = scheduler
	assistant.GradientClip = cfg.GradientClip
	assistant.CountLog = true

	counter := NewSparsityCounter(n)
	result := &TrainingResult{}
	start := time.Now()

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		epochStart := time.Now()
		lr := assistant.LearningRate()
		counter.Reset()

		for _, batch := range loader.Batches() {
			_, counts, err := assistant.Train(batch)
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d", epoch)
			}
			counter.Add(counts, batch.Size(), n.TimeSteps)
		}

		summary := EpochSummary{
			Epoch:        epoch,
			Loss:         assistant.Stats.Training.Loss(),
			Accuracy:     assistant.Stats.Training.Accuracy(),
			LearningRate: lr,
			Sparsity:     counter.Snapshot(),
			Duration:     time.Since(epochStart),
		}

		if cfg.Verbose && (cfg.PrintEvery <= 1 || epoch%cfg.PrintEvery == 0 || epoch == cfg.Epochs) {
			fmt.Println(assistant.Stats.Line(epoch, cfg.Epochs))
		}
		assistant.Stats.Update()

		result.LossHistory = append(result.LossHistory, summary.Loss)
		result.AccuracyHistory = append(result.AccuracyHistory, summary.Accuracy)
		result.Sparsity = summary.Sparsity

		if cfg.OnEpoch != nil {
			cfg.OnEpoch(summary)
		}
	}

	result.Epochs = cfg.Epochs
	result.TotalTime = time.Since(start)
	result.FinalLoss = result.LossHistory[len(result.LossHistory)-1]
	result.FinalAccuracy = result.AccuracyHistory[len(result.AccuracyHistory)-1]
	result.BestLoss = assistant.Stats.Training.MinLoss
	result.BestAccuracy = assistant.Stats.Training.MaxAccuracy

	if cfg.Verbose {
		fmt.Println(result.Sparsity.Summary())
	}
	return result, nil
}

// Predict runs a forward pass and returns the rounded final-step output of every sample
func (n *Network) Predict(inputs [][]float32) ([][]float32, error) {
	outputs, err := n.Forward(inputs)
	if err != nil {
		return nil, err
	}
	predictions := make([][]float32, len(outputs))
	for s, out := range outputs {
		predictions[s] = RoundFinal(out, n.OutputSize())
	}
	return predictions, nil
}

// Evaluation holds the result of Evaluate
type Evaluation struct {
	Loss        float64
	Accuracy    float64
	Predictions [][]float32 // rounded final step per sample
	Sparsity    Sparsity
}

// Evaluate runs a forward pass on a batch without updating parameters
func (n *Network) Evaluate(batch dataset.Batch) (*Evaluation, error) {
	if batch.Size() == 0 {
		return nil, ErrEmptyBatch
	}
	outputs, err := n.Forward(batch.Inputs)
	if err != nil {
		return nil, err
	}
	loss, _, err := MSELoss{}.Compute(outputs, batch.Targets)
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{
		Loss:        float64(loss),
		Accuracy:    RegressionAccuracy(outputs, batch.Targets, n.OutputSize()),
		Predictions: make([][]float32, len(outputs)),
	}
	for s, out := range outputs {
		eval.Predictions[s] = RoundFinal(out, n.OutputSize())
	}

	counter := NewSparsityCounter(n)
	counter.Add(n.SpikeCounts(), batch.Size(), n.TimeSteps)
	eval.Sparsity = counter.Snapshot()
	return eval, nil
}
