package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/openfluke/snnloom/config"
	"github.com/openfluke/snnloom/dataset"
	"github.com/openfluke/snnloom/detector"
	"github.com/openfluke/snnloom/gpu"
	"github.com/openfluke/snnloom/runlog"
	"github.com/openfluke/snnloom/snn"
)

// XOR regression with a spiking network:
// Input(2) → Dense(2→32) → Dense(32→32) → Affine(32→1), CUBA neurons,
// trained by BPTT with surrogate gradients on the membrane voltage of the
// last block. The final time step is rounded to read off the XOR value.

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %+v", err)
	}

	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "training epochs")
	lr := flag.Float64("lr", float64(cfg.LearningRate), "learning rate")
	flag.IntVar(&cfg.TimeSteps, "steps", cfg.TimeSteps, "pseudo-time steps per sample")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "batch size")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "weight init and shuffle seed")
	flag.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "adam, adamw, sgd or sgd_momentum")
	flag.StringVar(&cfg.LRSchedule, "schedule", cfg.LRSchedule, "constant, linear, cosine or step")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines per batch (0 = one per physical core)")
	flag.BoolVar(&cfg.UseGPU, "gpu", cfg.UseGPU, "run synapse projections on WebGPU")
	jitter := flag.Float64("jitter", float64(cfg.Jitter), "rate-coded input noise in [0, 1]")
	flag.StringVar(&cfg.ModelPath, "save", cfg.ModelPath, "save the trained model to this file")
	flag.StringVar(&cfg.RunLogDSN, "runlog", cfg.RunLogDSN, "record the run (sqlite:<path> or mysql:<dsn>)")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "print one line per epoch")
	flag.BoolVar(&gpu.Debug, "gpu-debug", false, "verbose WebGPU logging")
	trace := flag.Bool("trace", false, "print per-block forward/backward statistics")
	flag.Parse()

	cfg.LearningRate = float32(*lr)
	cfg.Jitter = float32(*jitter)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(cfg, *trace); err != nil {
		log.Fatalf("xor_regression: %+v", err)
	}
}

func run(cfg config.Config, trace bool) error {
	// Dataset
	var data *dataset.XOR
	var err error
	if cfg.Jitter > 0 {
		data, err = dataset.NewJitteredXOR(cfg.TimeSteps, cfg.Jitter, cfg.Seed)
	} else {
		data, err = dataset.NewXOR(cfg.TimeSteps)
	}
	if err != nil {
		return err
	}
	loader, err := dataset.NewLoader(data, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return err
	}

	// Network
	network, err := snn.NewXORNetwork(cfg.TimeSteps, cfg.Seed)
	if err != nil {
		return err
	}

	report := detector.Detect()
	network.Workers = cfg.Workers
	if network.Workers == 0 {
		network.Workers = report.Recommended.Workers
	}
	if cfg.UseGPU {
		network.GPUWorkgroupSize = report.Recommended.WorkgroupX
		network.GPUBudgetBytes = report.Recommended.BudgetBytes
		if err := network.InitGPU(); err != nil {
			log.Printf("GPU unavailable, using CPU: %v", err)
		} else {
			defer network.ReleaseGPU()
			fmt.Printf("Synapses on GPU: %s\n", gpu.AdapterName())
		}
	}
	if trace {
		network.AttachObserver(&snn.ConsoleObserver{})
	}

	if cfg.Verbose {
		fmt.Println(report.Summary())
		fmt.Println(snn.ExtractNetworkBlueprint(network, "xor_regression"))
		fmt.Println()
	}

	// Optional run history
	var store *runlog.Store
	var runID int64
	if cfg.RunLogDSN != "" {
		store, err = runlog.Open(cfg.RunLogDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		runID, err = store.StartRun(runlog.Run{
			Name:         "xor_regression",
			Seed:         cfg.Seed,
			TimeSteps:    cfg.TimeSteps,
			Epochs:       cfg.Epochs,
			LearningRate: cfg.LearningRate,
			Optimizer:    cfg.Optimizer,
			Workers:      network.Workers,
			UseGPU:       network.GPUEnabled(),
		})
		if err != nil {
			return err
		}
	}

	// Training
	trainCfg := snn.TrainConfig{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		Optimizer:    cfg.Optimizer,
		LRSchedule:   cfg.LRSchedule,
		GradientClip: cfg.GradientClip,
		Verbose:      true,
		PrintEvery:   1,
	}
	if !cfg.Verbose {
		trainCfg.PrintEvery = cfg.Epochs
	}

	var recordErr error
	if store != nil {
		trainCfg.OnEpoch = func(s snn.EpochSummary) {
			if recordErr != nil {
				return
			}
			recordErr = store.RecordEpoch(runID, runlog.Epoch{
				Epoch:     s.Epoch,
				Loss:      s.Loss,
				Accuracy:  s.Accuracy,
				EventRate: s.Sparsity.Overall(),
				LR:        s.LearningRate,
				Duration:  s.Duration,
			})
		}
	}

	result, err := network.Fit(loader, trainCfg)
	if err != nil {
		return err
	}
	if recordErr != nil {
		return recordErr
	}
	if store != nil {
		if err := store.FinishRun(runID, result.FinalLoss, result.FinalAccuracy); err != nil {
			return err
		}
	}

	// Final prediction on the noiseless table
	clean, err := dataset.NewXOR(cfg.TimeSteps)
	if err != nil {
		return err
	}
	predictions, err := network.Predict(dataset.All(clean).Inputs)
	if err != nil {
		return err
	}

	inputs, labels := clean.Table()
	predicted := make([]float32, len(predictions))
	for i, p := range predictions {
		predicted[i] = p[0]
	}

	fmt.Println()
	fmt.Printf("Input:     %v\n", inputs)
	fmt.Printf("Expected:  %v\n", labels)
	fmt.Printf("Predicted: %v\n", predicted)
	fmt.Printf("Trained %d epochs in %v (best loss %.5f, best accuracy %.2f)\n",
		result.Epochs, result.TotalTime, result.BestLoss, result.BestAccuracy)

	if cfg.ModelPath != "" {
		if err := network.SaveModel(cfg.ModelPath, "xor_regression"); err != nil {
			return err
		}
		fmt.Printf("Model saved to %s\n", cfg.ModelPath)
	}
	return nil
}
