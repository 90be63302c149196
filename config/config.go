// Package config loads training settings from .env files and SNN_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the settings of an XOR regression run
type Config struct {
	Epochs       int
	LearningRate float32
	TimeSteps    int
	BatchSize    int
	Seed         int64
	Optimizer    string
	LRSchedule   string
	GradientClip float32
	Workers      int // 0 = detect
	UseGPU       bool
	Jitter       float32
	ModelPath    string // save the trained model here when set
	RunLogDSN    string // "sqlite:<path>" or "mysql:<dsn>", empty = off
	Verbose      bool
}

// Default returns the settings of the reference run
func Default() Config {
	return Config{
		Epochs:       300,
		LearningRate: 0.003,
		TimeSteps:    50,
		BatchSize:    4,
		Seed:         0,
		Optimizer:    "adam",
		LRSchedule:   "constant",
		Verbose:      true,
	}
}

// Load reads the given .env files (missing files are skipped) and then
// overlays SNN_* variables from the process environment on Default().
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", f)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	set := func(key string, parse func(string) error) {
		if err != nil {
			return
		}
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if perr := parse(v); perr != nil {
				err = errors.Wrapf(perr, "%s=%q", key, v)
			}
		}
	}

	set("SNN_EPOCHS", intVar(&cfg.Epochs))
	set("SNN_LEARNING_RATE", float32Var(&cfg.LearningRate))
	set("SNN_TIME_STEPS", intVar(&cfg.TimeSteps))
	set("SNN_BATCH_SIZE", intVar(&cfg.BatchSize))
	set("SNN_SEED", func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		cfg.Seed = v
		return err
	})
	set("SNN_OPTIMIZER", stringVar(&cfg.Optimizer))
	set("SNN_LR_SCHEDULE", stringVar(&cfg.LRSchedule))
	set("SNN_GRADIENT_CLIP", float32Var(&cfg.GradientClip))
	set("SNN_WORKERS", intVar(&cfg.Workers))
	set("SNN_GPU", boolVar(&cfg.UseGPU))
	set("SNN_JITTER", float32Var(&cfg.Jitter))
	set("SNN_MODEL_PATH", stringVar(&cfg.ModelPath))
	set("SNN_RUNLOG_DSN", stringVar(&cfg.RunLogDSN))
	set("SNN_VERBOSE", boolVar(&cfg.Verbose))

	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the ranges of the numeric settings
func (c Config) Validate() error {
	switch {
	case c.Epochs < 1:
		return errors.Errorf("epochs must be at least 1, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	case c.TimeSteps < 1:
		return errors.Errorf("time steps must be at least 1, got %d", c.TimeSteps)
	case c.BatchSize < 1:
		return errors.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	case c.Jitter < 0 || c.Jitter > 1:
		return errors.Errorf("jitter must be in [0, 1], got %g", c.Jitter)
	case c.Workers < 0:
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

func intVar(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		*dst = v
		return err
	}
}

func float32Var(dst *float32) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 32)
		*dst = float32(v)
		return err
	}
}

func boolVar(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		*dst = v
		return err
	}
}

func stringVar(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}
