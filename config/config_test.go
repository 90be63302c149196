package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TimeSteps != 50 || cfg.Epochs != 300 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"SNN_EPOCHS":        "120",
		"SNN_LEARNING_RATE": "0.01",
		"SNN_TIME_STEPS":    " 25 ",
		"SNN_GPU":           "true",
		"SNN_OPTIMIZER":     "sgd_momentum",
		"SNN_RUNLOG_DSN":    "sqlite:runs.db",
	}
	cfg, err := FromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Epochs != 120 || cfg.LearningRate != 0.01 || cfg.TimeSteps != 25 {
		t.Errorf("numeric settings not applied: %+v", cfg)
	}
	if !cfg.UseGPU || cfg.Optimizer != "sgd_momentum" || cfg.RunLogDSN != "sqlite:runs.db" {
		t.Errorf("string/bool settings not applied: %+v", cfg)
	}
	if cfg.BatchSize != 4 {
		t.Errorf("unset values should keep defaults, batch size %d", cfg.BatchSize)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SNN_EPOCHS", "many"},
		{"SNN_EPOCHS", "0"},
		{"SNN_LEARNING_RATE", "-1"},
		{"SNN_GPU", "sometimes"},
		{"SNN_JITTER", "1.5"},
		{"SNN_TIME_STEPS", "0"},
	}
	for _, tt := range tests {
		_, err := FromEnv(func(k string) string {
			if k == tt.key {
				return tt.value
			}
			return ""
		})
		if err == nil {
			t.Errorf("%s=%s: expected an error", tt.key, tt.value)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SNN_EPOCHS=7\nSNN_SEED=99\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// the process environment wins over the file
	t.Setenv("SNN_SEED", "5")
	t.Cleanup(func() { os.Unsetenv("SNN_EPOCHS") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Epochs != 7 {
		t.Errorf("Expected epochs from .env, got %d", cfg.Epochs)
	}
	if cfg.Seed != 5 {
		t.Errorf("Expected seed from the environment, got %d", cfg.Seed)
	}
}
