package snn

import (
	"math"
	"strings"
	"testing"
)

func TestStatsEpochs(t *testing.T) {
	ls := NewLearningStats()

	ls.Training.record(0.5, 2, 1)
	ls.Training.record(0.25, 2, 2)
	if got := ls.Training.Loss(); math.Abs(got-0.375) > 1e-12 {
		t.Errorf("Expected mean loss 0.375, got %.4f", got)
	}
	if got := ls.Training.Accuracy(); got != 0.75 {
		t.Errorf("Expected accuracy 0.75, got %.4f", got)
	}

	line := ls.Line(3, 100)
	if !strings.HasPrefix(line, "[Epoch   3/100] Train loss = 0.37500") {
		t.Errorf("unexpected line: %q", line)
	}
	if strings.Contains(line, "Test") {
		t.Errorf("line should not report an empty test set: %q", line)
	}

	ls.Update()
	ls.Training.record(0.5, 4, 0)
	ls.Update()

	if len(ls.Training.LossLog) != 2 || len(ls.Testing.LossLog) != 0 {
		t.Errorf("unexpected log lengths: %d train, %d test", len(ls.Training.LossLog), len(ls.Testing.LossLog))
	}
	if ls.Training.MinLoss != 0.375 || ls.Training.MaxAccuracy != 0.75 {
		t.Errorf("unexpected extrema: min %.4f max %.4f", ls.Training.MinLoss, ls.Training.MaxAccuracy)
	}
	if ls.Training.Samples() != 0 {
		t.Error("Update should reset the accumulators")
	}
}

func TestSparsityCounter(t *testing.T) {
	net, err := NewXORNetwork(10, 1)
	if err != nil {
		t.Fatal(err)
	}
	counter := NewSparsityCounter(net)

	// block counts indexed by block; the affine block is ignored
	counter.Add([]float64{20, 64, 32, 999}, 2, 10)
	snap := counter.Snapshot()
	if len(snap.Blocks) != 3 {
		t.Fatalf("Expected 3 spiking blocks, got %d", len(snap.Blocks))
	}

	wantRates := []float64{20.0 / 40, 64.0 / 640, 32.0 / 640}
	for i, r := range snap.Rates() {
		if math.Abs(r-wantRates[i]) > 1e-12 {
			t.Errorf("block %d: rate %.4f, expected %.4f", i, r, wantRates[i])
		}
	}
	if got, want := snap.Overall(), 116.0/1320; math.Abs(got-want) > 1e-12 {
		t.Errorf("overall rate %.5f, expected %.5f", got, want)
	}
	if !strings.HasPrefix(snap.Summary(), "Sparsity (events/neuron/step): input[0] 0.5000") {
		t.Errorf("unexpected summary: %q", snap.Summary())
	}

	counter.Reset()
	if counter.Snapshot().Overall() != 0 {
		t.Error("Reset should clear the counts")
	}
}

func TestChannelObserver(t *testing.T) {
	const steps = 10
	net := handWiredXOR(t, steps)
	obs := NewChannelObserver(16)
	net.AttachObserver(obs)

	inputs := [][]float32{broadcastPair(1, 0, steps)}
	outputs, err := net.Forward(inputs)
	if err != nil {
		t.Fatal(err)
	}
	_, grads, _ := MSELoss{}.Compute(outputs, [][]float32{make([]float32, steps)})
	if err := net.Backward(grads); err != nil {
		t.Fatal(err)
	}

	var forward, backward []BlockEvent
	for len(obs.Events) > 0 {
		ev := <-obs.Events
		if ev.Type == "forward" {
			forward = append(forward, ev)
		} else {
			backward = append(backward, ev)
		}
	}
	if len(forward) != 4 || len(backward) != 4 {
		t.Fatalf("Expected 4 forward and 4 backward events, got %d and %d", len(forward), len(backward))
	}

	// input (1,0): one of two input neurons fires on every step
	if forward[0].Stats.EventRate != 0.5 {
		t.Errorf("input event rate %.3f, expected 0.5", forward[0].Stats.EventRate)
	}
	if forward[3].BlockType != BlockAffine || forward[3].Stats.MaxValue <= 0 {
		t.Errorf("unexpected affine event: %+v", forward[3])
	}
	if forward[0].StepCount != 0 || net.StepCount() != 1 {
		t.Errorf("unexpected step counts: event %d, network %d", forward[0].StepCount, net.StepCount())
	}
}
