package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/telemetry"
)

func TestCheckpoints(t *testing.T) {
	got := checkpoints(10, 4)
	want := []float64{2.5, 5, 7.5, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("checkpoints[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPopulationAt(t *testing.T) {
	history := []telemetry.EventRecord{
		{Type: telemetry.EventBirth, Time: 0.5},
		{Type: telemetry.EventMutation, Time: 0.5},
		{Type: telemetry.EventImmigration, Time: 1.2},
		{Type: telemetry.EventDeath, Time: 2.5},
		{Type: telemetry.EventBirth, Time: 3.5},
	}

	got := populationAt(history, 1, []float64{0.4, 1, 2, 3, 4})
	want := []float64{1, 2, 3, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("populationAt[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFitGrowthRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		n0   float64
	}{
		{"growth", 0.3, 1},
		{"decline", -0.2, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times := checkpoints(10, 10)
			means := make([]float64, len(times))
			for i, x := range times {
				means[i] = tt.n0 * math.Exp(tt.rate*x)
			}
			got, err := fitGrowthRate(times, means, tt.n0)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.rate) > 5e-3 {
				t.Errorf("fitted rate = %v, want %v", got, tt.rate)
			}
		})
	}
}

func TestFitGrowthRateNoData(t *testing.T) {
	if _, err := fitGrowthRate([]float64{1, 2}, []float64{0, 0}, 1); err == nil {
		t.Error("expected error when every mean is zero")
	}
}

func TestRunReplicateIsDeterministic(t *testing.T) {
	cfg := config.Default()
	times := checkpoints(5, 5)

	a, err := runReplicate(context.Background(), nil, cfg, 42, 5, times)
	if err != nil {
		t.Fatal(err)
	}
	b, err := runReplicate(context.Background(), nil, cfg, 42, 5, times)
	if err != nil {
		t.Fatal(err)
	}
	if a.steps != b.steps {
		t.Errorf("steps differ: %d vs %d", a.steps, b.steps)
	}
	for i := range a.counts {
		if a.counts[i] != b.counts[i] {
			t.Errorf("count at %v differs: %v vs %v", times[i], a.counts[i], b.counts[i])
		}
	}
}

func TestRunReplicateStoresRun(t *testing.T) {
	ctx := context.Background()
	store, err := telemetry.OpenRunStore(ctx, filepath.Join(t.TempDir(), "ensemble.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	res, err := runReplicate(ctx, store, config.Default(), 7, 3, checkpoints(3, 3))
	if err != nil {
		t.Fatal(err)
	}

	var steps int
	if err := store.DB().QueryRowContext(ctx, `SELECT steps FROM runs WHERE seed = 7`).Scan(&steps); err != nil {
		t.Fatal(err)
	}
	if steps != res.steps {
		t.Errorf("stored steps = %d, want %d", steps, res.steps)
	}
}
