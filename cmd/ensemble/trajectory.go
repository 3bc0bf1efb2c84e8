package main

import (
	"context"
	"io"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/director"
	"github.com/pthm-cable/fusion/telemetry"
)

// runResult holds one replicate's population count at each checkpoint.
type runResult struct {
	seed   int64
	counts []float64
	steps  int
}

// checkpoints returns n evenly spaced times in (0, maxTime].
func checkpoints(maxTime float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = maxTime * float64(i+1) / float64(n)
	}
	return out
}

// runReplicate executes one quiet run and reconstructs the population count
// at each checkpoint from the event log. The run is added to store if one is open.
func runReplicate(ctx context.Context, store *telemetry.RunStore, cfg *config.Config, seed int64, maxTime float64, times []float64) (*runResult, error) {
	runID, err := store.BeginRun(ctx, seed, maxTime, cfg)
	if err != nil {
		return nil, err
	}

	observer := telemetry.NewObserver(io.Discard)
	d, err := director.NewFromConfig(cfg, director.Options{
		Seed:     seed,
		Observer: observer,
	})
	if err != nil {
		return nil, err
	}
	initial := d.System().PopulationCount()

	if err := d.RunSimulation(maxTime); err != nil {
		return nil, err
	}

	if err := store.WriteEvents(ctx, runID, observer.History()); err != nil {
		return nil, err
	}
	if err := store.FinishRun(ctx, runID, d.Clock(), d.Steps(), d.System().PopulationCount()); err != nil {
		return nil, err
	}

	return &runResult{
		seed:   seed,
		counts: populationAt(observer.History(), initial, times),
		steps:  d.Steps(),
	}, nil
}

// populationAt counts living populations at each time in times (ascending).
// Births and immigrations add one population, deaths remove one.
func populationAt(history []telemetry.EventRecord, initial int, times []float64) []float64 {
	out := make([]float64, len(times))
	n := initial
	k := 0
	for i, t := range times {
		for k < len(history) && history[k].Time <= t {
			switch history[k].Type {
			case telemetry.EventBirth, telemetry.EventImmigration:
				n++
			case telemetry.EventDeath:
				n--
			}
			k++
		}
		out[i] = float64(n)
	}
	return out
}
