// Package director drives the simulation with Gillespie's direct method:
// every step it rebuilds the propensity of every possible event from the
// current state, draws an exponential waiting time and one event in
// proportion to its propensity, logs it and applies it.
package director

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/events"
	"github.com/pthm-cable/fusion/habitat"
	"github.com/pthm-cable/fusion/telemetry"
)

// Observer receives the event log. The director calls the matching method
// before the event is applied; mutations are reported once they have happened.
type Observer interface {
	LogBirthEvent(time float64, parentID, childID, locationID int)
	LogDeathEvent(time float64, populationID int)
	LogImmigrationEvent(time float64, populationID, fromLocationID, toLocationID int)
	LogMutationEvent(time float64, populationID, locationID int, property string, oldValue, newValue float64)
	PrintEventHistory()
}

// Options configures a Director. Every telemetry sink is optional.
type Options struct {
	Config   *config.Config // nil = embedded defaults
	Seed     int64
	Observer Observer // nil = telemetry.Observer printing to stdout

	Collector  *telemetry.Collector
	Lineage    *telemetry.LineageTracker
	Milestones *telemetry.MilestoneDetector
	Perf       *telemetry.PerfCollector
	Output     *telemetry.OutputManager
	Metrics    *telemetry.Metrics
	Store      *telemetry.RunStore
	RunID      int64 // store row for census windows
	LogStats   bool
}

// Entry is one candidate event with its propensity.
type Entry struct {
	Event events.Event
	Rate  float64
}

// Director owns the system, the random source and the propensity table.
type Director struct {
	cfg      *config.Config
	system   *habitat.System
	rng      *rand.Rand
	observer Observer

	populationEvents []Entry
	isolationEvents  []Entry
	totalRate        float64

	clock float64
	steps int

	collector  *telemetry.Collector
	lineage    *telemetry.LineageTracker
	milestones *telemetry.MilestoneDetector
	perf       *telemetry.PerfCollector
	output     *telemetry.OutputManager
	metrics    *telemetry.Metrics
	store      *telemetry.RunStore
	runID      int64
	logStats   bool
}

// New creates a director over a fresh system of numIsolations isolations
// with the given base rates.
func New(numIsolations int, baseBirthRate, baseDeathRate float64, opts Options) (*Director, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	sys, err := habitat.New(numIsolations, baseBirthRate, baseDeathRate, cfg)
	if err != nil {
		return nil, err
	}

	observer := opts.Observer
	if observer == nil {
		observer = telemetry.NewObserver(os.Stdout)
	}

	d := &Director{
		cfg:        cfg,
		system:     sys,
		rng:        NewRand(opts.Seed),
		observer:   observer,
		collector:  opts.Collector,
		lineage:    opts.Lineage,
		milestones: opts.Milestones,
		perf:       opts.Perf,
		output:     opts.Output,
		metrics:    opts.Metrics,
		store:      opts.Store,
		runID:      opts.RunID,
		logStats:   opts.LogStats,
	}

	for _, iso := range sys.Isolations() {
		for _, p := range iso.Populations() {
			parent, ok := p.Parent()
			if !ok {
				parent = -1
			}
			d.lineage.Register(p.ID, parent, p.LocationID, 0)
		}
	}

	return d, nil
}

// NewFromConfig creates a director from the simulation section of cfg.
func NewFromConfig(cfg *config.Config, opts Options) (*Director, error) {
	opts.Config = cfg
	return New(cfg.Simulation.Isolations, cfg.Simulation.BirthRate, cfg.Simulation.DeathRate, opts)
}

// NewRand returns the generator a director uses for the given seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// System returns the simulated system.
func (d *Director) System() *habitat.System {
	return d.system
}

// Clock returns the elapsed simulated time.
func (d *Director) Clock() float64 {
	return d.clock
}

// Steps returns the number of events executed so far.
func (d *Director) Steps() int {
	return d.steps
}

// TotalPropensity returns the sum of the current table.
func (d *Director) TotalPropensity() float64 {
	return d.totalRate
}

// Entries returns the current table in sampling order: population events
// first, then isolation events, each in generation order.
func (d *Director) Entries() []Entry {
	out := make([]Entry, 0, len(d.populationEvents)+len(d.isolationEvents))
	out = append(out, d.populationEvents...)
	return append(out, d.isolationEvents...)
}

// ComputeEventRates rebuilds the propensity table from the current state.
func (d *Director) ComputeEventRates() error {
	d.populationEvents = d.populationEvents[:0]
	d.isolationEvents = d.isolationEvents[:0]

	sys := d.system
	birth := sys.BaseBirthRate()
	death := sys.BaseDeathRate()
	spontaneous := d.cfg.Mutation.SpontaneousRate
	env := d.cfg.Environment
	n := sys.NumIsolations()

	for i, iso := range sys.Isolations() {
		for slot, p := range iso.Populations() {
			d.populationEvents = append(d.populationEvents,
				Entry{events.NewBirthEvent(i, slot, p.ID), birth},
				Entry{events.NewDeathEvent(i, slot, p.ID), death},
			)

			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				barrier, err := sys.BarrierThreshold(i, j)
				if err != nil {
					return err
				}
				if barrier < 1.0 {
					d.populationEvents = append(d.populationEvents,
						Entry{events.NewImmigrationEvent(i, slot, p.ID, j), birth * (1.0 - barrier)})
				}
			}

			if spontaneous > 0 {
				d.populationEvents = append(d.populationEvents,
					Entry{events.NewMutationEvent(i, slot, p.ID), spontaneous})
			}
		}

		barrierChange := events.NewBarrierChangeEvent(i, env.BarrierTarget)
		if env.PairwiseBarriers {
			barrierChange = events.NewPairwiseBarrierChangeEvent(i, (i+1)%n, env.BarrierTarget)
		}
		d.isolationEvents = append(d.isolationEvents,
			Entry{events.NewResourceChangeEvent(i, env.ResourceLevels), env.ResourceChangeRate},
			Entry{barrierChange, env.BarrierChangeRate},
		)
	}

	d.totalRate = 0
	for _, e := range d.populationEvents {
		d.totalRate += e.Rate
	}
	for _, e := range d.isolationEvents {
		d.totalRate += e.Rate
	}
	return nil
}

// SampleNextEvent draws the waiting time and the next event from the current
// table. ok is false when the total propensity is not positive; nothing is
// drawn in that case.
func (d *Director) SampleNextEvent() (dt float64, ev events.Event, ok bool) {
	if !(d.totalRate > 0) {
		return 0, events.Event{}, false
	}

	dt = distuv.Exponential{Rate: d.totalRate, Src: d.rng}.Rand()
	u := distuv.Uniform{Min: 0, Max: d.totalRate, Src: d.rng}.Rand()

	ev, ok = d.SelectEvent(u)
	return dt, ev, ok
}

// SelectEvent returns the first entry with positive propensity whose
// cumulative propensity reaches u. If rounding leaves u above every
// cumulative sum, the last entry with positive propensity is returned.
func (d *Director) SelectEvent(u float64) (events.Event, bool) {
	var cumulative float64
	var last *Entry

	for _, table := range [][]Entry{d.populationEvents, d.isolationEvents} {
		for i := range table {
			e := &table[i]
			if e.Rate <= 0 {
				continue
			}
			cumulative += e.Rate
			last = e
			if cumulative >= u {
				return e.Event, true
			}
		}
	}

	if last == nil {
		return events.Event{}, false
	}
	return last.Event, true
}

// RunSimulation advances the simulation until the clock reaches maxTime or
// no event can happen. The event that carries the clock past maxTime is
// still applied. The event history is printed when the run ends.
func (d *Director) RunSimulation(maxTime float64) error {
	slog.Info("simulation started",
		"isolations", d.system.NumIsolations(),
		"birth_rate", d.system.BaseBirthRate(),
		"death_rate", d.system.BaseDeathRate(),
		"sequential_ids", d.system.Sequential(),
		"pairwise_barriers", d.cfg.Environment.PairwiseBarriers,
		"max_time", maxTime,
	)

	for d.clock < maxTime {
		d.perf.StartStep()
		d.perf.StartPhase(telemetry.PhaseRates)
		if err := d.ComputeEventRates(); err != nil {
			return err
		}

		d.perf.StartPhase(telemetry.PhaseSample)
		dt, ev, ok := d.SampleNextEvent()
		if !ok {
			slog.Info("no possible events, ending run early", "time", d.clock)
			break
		}
		d.clock += dt

		if err := d.logEvent(ev); err != nil {
			return err
		}

		d.perf.StartPhase(telemetry.PhaseExecute)
		out, err := ev.Execute(events.Context{
			System:   d.system,
			Rand:     d.rng,
			Mutation: d.cfg.Mutation,
		})
		if err != nil {
			return fmt.Errorf("executing %s at t=%g: %w", ev.Kind, d.clock, err)
		}
		if m := out.Mutation; m != nil {
			d.observer.LogMutationEvent(d.clock, m.PopulationID, m.LocationID, m.Property, m.OldValue, m.NewValue)
		}
		d.steps++

		d.perf.StartPhase(telemetry.PhaseTelemetry)
		d.record(ev, out, dt)
		d.perf.EndStep()
	}

	d.finish()

	slog.Info("simulation finished",
		"time", d.clock,
		"steps", d.steps,
		"populations", d.system.PopulationCount(),
	)
	d.observer.PrintEventHistory()
	return nil
}

// logEvent reports a sampled event using only what is known before it runs.
func (d *Director) logEvent(ev events.Event) error {
	switch ev.Kind {
	case events.KindBirth:
		childID, err := ev.ChildID(d.system)
		if err != nil {
			return err
		}
		d.observer.LogBirthEvent(d.clock, ev.PopulationID, childID, ev.Isolation)
	case events.KindDeath:
		d.observer.LogDeathEvent(d.clock, ev.PopulationID)
	case events.KindImmigration:
		d.observer.LogImmigrationEvent(d.clock, ev.PopulationID, ev.Isolation, ev.Target)
	case events.KindMutation:
		// Which trait changes is decided on execution; logged from the outcome.
	case events.KindResourceChange, events.KindBarrierChange:
		// Not part of the population log.
	default:
		return fmt.Errorf("unknown event kind %d", uint8(ev.Kind))
	}
	return nil
}
