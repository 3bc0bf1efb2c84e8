package telemetry

import (
	"github.com/pthm-cable/fusion/events"
	"github.com/pthm-cable/fusion/habitat"
)

// Collector accumulates event counts within windows of simulated time and
// produces WindowStats. A nil Collector ignores every call.
type Collector struct {
	window      float64
	windowStart float64

	// Event counters for current window
	steps     int
	counts    [events.NumKinds]int
	mutations int
}

// NewCollector creates a collector flushing every window units of simulated time.
func NewCollector(window float64) *Collector {
	if window <= 0 {
		window = 1
	}
	return &Collector{window: window}
}

// Record counts one executed event and what it did.
func (c *Collector) Record(kind events.Kind, out events.Outcome) {
	if c == nil {
		return
	}
	c.steps++
	// A death that found nothing to remove changed nothing.
	if kind != events.KindDeath || out.Removed {
		c.counts[kind]++
	}
	if out.Mutation != nil {
		c.mutations++
	}
}

// ShouldFlush returns true once the current window has elapsed.
func (c *Collector) ShouldFlush(now float64) bool {
	if c == nil {
		return false
	}
	return now-c.windowStart >= c.window
}

// Pending reports whether anything was recorded since the last flush.
func (c *Collector) Pending() bool {
	return c != nil && c.steps > 0
}

// Flush samples the system, produces the window stats and the per-isolation
// census, and resets counters for the next window.
func (c *Collector) Flush(now float64, sys *habitat.System) (WindowStats, []IsolationStats) {
	if c == nil {
		return WindowStats{}, nil
	}

	var mobility, repro, mutRate, resUse []float64
	isoStats := make([]IsolationStats, 0, sys.NumIsolations())
	occupied := 0
	for _, iso := range sys.Isolations() {
		pops := iso.Populations()
		if len(pops) > 0 {
			occupied++
		}
		for _, p := range pops {
			mobility = append(mobility, p.Mobility)
			repro = append(repro, p.Reproductivity)
			mutRate = append(mutRate, p.MutationRate)
			resUse = append(resUse, p.MeanResourceUse())
		}
		isoStats = append(isoStats, IsolationStats{
			WindowEnd:        now,
			Isolation:        iso.ID(),
			Populations:      len(pops),
			AvailableSpace:   iso.Niches().TotalAvailable(),
			BarrierThreshold: iso.BarrierThreshold(),
		})
	}

	mob := SummarizeTrait(mobility)
	rep := SummarizeTrait(repro)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   now,
		Steps:       c.steps,

		Populations:        len(mobility),
		OccupiedIsolations: occupied,

		Births:          c.counts[events.KindBirth],
		Deaths:          c.counts[events.KindDeath],
		Immigrations:    c.counts[events.KindImmigration],
		Mutations:       c.mutations,
		ResourceChanges: c.counts[events.KindResourceChange],
		BarrierChanges:  c.counts[events.KindBarrierChange],

		MobilityMean:       mob.Mean,
		MobilityStd:        mob.Std,
		ReproductivityMean: rep.Mean,
		ReproductivityStd:  rep.Std,
		ReproductivityP10:  rep.P10,
		ReproductivityP50:  rep.P50,
		ReproductivityP90:  rep.P90,
		MutationRateMean:   SummarizeTrait(mutRate).Mean,
		ResourceUseMean:    SummarizeTrait(resUse).Mean,

		MeanBarrier: meanBarrier(sys.BarrierThresholds()),
	}

	// Reset for next window
	c.windowStart = now
	c.steps = 0
	c.counts = [events.NumKinds]int{}
	c.mutations = 0

	return stats, isoStats
}

func meanBarrier(m [][]float64) float64 {
	var sum float64
	n := 0
	for i, row := range m {
		for j, v := range row {
			if i != j {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
