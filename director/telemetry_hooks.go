package director

import (
	"context"
	"log/slog"

	"github.com/pthm-cable/fusion/events"
)

// record feeds an executed event to the telemetry sinks and flushes the
// stats window when it has elapsed. dt is the waiting time that preceded it.
func (d *Director) record(ev events.Event, out events.Outcome, dt float64) {
	d.collector.Record(ev.Kind, out)
	d.metrics.ObserveStep(ev.Kind, dt, d.totalRate, d.clock)

	switch ev.Kind {
	case events.KindBirth, events.KindImmigration:
		remote := ev.Kind == events.KindImmigration
		d.lineage.RecordChild(ev.PopulationID, remote)
		d.lineage.Register(out.ChildID, ev.PopulationID, ev.Destination(), d.clock)
		if out.Mutation != nil {
			d.lineage.RecordMutation(out.ChildID)
		}
	case events.KindDeath:
		if out.Removed {
			d.lineage.RecordDeath(ev.PopulationID, d.clock)
		}
	case events.KindMutation:
		d.lineage.RecordMutation(ev.PopulationID)
	}

	if d.collector.ShouldFlush(d.clock) {
		d.flushWindow()
	}
}

// flushWindow closes the current stats window.
func (d *Director) flushWindow() {
	stats, isolations := d.collector.Flush(d.clock, d.system)
	perfStats := d.perf.Stats()

	if d.logStats {
		stats.LogStats()
		if d.perf != nil {
			perfStats.LogStats()
		}
	}

	d.metrics.ObserveWindow(stats)
	if err := d.output.WriteWindow(stats, isolations); err != nil {
		slog.Error("failed to write window stats", "error", err)
	}
	if err := d.store.WriteWindow(context.Background(), d.runID, stats); err != nil {
		slog.Error("failed to store window stats", "error", err)
	}
	if d.perf != nil {
		if err := d.output.WritePerf(perfStats, stats.WindowEnd); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	for _, m := range d.milestones.Check(stats, isolations) {
		if d.logStats {
			m.LogMilestone()
		}
		if err := d.output.WriteMilestone(m); err != nil {
			slog.Error("failed to write milestone", "error", err)
		}
	}
}

// finish flushes the partial last window and writes end-of-run output.
func (d *Director) finish() {
	if d.collector.Pending() {
		d.flushWindow()
	}
	if n := d.lineage.Collisions(); n > 0 {
		slog.Warn("population ids reused by live populations", "collisions", n)
	}
	if err := d.output.WriteLineage(d.lineage.Records()); err != nil {
		slog.Error("failed to write lineage", "error", err)
	}
}
