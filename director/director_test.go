package director

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/events"
	"github.com/pthm-cable/fusion/telemetry"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// testConfig returns the defaults adjusted by mutate.
func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// quietEnvironment disables resource and barrier change events.
func quietEnvironment(c *config.Config) {
	c.Environment.ResourceChangeRate = 0
	c.Environment.BarrierChangeRate = 0
}

func newTestDirector(t *testing.T, n int, birth, death float64, seed int64, cfg *config.Config) (*Director, *telemetry.Observer) {
	t.Helper()
	observer := telemetry.NewObserver(io.Discard)
	d, err := New(n, birth, death, Options{Config: cfg, Seed: seed, Observer: observer})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d, observer
}

func entryRates(entries []Entry) []float64 {
	rates := make([]float64, len(entries))
	for i, e := range entries {
		rates[i] = e.Rate
	}
	return rates
}

func TestNewRejectsInvalidSystem(t *testing.T) {
	if _, err := New(0, 0.5, 0.2, Options{Observer: telemetry.NewObserver(io.Discard)}); err == nil {
		t.Error("expected error for zero isolations")
	}
}

func TestComputeEventRatesTable(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Environment.InitialBarrier = 0.4 })
	d, _ := newTestDirector(t, 3, 0.5, 0.2, 1, cfg)

	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	entries := d.Entries()

	// One population: birth, death, two immigrations; then two events per isolation.
	if len(entries) != 4+2*3 {
		t.Fatalf("got %d entries, want 10", len(entries))
	}

	want := []struct {
		kind   events.Kind
		rate   float64
		target int
	}{
		{events.KindBirth, 0.5, 0},
		{events.KindDeath, 0.2, 0},
		{events.KindImmigration, 0.5 * 0.6, 1},
		{events.KindImmigration, 0.5 * 0.6, 2},
		{events.KindResourceChange, 0.1, 0},
		{events.KindBarrierChange, 0.05, 0},
	}
	for i, w := range want {
		e := entries[i]
		if e.Event.Kind != w.kind || math.Abs(e.Rate-w.rate) > 1e-12 {
			t.Errorf("entry %d = %s at %v, want %s at %v", i, e.Event.Kind, e.Rate, w.kind, w.rate)
		}
		if (w.kind == events.KindImmigration || w.kind == events.KindBarrierChange) && e.Event.Target != w.target {
			t.Errorf("entry %d target = %d, want %d", i, e.Event.Target, w.target)
		}
	}

	last := entries[len(entries)-1].Event
	if last.Kind != events.KindBarrierChange || last.Isolation != 2 || last.Pairwise {
		t.Errorf("last entry = %+v, want isolation-only barrier change on 2", last)
	}
}

func TestPairwiseBarrierEntries(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Environment.PairwiseBarriers = true })
	d, _ := newTestDirector(t, 3, 0.5, 0.2, 1, cfg)
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}

	var partners []int
	for _, e := range d.Entries() {
		if e.Event.Kind != events.KindBarrierChange {
			continue
		}
		if !e.Event.Pairwise {
			t.Errorf("barrier entry %+v not pairwise", e.Event)
		}
		partners = append(partners, e.Event.Target)
	}
	if want := []int{1, 2, 0}; !reflect.DeepEqual(partners, want) {
		t.Errorf("barrier partners = %v, want %v", partners, want)
	}
}

func TestNoImmigrationAcrossClosedBarrier(t *testing.T) {
	d, _ := newTestDirector(t, 2, 1, 0, 1, testConfig(nil))
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	for _, e := range d.Entries() {
		if e.Event.Kind == events.KindImmigration {
			t.Errorf("immigration entry with barrier 1.0: %+v", e)
		}
	}
}

func TestSpontaneousMutationEntries(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Mutation.SpontaneousRate = 0.3 })
	d, _ := newTestDirector(t, 1, 1, 0, 1, cfg)
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range d.Entries() {
		if e.Event.Kind == events.KindMutation && e.Rate == 0.3 {
			found = true
		}
	}
	if !found {
		t.Error("no spontaneous mutation entry")
	}
}

func TestTotalPropensityMatchesEntries(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Environment.InitialBarrier = 0.3
		c.Population.IDPolicy = config.IDPolicySequential
	})
	d, _ := newTestDirector(t, 3, 1, 0.4, 5, cfg)

	if err := d.RunSimulation(2); err != nil {
		t.Fatal(err)
	}
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}

	sum := floats.Sum(entryRates(d.Entries()))
	if math.Abs(d.TotalPropensity()-sum) > 1e-9*math.Max(1, sum) {
		t.Errorf("TotalPropensity() = %v, entries sum to %v", d.TotalPropensity(), sum)
	}
}

func TestSelectEventBoundaries(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Environment.BarrierChangeRate = 0 })
	d, _ := newTestDirector(t, 2, 1, 0, 1, cfg)
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	total := d.TotalPropensity()

	tests := []struct {
		name string
		u    float64
		kind events.Kind
		iso  int
	}{
		{"zero picks first positive entry", 0, events.KindBirth, 0},
		{"inside first entry", 0.5, events.KindBirth, 0},
		{"exact cumulative boundary", 1, events.KindBirth, 0},
		{"resource change of isolation 0", 1.05, events.KindResourceChange, 0},
		{"total", total, events.KindResourceChange, 1},
		{"above total falls back to last positive entry", total * 2, events.KindResourceChange, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := d.SelectEvent(tt.u)
			if !ok {
				t.Fatal("no event selected")
			}
			if ev.Kind != tt.kind || ev.Isolation != tt.iso {
				t.Errorf("selected %s on %d, want %s on %d", ev.Kind, ev.Isolation, tt.kind, tt.iso)
			}
		})
	}
}

func TestSampleNextEventWithZeroPropensity(t *testing.T) {
	d, _ := newTestDirector(t, 1, 0, 0, 1, testConfig(quietEnvironment))
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := d.SampleNextEvent(); ok {
		t.Error("sampled an event with zero total propensity")
	}
	if _, ok := d.SelectEvent(0); ok {
		t.Error("selected an event from an all-zero table")
	}
}

// chiSquarePValue returns the upper-tail probability of the statistic.
func chiSquarePValue(observed, expected []float64) float64 {
	var stat float64
	for i := range observed {
		d := observed[i] - expected[i]
		stat += d * d / expected[i]
	}
	return distuv.ChiSquared{K: float64(len(observed) - 1)}.Survival(stat)
}

func TestWaitingTimesAreExponential(t *testing.T) {
	d, _ := newTestDirector(t, 1, 1, 0.5, 42, testConfig(nil))
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	rate := d.TotalPropensity()
	dist := distuv.Exponential{Rate: rate}

	const n = 20000
	const bins = 10
	edges := make([]float64, bins-1)
	for k := range edges {
		edges[k] = dist.Quantile(float64(k+1) / bins)
	}

	observed := make([]float64, bins)
	var sum float64
	for i := 0; i < n; i++ {
		dt, _, ok := d.SampleNextEvent()
		if !ok {
			t.Fatal("no event sampled")
		}
		if !(dt > 0) {
			t.Fatalf("waiting time %v is not positive", dt)
		}
		sum += dt
		k := 0
		for k < len(edges) && dt > edges[k] {
			k++
		}
		observed[k]++
	}

	expected := make([]float64, bins)
	for k := range expected {
		expected[k] = n / bins
	}
	if p := chiSquarePValue(observed, expected); p < 1e-3 {
		t.Errorf("waiting times fail goodness of fit: p = %v, bins = %v", p, observed)
	}
	if mean := sum / n; math.Abs(mean-1/rate) > 0.05/rate {
		t.Errorf("mean waiting time = %v, want %v", mean, 1/rate)
	}
}

func TestSelectionFollowsPropensity(t *testing.T) {
	d, _ := newTestDirector(t, 1, 1, 0.5, 7, testConfig(nil))
	if err := d.ComputeEventRates(); err != nil {
		t.Fatal(err)
	}
	entries := d.Entries()
	total := d.TotalPropensity()

	const n = 50000
	counts := make(map[events.Kind]float64)
	for i := 0; i < n; i++ {
		_, ev, ok := d.SampleNextEvent()
		if !ok {
			t.Fatal("no event sampled")
		}
		counts[ev.Kind]++
	}

	observed := make([]float64, len(entries))
	expected := make([]float64, len(entries))
	for i, e := range entries {
		observed[i] = counts[e.Event.Kind]
		expected[i] = n * e.Rate / total
	}
	if p := chiSquarePValue(observed, expected); p < 1e-3 {
		t.Errorf("selection frequencies fail goodness of fit: p = %v, observed = %v, expected = %v",
			p, observed, expected)
	}
}

// Pure birth on one isolation is a Yule process: E[N(T)] = e^T.
func TestPureBirthGrowth(t *testing.T) {
	const (
		runs    = 2000
		horizon = 2.0
	)
	cfg := testConfig(func(c *config.Config) { c.Population.MutationRate = 0 })

	counts := make([]float64, runs)
	environmentSteps := 0
	for r := 0; r < runs; r++ {
		d, observer := newTestDirector(t, 1, 1, 0, int64(r+1), cfg)
		if err := d.RunSimulation(horizon); err != nil {
			t.Fatal(err)
		}
		if observer.Count(telemetry.EventBirth) != observer.Len() {
			t.Fatalf("run %d logged non-birth events", r)
		}
		environmentSteps += d.Steps() - observer.Len()
		n := 1
		for _, rec := range observer.History() {
			if rec.Time <= horizon {
				n++
			}
		}
		counts[r] = float64(n)
	}

	// 0.15 per unit time of resource and barrier changes over 2000 runs.
	if environmentSteps == 0 {
		t.Error("no resource or barrier change was sampled")
	}

	mean := floats.Sum(counts) / runs
	want := math.Exp(horizon)
	// Geometric N(T): variance e^2T - e^T, so the standard error is about 0.15.
	if math.Abs(mean-want) > 0.6 {
		t.Errorf("mean population at T=%v = %v, want about %v", horizon, mean, want)
	}
}

// Barrier changes run at their default rate and must not open the matrix.
func TestClosedBarrierPreventsImmigration(t *testing.T) {
	cfg := testConfig(nil)

	barrierChanged := false
	for seed := int64(1); seed <= 20; seed++ {
		d, observer := newTestDirector(t, 2, 1, 1, seed, cfg)
		if err := d.RunSimulation(20); err != nil {
			t.Fatal(err)
		}
		if n := observer.Count(telemetry.EventImmigration); n != 0 {
			t.Errorf("seed %d: %d immigrations across a closed barrier", seed, n)
		}
		iso1, _ := d.System().Isolation(1)
		if iso1.Len() != 0 {
			t.Errorf("seed %d: isolation 1 holds %d populations", seed, iso1.Len())
		}
		if b, _ := d.System().BarrierThreshold(0, 1); b != 1.0 {
			t.Errorf("seed %d: barrier(0,1) = %v, want 1.0", seed, b)
		}
		for _, iso := range d.System().Isolations() {
			if iso.BarrierThreshold() != 1.0 {
				barrierChanged = true
			}
		}
	}
	if !barrierChanged {
		t.Error("no barrier change event ran")
	}
}

func TestZeroTimeBudget(t *testing.T) {
	d, observer := newTestDirector(t, 3, 0.5, 0.2, 1, testConfig(nil))
	iso0, _ := d.System().Isolation(0)
	before := iso0.Populations()[0].Clone()

	if err := d.RunSimulation(0); err != nil {
		t.Fatal(err)
	}

	if observer.Len() != 0 {
		t.Errorf("logged %d events with no time budget", observer.Len())
	}
	if d.Clock() != 0 || d.Steps() != 0 {
		t.Errorf("clock %v steps %d, want 0 0", d.Clock(), d.Steps())
	}
	if d.System().PopulationCount() != 1 || !reflect.DeepEqual(iso0.Populations()[0], before) {
		t.Error("state changed with no time budget")
	}
}

func TestRunEndsWhenNothingCanHappen(t *testing.T) {
	d, observer := newTestDirector(t, 1, 0, 1, 3, testConfig(quietEnvironment))

	if err := d.RunSimulation(1000); err != nil {
		t.Fatal(err)
	}
	if d.Steps() != 1 || observer.Count(telemetry.EventDeath) != 1 {
		t.Errorf("steps %d deaths %d, want a single death", d.Steps(), observer.Count(telemetry.EventDeath))
	}
	if d.System().PopulationCount() != 0 {
		t.Error("seed population survived")
	}
	if d.Clock() >= 1000 {
		t.Errorf("clock %v reached the budget; run should end early", d.Clock())
	}
}

func TestClockAdvancesPastBudgetOnce(t *testing.T) {
	d, observer := newTestDirector(t, 2, 0.5, 0.2, 9, testConfig(nil))
	if err := d.RunSimulation(5); err != nil {
		t.Fatal(err)
	}
	if d.Clock() < 5 {
		t.Errorf("clock %v stopped before the budget", d.Clock())
	}
	h := observer.History()
	for i := 1; i < len(h); i++ {
		if h[i].Time < h[i-1].Time {
			t.Fatalf("history times decrease at %d: %v then %v", i, h[i-1].Time, h[i].Time)
		}
	}
}

func TestSameSeedSameHistory(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Environment.InitialBarrier = 0.5
		c.Population.MutationRate = 0.3
	})

	run := func() []telemetry.EventRecord {
		d, observer := newTestDirector(t, 3, 0.8, 0.3, 1234, cfg)
		if err := d.RunSimulation(6); err != nil {
			t.Fatal(err)
		}
		return observer.History()
	}

	first, second := run(), run()
	if len(first) == 0 {
		t.Fatal("no events logged")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical seeds produced different histories")
	}
}

func TestBarrierStaysSymmetric(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Environment.BarrierChangeRate = 2
		c.Environment.BarrierTarget = 0.25
		c.Environment.PairwiseBarriers = true
	})
	d, _ := newTestDirector(t, 4, 0.3, 0.3, 11, cfg)
	if err := d.RunSimulation(10); err != nil {
		t.Fatal(err)
	}

	m := d.System().BarrierThresholds()
	changed := false
	for a := range m {
		for b := range m {
			if m[a][b] != m[b][a] {
				t.Errorf("barrier(%d,%d)=%v != barrier(%d,%d)=%v", a, b, m[a][b], b, a, m[b][a])
			}
			if a != b && m[a][b] == 0.25 {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("no barrier change applied")
	}
}

func TestSequentialIDsAreUnique(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Environment.InitialBarrier = 0.5
		c.Population.IDPolicy = config.IDPolicySequential
	})
	lineage := telemetry.NewLineageTracker()
	d, err := New(2, 1, 0.3, Options{
		Config:   cfg,
		Seed:     21,
		Observer: telemetry.NewObserver(io.Discard),
		Lineage:  lineage,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RunSimulation(4); err != nil {
		t.Fatal(err)
	}

	if lineage.Collisions() != 0 {
		t.Errorf("%d id collisions under sequential ids", lineage.Collisions())
	}
	records := lineage.Records()
	if len(records) < 2 {
		t.Fatal("no offspring recorded")
	}
	for i := 1; i < len(records); i++ {
		if records[i].PopulationID <= records[i-1].PopulationID {
			t.Errorf("ids not increasing with birth time: %d after %d",
				records[i].PopulationID, records[i-1].PopulationID)
		}
	}
}

func TestEveryPopulationLivesWhereItSays(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Environment.InitialBarrier = 0.2 })
	d, _ := newTestDirector(t, 3, 1, 0.5, 17, cfg)
	if err := d.RunSimulation(4); err != nil {
		t.Fatal(err)
	}
	for i, iso := range d.System().Isolations() {
		for _, p := range iso.Populations() {
			if p.LocationID != i {
				t.Errorf("population %d on isolation %d has location %d", p.ID, i, p.LocationID)
			}
		}
	}
}

func TestRunWritesTelemetry(t *testing.T) {
	dir := t.TempDir()
	output, err := telemetry.NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(func(c *config.Config) {
		c.Environment.InitialBarrier = 0.5
		c.Telemetry.StatsWindow = 1
	})
	collector := telemetry.NewCollector(cfg.Telemetry.StatsWindow)
	metrics := telemetry.NewMetrics()
	ctx := context.Background()
	store, err := telemetry.OpenRunStore(ctx, filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runID, err := store.BeginRun(ctx, 5, 5, cfg)
	if err != nil {
		t.Fatal(err)
	}

	d, err := NewFromConfig(cfg, Options{
		Seed:       5,
		Observer:   telemetry.NewObserver(io.Discard),
		Collector:  collector,
		Lineage:    telemetry.NewLineageTracker(),
		Milestones: telemetry.NewMilestoneDetector(10, 0.5, 5),
		Perf:       telemetry.NewPerfCollector(10),
		Output:     output,
		Metrics:    metrics,
		Store:      store,
		RunID:      runID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RunSimulation(5); err != nil {
		t.Fatal(err)
	}
	if err := output.Close(); err != nil {
		t.Fatal(err)
	}
	if collector.Pending() {
		t.Error("last window not flushed")
	}

	if n, err := testutil.GatherAndCount(metrics.Registry(), "fusion_events_total"); err != nil || n == 0 {
		t.Errorf("event counters: %d series, err %v", n, err)
	}
	var windows int
	if err := store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM census WHERE run_id = ?`, runID).Scan(&windows); err != nil {
		t.Fatal(err)
	}
	if windows == 0 {
		t.Error("no census windows stored")
	}

	for _, name := range []string{"census.csv", "isolations.csv", "perf.csv", "lineage.csv"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}
