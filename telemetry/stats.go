package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of simulated time.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"window_end"`
	Steps       int     `csv:"steps"`

	// Census at window end
	Populations        int `csv:"populations"`
	OccupiedIsolations int `csv:"occupied_isolations"`

	// Events during window
	Births          int `csv:"births"`
	Deaths          int `csv:"deaths"`
	Immigrations    int `csv:"immigrations"`
	Mutations       int `csv:"mutations"` // includes mutations of offspring
	ResourceChanges int `csv:"resource_changes"`
	BarrierChanges  int `csv:"barrier_changes"`

	// Trait distributions at window end
	MobilityMean       float64 `csv:"mobility_mean"`
	MobilityStd        float64 `csv:"mobility_std"`
	ReproductivityMean float64 `csv:"reproductivity_mean"`
	ReproductivityStd  float64 `csv:"reproductivity_std"`
	ReproductivityP10  float64 `csv:"reproductivity_p10"`
	ReproductivityP50  float64 `csv:"reproductivity_p50"`
	ReproductivityP90  float64 `csv:"reproductivity_p90"`
	MutationRateMean   float64 `csv:"mutation_rate_mean"`
	ResourceUseMean    float64 `csv:"resource_use_mean"`

	// Environment
	MeanBarrier float64 `csv:"mean_barrier"` // over off-diagonal pairs
}

// IsolationStats is the per-isolation census at a window end.
type IsolationStats struct {
	WindowEnd        float64 `csv:"window_end"`
	Isolation        int     `csv:"isolation"`
	Populations      int     `csv:"populations"`
	AvailableSpace   float64 `csv:"available_space"`
	BarrierThreshold float64 `csv:"barrier_threshold"`
}

// TraitSummary describes the distribution of one trait.
type TraitSummary struct {
	Mean, Std     float64
	P10, P50, P90 float64
}

// SummarizeTrait computes the population mean, population standard deviation
// and empirical quantiles. An empty slice gives all zeros.
func SummarizeTrait(values []float64) TraitSummary {
	if len(values) == 0 {
		return TraitSummary{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	return TraitSummary{
		Mean: mean,
		Std:  std,
		P10:  stat.Quantile(0.10, stat.Empirical, sorted, nil),
		P50:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:  stat.Quantile(0.90, stat.Empirical, sorted, nil),
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("window_start", s.WindowStart),
		slog.Float64("window_end", s.WindowEnd),
		slog.Int("steps", s.Steps),
		slog.Int("populations", s.Populations),
		slog.Int("occupied_isolations", s.OccupiedIsolations),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Int("immigrations", s.Immigrations),
		slog.Int("mutations", s.Mutations),
		slog.Int("resource_changes", s.ResourceChanges),
		slog.Int("barrier_changes", s.BarrierChanges),
		slog.Float64("mobility_mean", s.MobilityMean),
		slog.Float64("mobility_std", s.MobilityStd),
		slog.Float64("reproductivity_mean", s.ReproductivityMean),
		slog.Float64("reproductivity_std", s.ReproductivityStd),
		slog.Float64("reproductivity_p10", s.ReproductivityP10),
		slog.Float64("reproductivity_p50", s.ReproductivityP50),
		slog.Float64("reproductivity_p90", s.ReproductivityP90),
		slog.Float64("mutation_rate_mean", s.MutationRateMean),
		slog.Float64("resource_use_mean", s.ResourceUseMean),
		slog.Float64("mean_barrier", s.MeanBarrier),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
