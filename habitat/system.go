// Package habitat holds the system of isolations: the isolations themselves,
// the pairwise barrier matrix and population id assignment.
package habitat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/fusion/components"
	"github.com/pthm-cable/fusion/config"
)

// System owns a fixed set of isolations and the symmetric barrier matrix
// between them. The isolation count never changes after construction.
type System struct {
	baseBirthRate float64
	baseDeathRate float64

	isolations []*Isolation
	barriers   [][]float64 // 1.0 = fully isolated

	nextPopulationID int
	sequential       bool // allocate child ids from nextPopulationID
}

// New creates a system with numIsolations isolations, each with the
// configured default niche capacity, and spawns the seed population on
// isolation 0.
func New(numIsolations int, birthRate, deathRate float64, cfg *config.Config) (*System, error) {
	if numIsolations <= 0 {
		return nil, fmt.Errorf("number of isolations must be positive, got %d", numIsolations)
	}
	if birthRate < 0 || deathRate < 0 {
		return nil, fmt.Errorf("base rates must be non-negative, got birth=%g death=%g", birthRate, deathRate)
	}

	s := &System{
		baseBirthRate: birthRate,
		baseDeathRate: deathRate,
		isolations:    make([]*Isolation, numIsolations),
		barriers:      make([][]float64, numIsolations),
		sequential:    cfg.Population.IDPolicy == config.IDPolicySequential,
	}

	for i := range s.isolations {
		s.isolations[i] = NewIsolation(i, components.NewNicheSpaces(cfg.Niche.DefaultCapacity))
		row := make([]float64, numIsolations)
		for j := range row {
			if i == j {
				row[j] = 1.0
			} else {
				row[j] = cfg.Environment.InitialBarrier
			}
		}
		s.barriers[i] = row
	}

	if err := s.SpawnInitialPopulation(cfg.Population); err != nil {
		return nil, err
	}
	return s, nil
}

// SpawnInitialPopulation places one parentless population on isolation 0.
func (s *System) SpawnInitialPopulation(pc config.PopulationConfig) error {
	resourceUse := make([]float64, len(pc.ResourceUse))
	copy(resourceUse, pc.ResourceUse)

	seed := components.UnitPopulation{
		ID:                  s.nextPopulationID,
		LocationID:          0,
		MutationRate:        pc.MutationRate,
		Mobility:            pc.Mobility,
		ResourceUsePerNiche: resourceUse,
		Reproductivity:      pc.Reproductivity,
	}
	s.nextPopulationID++

	if err := s.isolations[0].AddPopulation(seed); err != nil {
		return fmt.Errorf("spawning initial population: %w", err)
	}
	slog.Debug("initial population spawned", "population", seed.ID, "isolation", 0)
	return nil
}

// BaseBirthRate returns the per-population birth rate.
func (s *System) BaseBirthRate() float64 { return s.baseBirthRate }

// BaseDeathRate returns the per-population death rate.
func (s *System) BaseDeathRate() float64 { return s.baseDeathRate }

// SetBaseBirthRate sets the per-population birth rate.
func (s *System) SetBaseBirthRate(r float64) { s.baseBirthRate = r }

// SetBaseDeathRate sets the per-population death rate.
func (s *System) SetBaseDeathRate(r float64) { s.baseDeathRate = r }

// NumIsolations returns the fixed isolation count.
func (s *System) NumIsolations() int {
	return len(s.isolations)
}

// Isolations returns all isolations in index order.
func (s *System) Isolations() []*Isolation {
	return s.isolations
}

// Isolation returns the isolation at index i.
func (s *System) Isolation(i int) (*Isolation, error) {
	if i < 0 || i >= len(s.isolations) {
		return nil, fmt.Errorf("isolation %d of %d: %w", i, len(s.isolations), components.ErrIndexOutOfRange)
	}
	return s.isolations[i], nil
}

// BarrierThreshold returns the barrier between isolations a and b.
func (s *System) BarrierThreshold(a, b int) (float64, error) {
	if !s.validIndex(a) || !s.validIndex(b) {
		return 0, fmt.Errorf("barrier (%d,%d) with %d isolations: %w", a, b, len(s.isolations), components.ErrIndexOutOfRange)
	}
	return s.barriers[a][b], nil
}

// BarrierThresholds returns a copy of the full barrier matrix.
func (s *System) BarrierThresholds() [][]float64 {
	out := make([][]float64, len(s.barriers))
	for i, row := range s.barriers {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// ErrInvalidPair is reported when a barrier update names a pair that does
// not exist. It is never fatal.
var ErrInvalidPair = errors.New("invalid isolation pair")

// SetBarrierThreshold sets the barrier between a and b in both directions.
// An invalid pair (out of range, or a == b) is logged and ignored.
func (s *System) SetBarrierThreshold(a, b int, threshold float64) bool {
	if !s.validIndex(a) || !s.validIndex(b) || a == b {
		slog.Warn("barrier update ignored", "error", ErrInvalidPair, "a", a, "b", b, "threshold", threshold)
		return false
	}
	s.barriers[a][b] = threshold
	s.barriers[b][a] = threshold
	slog.Debug("barrier threshold set", "a", a, "b", b, "threshold", threshold)
	return true
}

func (s *System) validIndex(i int) bool {
	return i >= 0 && i < len(s.isolations)
}

// NextPopulationID returns the value of the system id counter.
func (s *System) NextPopulationID() int {
	return s.nextPopulationID
}

// Sequential reports whether child ids come from the system counter.
func (s *System) Sequential() bool {
	return s.sequential
}

// PeekChildID returns the id the next offspring of parent will receive
// without allocating it.
func (s *System) PeekChildID(parent components.UnitPopulation) int {
	if s.sequential {
		return s.nextPopulationID
	}
	return parent.ID + 1
}

// AllocateChildID assigns the id for a new offspring of parent. Under the
// parent_offset policy the counter is not consulted and ids may repeat
// across lineages.
func (s *System) AllocateChildID(parent components.UnitPopulation) int {
	if s.sequential {
		id := s.nextPopulationID
		s.nextPopulationID++
		return id
	}
	return parent.ID + 1
}

// PopulationCount returns the number of populations across all isolations.
func (s *System) PopulationCount() int {
	n := 0
	for _, iso := range s.isolations {
		n += iso.Len()
	}
	return n
}

// FindPopulation locates a population by id, scanning isolations in order.
func (s *System) FindPopulation(id int) (isolation, slot int, ok bool) {
	for i, iso := range s.isolations {
		if j := iso.IndexOf(id); j >= 0 {
			return i, j, true
		}
	}
	return -1, -1, false
}
