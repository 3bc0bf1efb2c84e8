package events

import (
	"math/rand/v2"

	"github.com/pthm-cable/fusion/components"
	"github.com/pthm-cable/fusion/config"
)

// Mutable trait names, as they appear in the event log.
const (
	PropertyMobility       = "mobility"
	PropertyResourceUse    = "resourceUsePerNiche"
	PropertyReproductivity = "reproductivity"
	PropertyMutationRate   = "mutationRate"
)

// MutationRecord describes one applied trait mutation.
type MutationRecord struct {
	PopulationID int
	LocationID   int
	Property     string
	OldValue     float64
	NewValue     float64
}

// Mutate picks one of the four traits uniformly and changes it in place.
// The resource-use vector is replaced wholesale; its log values are the
// vector means before and after.
func Mutate(p *components.UnitPopulation, rng *rand.Rand, mc config.MutationConfig) MutationRecord {
	rec := MutationRecord{PopulationID: p.ID, LocationID: p.LocationID}

	switch rng.IntN(4) {
	case 0:
		rec.Property = PropertyMobility
		rec.OldValue = p.Mobility
		p.Mobility += mc.MobilityStep
		rec.NewValue = p.Mobility
	case 1:
		rec.Property = PropertyResourceUse
		rec.OldValue = p.MeanResourceUse()
		use := make([]float64, len(mc.ResourceUse))
		copy(use, mc.ResourceUse)
		p.ResourceUsePerNiche = use
		rec.NewValue = p.MeanResourceUse()
	case 2:
		rec.Property = PropertyReproductivity
		rec.OldValue = p.Reproductivity
		p.Reproductivity += mc.ReproductivityStep
		rec.NewValue = p.Reproductivity
	default:
		rec.Property = PropertyMutationRate
		rec.OldValue = p.MutationRate
		p.MutationRate += mc.MutationRateStep
		rec.NewValue = p.MutationRate
	}
	return rec
}
