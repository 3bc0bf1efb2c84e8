// Package components defines the population and niche data the simulation
// operates on.
package components

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// UnitPopulation is a population of a single lineage living on one isolation.
// Traits are heritable and change through mutation.
type UnitPopulation struct {
	ID         int
	LocationID int // isolation the population lives on

	// ParentID is only meaningful when HasParent is set (the seed has none).
	ParentID  int
	HasParent bool

	MutationRate        float64   // probability of a mutation per offspring
	Mobility            float64
	ResourceUsePerNiche []float64 // per capita use, one entry per niche dimension
	Reproductivity      float64
}

// Clone returns a deep copy. The resource-use slice is never shared.
func (p UnitPopulation) Clone() UnitPopulation {
	c := p
	if p.ResourceUsePerNiche != nil {
		c.ResourceUsePerNiche = make([]float64, len(p.ResourceUsePerNiche))
		copy(c.ResourceUsePerNiche, p.ResourceUsePerNiche)
	}
	return c
}

// Offspring returns a copy of p that descends from it: traits are inherited,
// the id and location are replaced and the parent link points at p.
func (p UnitPopulation) Offspring(id, locationID int) UnitPopulation {
	child := p.Clone()
	child.ID = id
	child.LocationID = locationID
	child.ParentID = p.ID
	child.HasParent = true
	return child
}

// Parent returns the parent id and whether the population has one.
func (p UnitPopulation) Parent() (int, bool) {
	return p.ParentID, p.HasParent
}

// MeanResourceUse returns the average per-niche resource use, or 0 when the
// vector is empty.
func (p UnitPopulation) MeanResourceUse() float64 {
	if len(p.ResourceUsePerNiche) == 0 {
		return 0
	}
	return stat.Mean(p.ResourceUsePerNiche, nil)
}

// String renders the population the way the event history prints it.
func (p UnitPopulation) String() string {
	parent := "None"
	if p.HasParent {
		parent = fmt.Sprintf("%d", p.ParentID)
	}
	return fmt.Sprintf("UnitPopulation ID: %d, Location ID: %d, Parent Unit ID: %s, Mutation Rate: %g, Mobility: %g, Reproductivity: %g",
		p.ID, p.LocationID, parent, p.MutationRate, p.Mobility, p.Reproductivity)
}
