package habitat

import (
	"fmt"
	"strings"

	"github.com/pthm-cable/fusion/components"
)

// Isolation is an island-like habitat. It owns its niche capacity and the
// populations resident on it; populations are stored by value and never
// shared with another isolation.
type Isolation struct {
	id               int
	niches           components.NicheSpaces
	populations      []components.UnitPopulation
	barrierThreshold float64 // last threshold applied to this isolation
}

// NewIsolation creates an empty isolation with the given niche capacity.
func NewIsolation(id int, niches components.NicheSpaces) *Isolation {
	return &Isolation{
		id:               id,
		niches:           niches,
		barrierThreshold: 1.0,
	}
}

// ID returns the isolation's index in its system.
func (iso *Isolation) ID() int {
	return iso.id
}

// Niches returns the niche spaces for reading and in-place updates.
func (iso *Isolation) Niches() *components.NicheSpaces {
	return &iso.niches
}

// SetNicheSpaces replaces the niche spaces.
func (iso *Isolation) SetNicheSpaces(n components.NicheSpaces) {
	iso.niches = n.Clone()
}

// SetResourceAvailability replaces the available capacity of every dimension.
func (iso *Isolation) SetResourceAvailability(available []float64) {
	iso.niches.SetAvailability(available)
}

// BarrierThreshold returns the last barrier threshold applied to this isolation.
func (iso *Isolation) BarrierThreshold() float64 {
	return iso.barrierThreshold
}

// SetBarrierThreshold records the threshold applied to this isolation.
// The pairwise matrix lives on System; this value is advisory.
func (iso *Isolation) SetBarrierThreshold(v float64) {
	iso.barrierThreshold = v
}

// Populations returns the resident populations in insertion order.
// The slice is owned by the isolation; callers must not modify it.
func (iso *Isolation) Populations() []components.UnitPopulation {
	return iso.populations
}

// Len returns the number of resident populations.
func (iso *Isolation) Len() int {
	return len(iso.populations)
}

// Population returns the population in the given slot. The pointer is valid
// until the next add or remove on this isolation.
func (iso *Isolation) Population(slot int) (*components.UnitPopulation, error) {
	if slot < 0 || slot >= len(iso.populations) {
		return nil, fmt.Errorf("isolation %d population slot %d of %d: %w",
			iso.id, slot, len(iso.populations), components.ErrIndexOutOfRange)
	}
	return &iso.populations[slot], nil
}

// IndexOf returns the slot of the population with the given id, or -1.
func (iso *Isolation) IndexOf(id int) int {
	for i := range iso.populations {
		if iso.populations[i].ID == id {
			return i
		}
	}
	return -1
}

// AddPopulation appends a copy of p. The population must already be located
// on this isolation.
func (iso *Isolation) AddPopulation(p components.UnitPopulation) error {
	if p.LocationID != iso.id {
		return fmt.Errorf("population %d has location %d, cannot reside on isolation %d", p.ID, p.LocationID, iso.id)
	}
	iso.populations = append(iso.populations, p.Clone())
	return nil
}

// RemovePopulation removes the first population with the given id.
// Returns false, changing nothing, if no such population lives here.
func (iso *Isolation) RemovePopulation(id int) bool {
	i := iso.IndexOf(id)
	if i < 0 {
		return false
	}
	iso.populations = append(iso.populations[:i], iso.populations[i+1:]...)
	return true
}

// String prints niche and population details.
func (iso *Isolation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Isolation %d\n", iso.id)
	b.WriteString("Niche Space Details:\n")
	b.WriteString(iso.niches.String())
	b.WriteString("Unit Populations on this Island:\n")
	for _, p := range iso.populations {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}
