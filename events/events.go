// Package events defines the one-shot state transitions the simulation
// samples: population events (birth, death, immigration, mutation) and
// isolation events (resource and barrier change).
package events

import (
	"fmt"
	"math/rand/v2"

	"github.com/pthm-cable/fusion/components"
	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/habitat"
)

// Kind identifies the event variant.
type Kind uint8

const (
	KindBirth Kind = iota
	KindDeath
	KindImmigration
	KindMutation
	KindResourceChange
	KindBarrierChange
)

// NumKinds is the number of event variants.
const NumKinds = 6

func (k Kind) String() string {
	switch k {
	case KindBirth:
		return "Birth"
	case KindDeath:
		return "Death"
	case KindImmigration:
		return "Immigration"
	case KindMutation:
		return "Mutation"
	case KindResourceChange:
		return "ResourceAvailabilityChange"
	case KindBarrierChange:
		return "BarrierThresholdChange"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// PopulationScoped reports whether the kind targets a single population.
func (k Kind) PopulationScoped() bool {
	return k <= KindMutation
}

// Event is a candidate state transition. Which fields are meaningful depends
// on Kind; use the constructors. An event is valid only for the state it was
// generated from and must be executed at most once.
type Event struct {
	Kind Kind

	// Isolation is the source isolation (population events) or the target
	// isolation (isolation events).
	Isolation int

	// Slot and PopulationID address the population for population events.
	Slot         int
	PopulationID int

	// Target is the destination isolation of an immigration or the partner
	// isolation of a pairwise barrier change.
	Target int

	Resources []float64 // resource change payload
	Threshold float64   // barrier change payload
	Pairwise  bool      // barrier change also rewrites barrier(Isolation, Target)
}

// NewBirthEvent creates a birth event for the population in slot of isolation.
func NewBirthEvent(isolation, slot, populationID int) Event {
	return Event{Kind: KindBirth, Isolation: isolation, Slot: slot, PopulationID: populationID}
}

// NewDeathEvent creates a death event.
func NewDeathEvent(isolation, slot, populationID int) Event {
	return Event{Kind: KindDeath, Isolation: isolation, Slot: slot, PopulationID: populationID}
}

// NewImmigrationEvent creates a propagule dispersal event from isolation to target.
func NewImmigrationEvent(isolation, slot, populationID, target int) Event {
	return Event{Kind: KindImmigration, Isolation: isolation, Slot: slot, PopulationID: populationID, Target: target}
}

// NewMutationEvent creates a standalone mutation of a resident population.
func NewMutationEvent(isolation, slot, populationID int) Event {
	return Event{Kind: KindMutation, Isolation: isolation, Slot: slot, PopulationID: populationID}
}

// NewResourceChangeEvent creates a resource availability change.
// The resource vector is copied.
func NewResourceChangeEvent(isolation int, resources []float64) Event {
	r := make([]float64, len(resources))
	copy(r, resources)
	return Event{Kind: KindResourceChange, Isolation: isolation, Resources: r}
}

// NewBarrierChangeEvent creates a barrier change that sets the isolation's
// own threshold. The system barrier matrix is left alone.
func NewBarrierChangeEvent(isolation int, threshold float64) Event {
	return Event{Kind: KindBarrierChange, Isolation: isolation, Target: isolation, Threshold: threshold}
}

// NewPairwiseBarrierChangeEvent creates a barrier change that also sets the
// symmetric barrier between isolation and partner.
func NewPairwiseBarrierChangeEvent(isolation, partner int, threshold float64) Event {
	return Event{Kind: KindBarrierChange, Isolation: isolation, Target: partner, Threshold: threshold, Pairwise: true}
}

// Context is everything execution may touch. Rand is the engine's generator;
// events never create their own.
type Context struct {
	System   *habitat.System
	Rand     *rand.Rand
	Mutation config.MutationConfig
}

// Outcome reports what an execution did, for logging and telemetry.
type Outcome struct {
	ChildID  int
	HasChild bool
	Removed  bool            // death found and removed its population
	Applied  bool            // isolation event changed state
	Mutation *MutationRecord // nil if no mutation happened
}

// source resolves the population a population event refers to.
func (e Event) source(sys *habitat.System) (*habitat.Isolation, *components.UnitPopulation, error) {
	iso, err := sys.Isolation(e.Isolation)
	if err != nil {
		return nil, nil, err
	}
	p, err := iso.Population(e.Slot)
	if err != nil {
		return nil, nil, err
	}
	if p.ID != e.PopulationID {
		return nil, nil, fmt.Errorf("%s event: slot %d of isolation %d holds population %d, not %d",
			e.Kind, e.Slot, e.Isolation, p.ID, e.PopulationID)
	}
	return iso, p, nil
}

// ChildID returns the id a birth or immigration will assign, without
// allocating it. Other kinds return an error.
func (e Event) ChildID(sys *habitat.System) (int, error) {
	if e.Kind != KindBirth && e.Kind != KindImmigration {
		return 0, fmt.Errorf("%s event has no child", e.Kind)
	}
	_, p, err := e.source(sys)
	if err != nil {
		return 0, err
	}
	return sys.PeekChildID(*p), nil
}

// Destination returns the isolation a new population would be placed on.
func (e Event) Destination() int {
	if e.Kind == KindImmigration {
		return e.Target
	}
	return e.Isolation
}

// Execute applies the event to the system. It is the only place simulation
// state changes.
func (e Event) Execute(ctx Context) (Outcome, error) {
	switch e.Kind {
	case KindBirth, KindImmigration:
		return e.spawn(ctx)
	case KindDeath:
		return e.die(ctx)
	case KindMutation:
		return e.mutate(ctx)
	case KindResourceChange:
		return e.changeResources(ctx)
	case KindBarrierChange:
		return e.changeBarrier(ctx)
	}
	return Outcome{}, fmt.Errorf("unknown event kind %d", uint8(e.Kind))
}

// spawn creates one offspring of the source population on the destination
// isolation. The source stays where it is.
func (e Event) spawn(ctx Context) (Outcome, error) {
	sys := ctx.System
	_, parent, err := e.source(sys)
	if err != nil {
		return Outcome{}, err
	}
	dest, err := sys.Isolation(e.Destination())
	if err != nil {
		return Outcome{}, err
	}

	child := parent.Offspring(sys.AllocateChildID(*parent), dest.ID())

	out := Outcome{ChildID: child.ID, HasChild: true}
	if ctx.Rand.Float64() < child.MutationRate {
		rec := Mutate(&child, ctx.Rand, ctx.Mutation)
		out.Mutation = &rec
	}

	if err := dest.AddPopulation(child); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (e Event) die(ctx Context) (Outcome, error) {
	iso, err := ctx.System.Isolation(e.Isolation)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Removed: iso.RemovePopulation(e.PopulationID)}, nil
}

func (e Event) mutate(ctx Context) (Outcome, error) {
	_, p, err := e.source(ctx.System)
	if err != nil {
		return Outcome{}, err
	}
	rec := Mutate(p, ctx.Rand, ctx.Mutation)
	return Outcome{Mutation: &rec}, nil
}

func (e Event) changeResources(ctx Context) (Outcome, error) {
	iso, err := ctx.System.Isolation(e.Isolation)
	if err != nil {
		return Outcome{}, err
	}
	iso.SetResourceAvailability(e.Resources)
	return Outcome{Applied: true}, nil
}

func (e Event) changeBarrier(ctx Context) (Outcome, error) {
	iso, err := ctx.System.Isolation(e.Isolation)
	if err != nil {
		return Outcome{}, err
	}
	iso.SetBarrierThreshold(e.Threshold)
	if !e.Pairwise {
		return Outcome{Applied: true}, nil
	}
	return Outcome{Applied: ctx.System.SetBarrierThreshold(e.Isolation, e.Target, e.Threshold)}, nil
}
