package components

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrIndexOutOfRange is returned by every index-addressed accessor when the
// index is outside the current bounds. It marks a caller bug, not a runtime
// condition, and aborts a simulation run.
var ErrIndexOutOfRange = errors.New("index out of range")

// NicheDimension is the capacity state of one resource axis.
type NicheDimension struct {
	OccupiedSpace  float64
	AvailableSpace float64
}

// NicheSpaces is the ordered set of niche dimensions of an isolation.
// Capacity is advisory: nothing enforces population resource use against it.
type NicheSpaces struct {
	dims []NicheDimension
}

// NewNicheSpaces builds niche spaces with the given available capacity per
// dimension and nothing occupied.
func NewNicheSpaces(available []float64) NicheSpaces {
	dims := make([]NicheDimension, len(available))
	for i, a := range available {
		dims[i] = NicheDimension{AvailableSpace: a}
	}
	return NicheSpaces{dims: dims}
}

// Len returns the number of niche dimensions.
func (n *NicheSpaces) Len() int {
	return len(n.dims)
}

func (n *NicheSpaces) check(index int) error {
	if index < 0 || index >= len(n.dims) {
		return fmt.Errorf("niche dimension %d of %d: %w", index, len(n.dims), ErrIndexOutOfRange)
	}
	return nil
}

// Occupied returns the occupied space of a dimension.
func (n *NicheSpaces) Occupied(index int) (float64, error) {
	if err := n.check(index); err != nil {
		return 0, err
	}
	return n.dims[index].OccupiedSpace, nil
}

// Available returns the available space of a dimension.
func (n *NicheSpaces) Available(index int) (float64, error) {
	if err := n.check(index); err != nil {
		return 0, err
	}
	return n.dims[index].AvailableSpace, nil
}

// SetOccupied sets the occupied space of a dimension.
func (n *NicheSpaces) SetOccupied(index int, v float64) error {
	if err := n.check(index); err != nil {
		return err
	}
	n.dims[index].OccupiedSpace = v
	return nil
}

// SetAvailable sets the available space of a dimension.
func (n *NicheSpaces) SetAvailable(index int, v float64) error {
	if err := n.check(index); err != nil {
		return err
	}
	n.dims[index].AvailableSpace = v
	return nil
}

// SetAvailability replaces the capacity vector wholesale. The dimension count
// follows len(available); occupied space survives for indices present in both.
func (n *NicheSpaces) SetAvailability(available []float64) {
	dims := make([]NicheDimension, len(available))
	for i, a := range available {
		dims[i].AvailableSpace = a
		if i < len(n.dims) {
			dims[i].OccupiedSpace = n.dims[i].OccupiedSpace
		}
	}
	n.dims = dims
}

// Availability returns a copy of the available space per dimension.
func (n *NicheSpaces) Availability() []float64 {
	out := make([]float64, len(n.dims))
	for i, d := range n.dims {
		out[i] = d.AvailableSpace
	}
	return out
}

// TotalAvailable sums available space over all dimensions.
func (n *NicheSpaces) TotalAvailable() float64 {
	return floats.Sum(n.Availability())
}

// Clone returns an independent copy.
func (n NicheSpaces) Clone() NicheSpaces {
	dims := make([]NicheDimension, len(n.dims))
	copy(dims, n.dims)
	return NicheSpaces{dims: dims}
}

// String lists each dimension.
func (n *NicheSpaces) String() string {
	var b strings.Builder
	b.WriteString("Niche Dimensions:\n")
	for i, d := range n.dims {
		fmt.Fprintf(&b, "Dimension %d: Occupied Space = %g, Available Space = %g\n", i, d.OccupiedSpace, d.AvailableSpace)
	}
	return b.String()
}
