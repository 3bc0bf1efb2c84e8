// Package telemetry records what happens during a run: the ordered event
// history, windowed population statistics, lineages, milestones and step
// timing, with optional CSV export.
package telemetry

import (
	"fmt"
	"io"
	"os"
)

// EventType identifies a logged event.
type EventType string

const (
	EventBirth       EventType = "Birth"
	EventDeath       EventType = "Death"
	EventImmigration EventType = "Immigration"
	EventMutation    EventType = "Mutation"
)

// EventRecord is one entry of the event history. Fields that do not apply
// to the event type are -1 (ids) or zero (values).
type EventRecord struct {
	Type         EventType `csv:"type"`
	Time         float64   `csv:"time"`
	PopulationID int       `csv:"population_id"`
	ParentID     int       `csv:"parent_id"`
	ChildID      int       `csv:"child_id"`
	LocationID   int       `csv:"location_id"`
	FromLocation int       `csv:"from_location"`
	ToLocation   int       `csv:"to_location"`
	Property     string    `csv:"property"`
	OldValue     float64   `csv:"old_value"`
	NewValue     float64   `csv:"new_value"`
	Details      string    `csv:"details"`
}

func newRecord(t EventType, time float64) EventRecord {
	return EventRecord{
		Type:         t,
		Time:         time,
		PopulationID: -1,
		ParentID:     -1,
		ChildID:      -1,
		LocationID:   -1,
		FromLocation: -1,
		ToLocation:   -1,
	}
}

// Observer keeps the chronological event history of a run and prints it.
type Observer struct {
	history []EventRecord
	out     io.Writer
}

// NewObserver creates an observer that prints to w (stdout if nil).
func NewObserver(w io.Writer) *Observer {
	if w == nil {
		w = os.Stdout
	}
	return &Observer{out: w}
}

// LogBirthEvent records a birth.
func (o *Observer) LogBirthEvent(time float64, parentID, childID, locationID int) {
	r := newRecord(EventBirth, time)
	r.PopulationID = childID
	r.ParentID = parentID
	r.ChildID = childID
	r.LocationID = locationID
	r.Details = fmt.Sprintf("Parent ID: %d, Child ID: %d, Location ID: %d", parentID, childID, locationID)
	o.history = append(o.history, r)
}

// LogDeathEvent records a death.
func (o *Observer) LogDeathEvent(time float64, populationID int) {
	r := newRecord(EventDeath, time)
	r.PopulationID = populationID
	r.Details = fmt.Sprintf("Population ID: %d", populationID)
	o.history = append(o.history, r)
}

// LogImmigrationEvent records a propagule dispersal.
func (o *Observer) LogImmigrationEvent(time float64, populationID, fromLocationID, toLocationID int) {
	r := newRecord(EventImmigration, time)
	r.PopulationID = populationID
	r.FromLocation = fromLocationID
	r.ToLocation = toLocationID
	r.Details = fmt.Sprintf("Population ID: %d, From Location: %d, To Location: %d",
		populationID, fromLocationID, toLocationID)
	o.history = append(o.history, r)
}

// LogMutationEvent records a trait mutation.
func (o *Observer) LogMutationEvent(time float64, populationID, locationID int, property string, oldValue, newValue float64) {
	r := newRecord(EventMutation, time)
	r.PopulationID = populationID
	r.LocationID = locationID
	r.Property = property
	r.OldValue = oldValue
	r.NewValue = newValue
	r.Details = fmt.Sprintf("Population ID: %d, Location ID: %d, Mutated Property: %s, From Value: %f, To Value: %f",
		populationID, locationID, property, oldValue, newValue)
	o.history = append(o.history, r)
}

// History returns the event history in log order.
func (o *Observer) History() []EventRecord {
	return o.history
}

// Len returns the number of logged events.
func (o *Observer) Len() int {
	return len(o.history)
}

// Count returns how many events of type t were logged.
func (o *Observer) Count(t EventType) int {
	n := 0
	for _, r := range o.history {
		if r.Type == t {
			n++
		}
	}
	return n
}

// Clear empties the history.
func (o *Observer) Clear() {
	o.history = o.history[:0]
}

// PrintEventHistory writes every logged event, oldest first.
func (o *Observer) PrintEventHistory() {
	fmt.Fprintln(o.out, "Event History:")
	for _, r := range o.history {
		fmt.Fprintf(o.out, "Time: %g | Type: %s | Details: %s\n", r.Time, r.Type, r.Details)
	}
}
