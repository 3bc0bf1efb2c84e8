package telemetry

import "sort"

// LineageStats tracks one population from creation to death.
type LineageStats struct {
	PopulationID int     `csv:"population_id"`
	ParentID     int     `csv:"parent_id"` // -1 for the seed
	Location     int     `csv:"location"`
	BirthTime    float64 `csv:"birth_time"`
	DeathTime    float64 `csv:"death_time"` // 0 while alive
	Alive        bool    `csv:"alive"`
	Children     int     `csv:"children"`   // offspring on the same isolation
	Propagules   int     `csv:"propagules"` // offspring sent to other isolations
	Mutations    int     `csv:"mutations"`
}

// LineageTracker manages per-population lineage records. Under the
// parent_offset id policy two living populations can share an id; the older
// record is then retired and the collision counted. A nil tracker ignores
// every call.
type LineageTracker struct {
	live       map[int]*LineageStats
	retired    []*LineageStats
	collisions int
}

// NewLineageTracker creates an empty tracker.
func NewLineageTracker() *LineageTracker {
	return &LineageTracker{live: make(map[int]*LineageStats)}
}

// Register starts a record for a new population. parentID is -1 for none.
func (lt *LineageTracker) Register(id, parentID, location int, t float64) {
	if lt == nil {
		return
	}
	if prev, ok := lt.live[id]; ok {
		lt.collisions++
		lt.retired = append(lt.retired, prev)
	}
	lt.live[id] = &LineageStats{
		PopulationID: id,
		ParentID:     parentID,
		Location:     location,
		BirthTime:    t,
		Alive:        true,
	}
}

// Get returns the live record for id, or nil.
func (lt *LineageTracker) Get(id int) *LineageStats {
	if lt == nil {
		return nil
	}
	return lt.live[id]
}

// RecordChild counts an offspring of parentID; remote offspring are propagules.
func (lt *LineageTracker) RecordChild(parentID int, remote bool) {
	if lt == nil {
		return
	}
	if s := lt.live[parentID]; s != nil {
		if remote {
			s.Propagules++
		} else {
			s.Children++
		}
	}
}

// RecordMutation counts a mutation of id.
func (lt *LineageTracker) RecordMutation(id int) {
	if lt == nil {
		return
	}
	if s := lt.live[id]; s != nil {
		s.Mutations++
	}
}

// RecordDeath closes the record for id.
func (lt *LineageTracker) RecordDeath(id int, t float64) {
	if lt == nil {
		return
	}
	if s := lt.live[id]; s != nil {
		s.Alive = false
		s.DeathTime = t
		lt.retired = append(lt.retired, s)
		delete(lt.live, id)
	}
}

// Collisions returns how many times a new population reused a live id.
func (lt *LineageTracker) Collisions() int {
	if lt == nil {
		return 0
	}
	return lt.collisions
}

// Count returns the number of live records.
func (lt *LineageTracker) Count() int {
	if lt == nil {
		return 0
	}
	return len(lt.live)
}

// Records returns all records, live and retired, ordered by birth time.
func (lt *LineageTracker) Records() []LineageStats {
	if lt == nil {
		return nil
	}
	out := make([]LineageStats, 0, len(lt.live)+len(lt.retired))
	for _, s := range lt.retired {
		out = append(out, *s)
	}
	for _, s := range lt.live {
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BirthTime != out[j].BirthTime {
			return out[i].BirthTime < out[j].BirthTime
		}
		return out[i].PopulationID < out[j].PopulationID
	})
	return out
}
