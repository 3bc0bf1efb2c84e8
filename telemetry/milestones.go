package telemetry

import (
	"fmt"
	"log/slog"
)

// MilestoneType identifies the type of milestone.
type MilestoneType string

const (
	MilestoneColonization     MilestoneType = "colonization"
	MilestoneLocalExtinction  MilestoneType = "local_extinction"
	MilestoneGlobalExtinction MilestoneType = "global_extinction"
	MilestoneCrash            MilestoneType = "population_crash"
)

// Milestone marks a notable moment, detected at a window boundary.
type Milestone struct {
	Type        MilestoneType `csv:"type"`
	Time        float64       `csv:"time"`
	Isolation   int           `csv:"isolation"` // -1 for system-wide milestones
	Description string        `csv:"description"`
}

// LogMilestone logs the milestone using slog.
func (m Milestone) LogMilestone() {
	slog.Info("milestone",
		"type", string(m.Type),
		"time", m.Time,
		"isolation", m.Isolation,
		"description", m.Description,
	)
}

// MilestoneDetector compares consecutive window censuses. A nil detector
// never reports anything.
type MilestoneDetector struct {
	// Rolling history of total population (circular buffer)
	history     []int
	historySize int
	historyIdx  int
	historyFull bool

	prevOccupancy []int // per isolation, from the previous window
	crashed       bool  // suppress repeated crash reports until recovery

	dropPercent float64
	minDrop     int
}

// NewMilestoneDetector creates a detector. A crash is reported when the total
// population falls more than dropPercent below its recent peak and by at
// least minDrop populations.
func NewMilestoneDetector(historySize int, dropPercent float64, minDrop int) *MilestoneDetector {
	if historySize < 2 {
		historySize = 2
	}
	return &MilestoneDetector{
		history:     make([]int, historySize),
		historySize: historySize,
		dropPercent: dropPercent,
		minDrop:     minDrop,
	}
}

// Check analyzes the latest window and returns any triggered milestones.
func (md *MilestoneDetector) Check(stats WindowStats, isolations []IsolationStats) []Milestone {
	if md == nil {
		return nil
	}
	var out []Milestone

	if md.prevOccupancy != nil {
		for _, iso := range isolations {
			if iso.Isolation >= len(md.prevOccupancy) {
				continue
			}
			prev := md.prevOccupancy[iso.Isolation]
			switch {
			case prev == 0 && iso.Populations > 0:
				out = append(out, Milestone{
					Type:        MilestoneColonization,
					Time:        stats.WindowEnd,
					Isolation:   iso.Isolation,
					Description: fmt.Sprintf("isolation %d colonized by %d populations", iso.Isolation, iso.Populations),
				})
			case prev > 0 && iso.Populations == 0:
				out = append(out, Milestone{
					Type:        MilestoneLocalExtinction,
					Time:        stats.WindowEnd,
					Isolation:   iso.Isolation,
					Description: fmt.Sprintf("isolation %d lost all %d populations", iso.Isolation, prev),
				})
			}
		}

		if stats.Populations == 0 && md.lastTotal() > 0 {
			out = append(out, Milestone{
				Type:        MilestoneGlobalExtinction,
				Time:        stats.WindowEnd,
				Isolation:   -1,
				Description: "no populations left",
			})
		}
	}

	if m := md.checkCrash(stats); m != nil {
		out = append(out, *m)
	}

	md.addToHistory(stats.Populations)
	if len(md.prevOccupancy) != len(isolations) {
		md.prevOccupancy = make([]int, len(isolations))
	}
	for i, iso := range isolations {
		md.prevOccupancy[i] = iso.Populations
	}

	return out
}

func (md *MilestoneDetector) checkCrash(stats WindowStats) *Milestone {
	peak := md.recentPeak()
	drop := peak - stats.Populations
	if peak == 0 || drop < md.minDrop || float64(drop) < md.dropPercent*float64(peak) {
		if stats.Populations >= peak {
			md.crashed = false
		}
		return nil
	}
	if md.crashed {
		return nil
	}
	md.crashed = true
	return &Milestone{
		Type:        MilestoneCrash,
		Time:        stats.WindowEnd,
		Isolation:   -1,
		Description: fmt.Sprintf("population fell from %d to %d", peak, stats.Populations),
	}
}

func (md *MilestoneDetector) addToHistory(total int) {
	md.history[md.historyIdx] = total
	md.historyIdx = (md.historyIdx + 1) % md.historySize
	if md.historyIdx == 0 {
		md.historyFull = true
	}
}

func (md *MilestoneDetector) getHistory() []int {
	if md.historyFull {
		return md.history
	}
	return md.history[:md.historyIdx]
}

func (md *MilestoneDetector) recentPeak() int {
	peak := 0
	for _, v := range md.getHistory() {
		if v > peak {
			peak = v
		}
	}
	return peak
}

func (md *MilestoneDetector) lastTotal() int {
	h := md.getHistory()
	if len(h) == 0 {
		return 0
	}
	idx := md.historyIdx - 1
	if idx < 0 {
		idx = md.historySize - 1
	}
	return md.history[idx]
}
