package telemetry

import "testing"

func census(end float64, perIsolation ...int) (WindowStats, []IsolationStats) {
	stats := WindowStats{WindowEnd: end}
	isos := make([]IsolationStats, len(perIsolation))
	for i, n := range perIsolation {
		stats.Populations += n
		isos[i] = IsolationStats{WindowEnd: end, Isolation: i, Populations: n}
	}
	return stats, isos
}

func hasMilestone(ms []Milestone, typ MilestoneType, isolation int) bool {
	for _, m := range ms {
		if m.Type == typ && m.Isolation == isolation {
			return true
		}
	}
	return false
}

func TestMilestoneDetector_Colonization(t *testing.T) {
	md := NewMilestoneDetector(10, 0.5, 5)

	if ms := md.Check(census(1, 1, 0)); len(ms) != 0 {
		t.Errorf("first window produced milestones: %+v", ms)
	}
	ms := md.Check(census(2, 2, 1))
	if !hasMilestone(ms, MilestoneColonization, 1) {
		t.Errorf("expected colonization of isolation 1, got %+v", ms)
	}
}

func TestMilestoneDetector_Extinctions(t *testing.T) {
	md := NewMilestoneDetector(10, 0.5, 5)
	md.Check(census(1, 1, 1))

	ms := md.Check(census(2, 1, 0))
	if !hasMilestone(ms, MilestoneLocalExtinction, 1) {
		t.Errorf("expected local extinction of isolation 1, got %+v", ms)
	}
	if hasMilestone(ms, MilestoneGlobalExtinction, -1) {
		t.Error("global extinction reported while populations remain")
	}

	ms = md.Check(census(3, 0, 0))
	if !hasMilestone(ms, MilestoneGlobalExtinction, -1) {
		t.Errorf("expected global extinction, got %+v", ms)
	}

	if ms := md.Check(census(4, 0, 0)); hasMilestone(ms, MilestoneGlobalExtinction, -1) {
		t.Error("global extinction reported twice")
	}
}

func TestMilestoneDetector_Crash(t *testing.T) {
	md := NewMilestoneDetector(10, 0.5, 5)
	md.Check(census(1, 20))
	md.Check(census(2, 30))

	// Small dip is not a crash
	if ms := md.Check(census(3, 25)); hasMilestone(ms, MilestoneCrash, -1) {
		t.Error("small drop reported as crash")
	}

	ms := md.Check(census(4, 10))
	if !hasMilestone(ms, MilestoneCrash, -1) {
		t.Errorf("expected crash, got %+v", ms)
	}

	// Still crashed: suppressed
	if ms := md.Check(census(5, 8)); hasMilestone(ms, MilestoneCrash, -1) {
		t.Error("crash reported again before recovery")
	}
}

func TestMilestoneDetector_NilSafe(t *testing.T) {
	var md *MilestoneDetector
	if ms := md.Check(census(1, 1)); ms != nil {
		t.Errorf("nil detector returned %+v", ms)
	}
}
