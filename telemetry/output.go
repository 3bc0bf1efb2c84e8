package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/fusion/config"
)

// csvFile is an append-only CSV file whose header is written with the first rows.
type csvFile struct {
	name          string
	file          *os.File
	headerWritten bool
}

func appendRows[T any](f *csvFile, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if !f.headerWritten {
		if err := gocsv.Marshal(rows, f.file); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
		f.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, f.file); err != nil {
		return fmt.Errorf("writing %s: %w", f.name, err)
	}
	return nil
}

// OutputManager handles structured run output with CSV logging.
// A nil OutputManager (output disabled) accepts every call and writes nothing.
type OutputManager struct {
	dir string

	census     *csvFile
	isolations *csvFile
	milestones *csvFile
	perf       *csvFile
}

// NewOutputManager creates the output directory and the streaming CSV files.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	for _, target := range []struct {
		name string
		dst  **csvFile
	}{
		{"census.csv", &om.census},
		{"isolations.csv", &om.isolations},
		{"milestones.csv", &om.milestones},
		{"perf.csv", &om.perf},
	} {
		f, err := os.Create(filepath.Join(dir, target.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", target.name, err)
		}
		*target.dst = &csvFile{name: target.name, file: f}
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteWindow writes a window's stats and per-isolation census.
func (om *OutputManager) WriteWindow(stats WindowStats, isolations []IsolationStats) error {
	if om == nil {
		return nil
	}
	if err := appendRows(om.census, []WindowStats{stats}); err != nil {
		return err
	}
	return appendRows(om.isolations, isolations)
}

// WriteMilestone writes a milestone record.
func (om *OutputManager) WriteMilestone(m Milestone) error {
	if om == nil {
		return nil
	}
	return appendRows(om.milestones, []Milestone{m})
}

// WritePerf writes a performance stats record.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd float64) error {
	if om == nil {
		return nil
	}
	return appendRows(om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)})
}

// WriteEvents writes the complete event history to events.csv.
func (om *OutputManager) WriteEvents(history []EventRecord) error {
	if om == nil {
		return nil
	}
	return writeAll(filepath.Join(om.dir, "events.csv"), history)
}

// WriteLineage writes lineage records to lineage.csv.
func (om *OutputManager) WriteLineage(records []LineageStats) error {
	if om == nil {
		return nil
	}
	return writeAll(filepath.Join(om.dir, "lineage.csv"), records)
}

func writeAll[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := gocsv.Marshal(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all streaming output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*csvFile{om.census, om.isolations, om.milestones, om.perf} {
		if f == nil || f.file == nil {
			continue
		}
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.file = nil
	}
	return firstErr
}
