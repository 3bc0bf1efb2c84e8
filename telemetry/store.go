package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pthm-cable/fusion/config"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    seed INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    max_time REAL NOT NULL,
    config TEXT NOT NULL,      -- YAML
    final_time REAL,
    steps INTEGER,
    populations INTEGER
);

CREATE TABLE IF NOT EXISTS events (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,      -- position in the event history
    type TEXT NOT NULL,
    time REAL NOT NULL,
    population_id INTEGER,
    parent_id INTEGER,
    child_id INTEGER,
    location_id INTEGER,
    from_location INTEGER,
    to_location INTEGER,
    property TEXT,
    old_value REAL,
    new_value REAL,
    PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(run_id, type);

CREATE TABLE IF NOT EXISTS census (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    window_end REAL NOT NULL,
    steps INTEGER,
    populations INTEGER,
    occupied_isolations INTEGER,
    births INTEGER,
    deaths INTEGER,
    immigrations INTEGER,
    mutations INTEGER,
    mean_barrier REAL,
    PRIMARY KEY (run_id, window_end)
);
`

// RunStore collects finished runs in a SQLite database so replicates can be
// compared with SQL. A nil RunStore (store disabled) accepts every call.
type RunStore struct {
	db   *sql.DB
	path string
}

// OpenRunStore opens or creates the database at path.
// Returns nil if path is empty (store disabled).
func OpenRunStore(ctx context.Context, path string) (*RunStore, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer

	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store schema: %w", err)
	}
	return &RunStore{db: db, path: path}, nil
}

// BeginRun records the start of a run and returns its id.
func (s *RunStore) BeginRun(ctx context.Context, seed int64, maxTime float64, cfg *config.Config) (int64, error) {
	if s == nil {
		return 0, nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("marshaling config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (seed, started_at, max_time, config) VALUES (?, ?, ?, ?)`,
		seed, time.Now().UTC().Format(time.RFC3339), maxTime, string(data))
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records how a run ended.
func (s *RunStore) FinishRun(ctx context.Context, runID int64, finalTime float64, steps, populations int) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET final_time = ?, steps = ?, populations = ? WHERE id = ?`,
		finalTime, steps, populations, runID)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", runID, err)
	}
	return nil
}

// WriteEvents stores the event history of a run in one transaction.
func (s *RunStore) WriteEvents(ctx context.Context, runID int64, history []EventRecord) (retErr error) {
	if s == nil || len(history) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events
		(run_id, seq, type, time, population_id, parent_id, child_id, location_id,
		 from_location, to_location, property, old_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range history {
		if _, err := stmt.ExecContext(ctx, runID, i, string(r.Type), r.Time,
			r.PopulationID, r.ParentID, r.ChildID, r.LocationID,
			r.FromLocation, r.ToLocation, r.Property, r.OldValue, r.NewValue); err != nil {
			return fmt.Errorf("inserting event %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// WriteWindow stores one census row.
func (s *RunStore) WriteWindow(ctx context.Context, runID int64, stats WindowStats) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO census
		(run_id, window_end, steps, populations, occupied_isolations,
		 births, deaths, immigrations, mutations, mean_barrier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, stats.WindowEnd, stats.Steps, stats.Populations, stats.OccupiedIsolations,
		stats.Births, stats.Deaths, stats.Immigrations, stats.Mutations, stats.MeanBarrier)
	if err != nil {
		return fmt.Errorf("inserting census at %g: %w", stats.WindowEnd, err)
	}
	return nil
}

// DB exposes the underlying database for queries.
func (s *RunStore) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Path returns the database path.
func (s *RunStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the database.
func (s *RunStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
