// Package history persists the intervention record and the derived safety
// metrics behind the telemetry frame. SQLite keeps the record queryable
// across restarts without an external service.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one applied, escalated, or rolled-back intervention.
type Record struct {
	ID     string
	Action string
	Target string
	Reason string
	TS     string // HH:MM:SS display form
	Result string // "acting" | "expired" | "rolled_back" | "rolled_back_failed" | "escalated"
	Rate   string // observed success delta, e.g. "+3.2%"
}

// SafetyMetrics are the aggregate counters the dashboard shows.
type SafetyMetrics struct {
	FalsePositiveRate float64 `json:"false_positive_rate"`
	AvgResponseTimeS  float64 `json:"avg_response_time_s"`
	RollbackRate      float64 `json:"rollback_rate"`
	HumanEscalations  int     `json:"human_escalations"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS interventions (
	id       TEXT PRIMARY KEY,
	action   TEXT NOT NULL,
	target   TEXT NOT NULL,
	reason   TEXT NOT NULL,
	ts       TEXT NOT NULL,
	result   TEXT NOT NULL,
	rate     TEXT NOT NULL DEFAULT '',
	created  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS responses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	detected_ms INTEGER NOT NULL,
	acted_ms    INTEGER NOT NULL
);
`

// Open opens (or creates) the history database at path. ":memory:" works
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts or updates one intervention row.
func (s *Store) Record(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO interventions (id, action, target, reason, ts, result, rate, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET result = excluded.result, rate = excluded.rate`,
		r.ID, r.Action, r.Target, r.Reason, r.TS, r.Result, r.Rate, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// UpdateResult transitions an intervention's lifecycle state.
func (s *Store) UpdateResult(id, result, rate string) error {
	_, err := s.db.Exec(`UPDATE interventions SET result = ?, rate = ? WHERE id = ?`, result, rate, id)
	if err != nil {
		return fmt.Errorf("history: update result: %w", err)
	}
	return nil
}

// Recent returns the latest n interventions, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, action, target, reason, ts, result, rate
		FROM interventions ORDER BY created DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Action, &r.Target, &r.Reason, &r.TS, &r.Result, &r.Rate); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordResponse stores a detection-to-action latency pair.
func (s *Store) RecordResponse(detectedMS, actedMS int64) error {
	_, err := s.db.Exec(`INSERT INTO responses (detected_ms, acted_ms) VALUES (?, ?)`, detectedMS, actedMS)
	if err != nil {
		return fmt.Errorf("history: record response: %w", err)
	}
	return nil
}

// Metrics derives the safety metrics from the stored record. Every
// rolled-back intervention counts as a false positive, so the false-positive
// rate equals the rollback rate.
func (s *Store) Metrics() (SafetyMetrics, error) {
	var m SafetyMetrics

	var total, rolledBack, escalated int
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       SUM(CASE WHEN result LIKE 'rolled_back%' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN result = 'escalated' THEN 1 ELSE 0 END)
		FROM interventions`)
	var rb, esc sql.NullInt64
	if err := row.Scan(&total, &rb, &esc); err != nil {
		return m, fmt.Errorf("history: metrics: %w", err)
	}
	rolledBack = int(rb.Int64)
	escalated = int(esc.Int64)

	if total > 0 {
		m.RollbackRate = float64(rolledBack) / float64(total)
		m.FalsePositiveRate = m.RollbackRate // rollback implies the pattern was not real
	}
	m.HumanEscalations = escalated

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(acted_ms - detected_ms) FROM responses`).Scan(&avg); err != nil {
		return m, fmt.Errorf("history: response metrics: %w", err)
	}
	if avg.Valid {
		m.AvgResponseTimeS = avg.Float64 / 1000.0
	}
	return m, nil
}
