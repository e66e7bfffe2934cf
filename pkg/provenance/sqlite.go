// Copyright 2025 The Hyperagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provenance

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists run records in a SQLite database instead of one
// JSON file per run. Useful when many runs share a session directory
// and records need to be queried across runs.
type SQLiteSink struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	result      TEXT
);
CREATE TABLE IF NOT EXISTS run_agents (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	role       TEXT NOT NULL,
	session_id TEXT NOT NULL,
	name       TEXT
);
CREATE TABLE IF NOT EXISTS run_log (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	seq       INTEGER NOT NULL,
	role      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	payload   TEXT,
	PRIMARY KEY (run_id, seq)
);`

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening provenance database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing provenance schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Begin implements Sink.
func (s *SQLiteSink) Begin(runID, workflowID string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, workflow_id, started_at) VALUES (?, ?, ?)`,
		runID, workflowID, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("beginning run %s: %w", runID, err)
	}
	return nil
}

// RegisterAgent implements Sink.
func (s *SQLiteSink) RegisterAgent(runID string, agent AgentRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO run_agents (run_id, role, session_id, name) VALUES (?, ?, ?, ?)`,
		runID, agent.Role, agent.SessionID, agent.Name,
	)
	if err != nil {
		return fmt.Errorf("registering agent for run %s: %w", runID, err)
	}
	return nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(runID string, entry LogEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encoding log payload for run %s: %w", runID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO run_log (run_id, seq, role, timestamp, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_log WHERE run_id = ?), ?, ?, ?)`,
		runID, runID, entry.Role, entry.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("appending log for run %s: %w", runID, err)
	}
	return nil
}

// Finalize implements Sink.
func (s *SQLiteSink) Finalize(runID string, result interface{}, finishedAt time.Time) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for run %s: %w", runID, err)
	}
	_, err = s.db.Exec(
		`UPDATE runs SET finished_at = ?, result = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano), string(encoded), runID,
	)
	if err != nil {
		return fmt.Errorf("finalizing run %s: %w", runID, err)
	}
	return nil
}

// Load reconstructs a run's record from the database.
func (s *SQLiteSink) Load(runID string) (*Record, error) {
	rec := &Record{ID: runID}

	var startedAt, finishedAt, result sql.NullString
	err := s.db.QueryRow(
		`SELECT workflow_id, started_at, finished_at, result FROM runs WHERE id = ?`, runID,
	).Scan(&rec.WorkflowID, &startedAt, &finishedAt, &result)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	if result.Valid && result.String != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(result.String), &v); err == nil {
			rec.Result = v
		}
	}

	agents, err := s.db.Query(
		`SELECT role, session_id, name FROM run_agents WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer agents.Close()
	for agents.Next() {
		var a AgentRecord
		var name sql.NullString
		if err := agents.Scan(&a.Role, &a.SessionID, &name); err != nil {
			return nil, err
		}
		a.Name = name.String
		rec.Agents = append(rec.Agents, a)
	}
	if err := agents.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT role, timestamp, payload FROM run_log WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e LogEntry
		var ts string
		var payload sql.NullString
		if err := rows.Scan(&e.Role, &ts, &payload); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if payload.Valid && payload.String != "" {
			var v interface{}
			if err := json.Unmarshal([]byte(payload.String), &v); err == nil {
				e.Payload = v
			}
		}
		rec.Log = append(rec.Log, e)
	}
	return rec, rows.Err()
}
