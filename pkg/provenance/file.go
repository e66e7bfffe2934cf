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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// recordDir is the directory under the session dir holding run records.
const recordDir = ".hyperagent"

// FileSink writes one JSON file per run at
// <sessionDir>/.hyperagent/<runId>.json. Every append rewrites the file
// atomically (temp file then rename), so a crashed run leaves a valid
// record of everything up to its last entry.
type FileSink struct {
	dir string

	mu      sync.Mutex
	records map[string]*Record
}

// NewFileSink creates a sink rooted at the given session directory.
func NewFileSink(sessionDir string) *FileSink {
	return &FileSink{
		dir:     filepath.Join(sessionDir, recordDir),
		records: make(map[string]*Record),
	}
}

// Path returns the record file path for a run.
func (s *FileSink) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Begin implements Sink.
func (s *FileSink) Begin(runID, workflowID string, startedAt time.Time) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating provenance directory: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = &Record{
		ID:         runID,
		WorkflowID: workflowID,
		StartedAt:  startedAt,
	}
	return s.flushLocked(runID)
}

// RegisterAgent implements Sink.
func (s *FileSink) RegisterAgent(runID string, agent AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.recordLocked(runID)
	if err != nil {
		return err
	}
	rec.Agents = append(rec.Agents, agent)
	return s.flushLocked(runID)
}

// Append implements Sink.
func (s *FileSink) Append(runID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.recordLocked(runID)
	if err != nil {
		return err
	}
	rec.Log = append(rec.Log, entry)
	return s.flushLocked(runID)
}

// Finalize implements Sink.
func (s *FileSink) Finalize(runID string, result interface{}, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.recordLocked(runID)
	if err != nil {
		return err
	}
	rec.Result = result
	rec.FinishedAt = &finishedAt
	if err := s.flushLocked(runID); err != nil {
		return err
	}
	delete(s.records, runID)
	return nil
}

// Load reads a finished or in-flight record back from disk.
func (s *FileSink) Load(runID string) (*Record, error) {
	data, err := os.ReadFile(s.Path(runID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding provenance record %s: %w", runID, err)
	}
	return &rec, nil
}

func (s *FileSink) recordLocked(runID string) (*Record, error) {
	rec, ok := s.records[runID]
	if !ok {
		return nil, fmt.Errorf("no open provenance record for run %s", runID)
	}
	return rec, nil
}

func (s *FileSink) flushLocked(runID string) error {
	rec := s.records[runID]
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding provenance record %s: %w", runID, err)
	}

	path := s.Path(runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing provenance record %s: %w", runID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing provenance record %s: %w", runID, err)
	}
	return nil
}
