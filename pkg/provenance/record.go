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

// Package provenance persists an append-only record per workflow run:
// the agents it opened, every prompt, reply, command invocation and
// delegation, and the terminal result. The record is self-contained:
// it is sufficient to replay parsed outputs and, combined with the
// session provider's per-message diff API, to reconstruct the files a
// role touched.
package provenance

import (
	"time"
)

// OutputCap bounds captured process output stored in a log entry.
// Longer output is truncated with a marker suffix.
const OutputCap = 8 * 1024

// Record is one run's complete provenance.
type Record struct {
	// ID is the run id.
	ID string `json:"id"`

	// WorkflowID is the id of the executed workflow document.
	WorkflowID string `json:"workflowId"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the run terminated; zero while running.
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Agents lists the sessions the run registered.
	Agents []AgentRecord `json:"agents,omitempty"`

	// Log holds the run's entries in temporal order.
	Log []LogEntry `json:"log,omitempty"`

	// Result is the terminal run result, or the error that ended it.
	Result interface{} `json:"result,omitempty"`
}

// AgentRecord ties a role to its provider session.
type AgentRecord struct {
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name,omitempty"`
}

// LogEntry is one appended provenance event. Role is "user",
// "<workflowId>.<role>", or "<workflowId>.cli.<stepKey>".
type LogEntry struct {
	Role      string      `json:"role"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink receives provenance for runs. Implementations persist entries
// in call order; Append must be durable before it returns so the
// record stays consistent with execution order.
type Sink interface {
	// Begin opens the record for a run.
	Begin(runID, workflowID string, startedAt time.Time) error

	// RegisterAgent appends a session registration.
	RegisterAgent(runID string, agent AgentRecord) error

	// Append adds a log entry.
	Append(runID string, entry LogEntry) error

	// Finalize writes the terminal result and closes the record.
	Finalize(runID string, result interface{}, finishedAt time.Time) error
}

// Truncate caps a captured output string at OutputCap.
func Truncate(s string) string {
	if len(s) <= OutputCap {
		return s
	}
	return s[:OutputCap] + "... [truncated]"
}

// Discard is a Sink that drops everything. Useful for runs that do not
// need a record and for tests.
type Discard struct{}

func (Discard) Begin(string, string, time.Time) error         { return nil }
func (Discard) RegisterAgent(string, AgentRecord) error       { return nil }
func (Discard) Append(string, LogEntry) error                 { return nil }
func (Discard) Finalize(string, interface{}, time.Time) error { return nil }
