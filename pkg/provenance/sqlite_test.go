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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "provenance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSink_RecordLifecycle(t *testing.T) {
	sink := newTestSQLiteSink(t)

	require.NoError(t, sink.Begin("run-1", "pipeline.v1", time.Now()))
	require.NoError(t, sink.RegisterAgent("run-1", AgentRecord{
		Role:      "planner",
		SessionID: "sess-9",
		Name:      "planner-stable",
	}))

	for i, role := range []string{"user", "pipeline.v1.planner", "pipeline.v1.cli.build"} {
		require.NoError(t, sink.Append("run-1", LogEntry{
			Role:      role,
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
			Payload:   map[string]interface{}{"seq": float64(i)},
		}))
	}

	require.NoError(t, sink.Finalize("run-1", map[string]interface{}{
		"outcome": "done",
		"rounds":  float64(1),
	}, time.Now()))

	rec, err := sink.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline.v1", rec.WorkflowID)
	require.NotNil(t, rec.FinishedAt)
	require.Len(t, rec.Agents, 1)
	assert.Equal(t, "sess-9", rec.Agents[0].SessionID)

	require.Len(t, rec.Log, 3)
	for i, entry := range rec.Log {
		payload := entry.Payload.(map[string]interface{})
		assert.Equal(t, float64(i), payload["seq"], "append order not preserved")
	}

	result := rec.Result.(map[string]interface{})
	assert.Equal(t, "done", result["outcome"])
}

func TestSQLiteSink_MultipleRuns(t *testing.T) {
	sink := newTestSQLiteSink(t)

	require.NoError(t, sink.Begin("run-a", "wf", time.Now()))
	require.NoError(t, sink.Begin("run-b", "wf", time.Now()))
	require.NoError(t, sink.Append("run-a", LogEntry{Role: "user", Timestamp: time.Now(), Payload: "a"}))
	require.NoError(t, sink.Append("run-b", LogEntry{Role: "user", Timestamp: time.Now(), Payload: "b"}))

	recA, err := sink.Load("run-a")
	require.NoError(t, err)
	recB, err := sink.Load("run-b")
	require.NoError(t, err)

	require.Len(t, recA.Log, 1)
	require.Len(t, recB.Log, 1)
	assert.Equal(t, "a", recA.Log[0].Payload)
	assert.Equal(t, "b", recB.Log[0].Payload)
}

func TestSQLiteSink_DuplicateBeginFails(t *testing.T) {
	sink := newTestSQLiteSink(t)
	require.NoError(t, sink.Begin("run-1", "wf", time.Now()))
	require.Error(t, sink.Begin("run-1", "wf", time.Now()))
}
