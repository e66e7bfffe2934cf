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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_RecordLifecycle(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	started := time.Now()
	require.NoError(t, sink.Begin("run-1", "review.v1", started))

	// The record exists on disk from the first write.
	assert.FileExists(t, filepath.Join(dir, ".hyperagent", "run-1.json"))

	require.NoError(t, sink.RegisterAgent("run-1", AgentRecord{
		Role:      "worker",
		SessionID: "sess-1",
		Name:      "review.v1-worker-run-1",
	}))

	require.NoError(t, sink.Append("run-1", LogEntry{
		Role:      "user",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"step": "work", "prompts": []interface{}{"go"}},
	}))
	require.NoError(t, sink.Append("run-1", LogEntry{
		Role:      "review.v1.worker",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"messageId": "msg-1"},
	}))

	require.NoError(t, sink.Finalize("run-1", map[string]interface{}{
		"outcome": "approved",
	}, time.Now()))

	rec, err := sink.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, "review.v1", rec.WorkflowID)
	require.NotNil(t, rec.FinishedAt)
	require.Len(t, rec.Agents, 1)
	assert.Equal(t, "worker", rec.Agents[0].Role)
	require.Len(t, rec.Log, 2)
	assert.Equal(t, "user", rec.Log[0].Role)
	assert.Equal(t, "review.v1.worker", rec.Log[1].Role)
	assert.False(t, rec.Log[1].Timestamp.Before(rec.Log[0].Timestamp))

	result, ok := rec.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "approved", result["outcome"])
}

func TestFileSink_AppendRequiresOpenRecord(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	err := sink.Append("ghost", LogEntry{Role: "user"})
	require.Error(t, err)
}

func TestFileSink_FinalizeClosesRecord(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	require.NoError(t, sink.Begin("run-1", "wf", time.Now()))
	require.NoError(t, sink.Finalize("run-1", nil, time.Now()))

	// Appending after finalize fails; the record is closed.
	require.Error(t, sink.Append("run-1", LogEntry{Role: "user"}))
}

func TestFileSink_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	require.NoError(t, sink.Begin("run-1", "wf", time.Now()))
	require.NoError(t, sink.Finalize("run-1", "ok", time.Now()))

	entries, err := os.ReadDir(filepath.Join(dir, ".hyperagent"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "stray temp file %s", e.Name())
	}
}

func TestTruncate(t *testing.T) {
	short := "tiny output"
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("x", OutputCap+100)
	got := Truncate(long)
	assert.Len(t, got, OutputCap+len("... [truncated]"))
	assert.True(t, strings.HasSuffix(got, "... [truncated]"))
}
