package workflow

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/provenance"
)

func referencedCliDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(`
id: referenced-cli.v1
user:
  filename:
    type: string
  content:
    type: string
  dir:
    type: string
flow:
  round:
    steps:
      - key: write
        type: cli
        command: sh
        args: ["-c", "printf '%s' \"$1\" > \"$2\"", "sh", "{{user.content}}", "{{user.filename}}"]
        cwd: "{{user.dir}}"
        exits:
          - condition:
              field: parsed.exitCode
              equals: 0
            outcome: written
          - condition: always
            outcome: write-failed
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)
	return doc
}

func parentDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(`
id: parent.v1
user:
  goalFile:
    type: string
flow:
  round:
    steps:
      - key: delegate
        type: workflow
        workflowId: referenced-cli.v1
        input:
          filename: "{{user.goalFile}}"
          content: "hello child"
          dir: "{{state.dir}}"
        inputSchema:
          type: object
          properties:
            filename:
              type: string
            content:
              type: string
          required: [filename, content]
        transitions:
          - condition:
              field: parsed.outcome
              equals: written
            outcome: child-completed
            reason: "child run {{parsed.runId}} wrote the file"
          - condition: always
            outcome: child-failed
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
state:
  initial:
    dir: "{{user.dir}}"
`))
	require.NoError(t, err)
	return doc
}

func TestRun_WorkflowStepDelegates(t *testing.T) {
	dir := t.TempDir()

	registry := MapRegistry{}
	registry.Register(referencedCliDocument(t))

	result := await(t, parentDocument(t), Options{
		User: map[string]interface{}{
			"goalFile": "goal.txt",
			"dir":      dir,
		},
		SessionDir: dir,
		Workflows:  registry,
		Sink:       provenance.Discard{},
	})

	assert.Equal(t, "child-completed", result.Outcome)
	assert.Regexp(t, `^child run \S+ wrote the file$`, result.Reason)

	content, err := os.ReadFile(filepath.Join(dir, "goal.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello child", string(content))
}

func TestRun_InvalidInputRejectsFuture(t *testing.T) {
	dir := t.TempDir()

	registry := MapRegistry{}
	registry.Register(referencedCliDocument(t))

	handle, err := RunWorkflow(parentDocument(t), Options{
		User: map[string]interface{}{
			"goalFile": 123,
			"dir":      dir,
		},
		SessionDir: dir,
		Workflows:  registry,
		Sink:       provenance.Discard{},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.RunID)

	_, err = handle.Wait(context.Background())
	var inputErr *errors.InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Regexp(t, regexp.MustCompile(`(?i)invalid (user )?input`), err.Error())

	_, statErr := os.Stat(filepath.Join(dir, "goal.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_UnknownWorkflowID(t *testing.T) {
	dir := t.TempDir()

	handle, err := RunWorkflow(parentDocument(t), Options{
		User: map[string]interface{}{
			"goalFile": "goal.txt",
			"dir":      dir,
		},
		SessionDir: dir,
		Sink:       provenance.Discard{},
	})
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	var unknown *errors.UnknownWorkflowError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "referenced-cli.v1", unknown.WorkflowID)
}

func TestRun_ChildFailurePropagates(t *testing.T) {
	child, err := ParseDocument([]byte(`
id: broken-child.v1
flow:
  round:
    steps:
      - key: boom
        type: cli
        command: definitely-not-a-real-binary-xyz
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	parent, err := ParseDocument([]byte(`
id: parent-of-broken.v1
flow:
  round:
    steps:
      - key: delegate
        type: workflow
        workflowId: broken-child.v1
        transitions:
          - condition: always
            outcome: unreachable
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	registry := MapRegistry{}
	registry.Register(child)

	handle, err := RunWorkflow(parent, Options{
		SessionDir: t.TempDir(),
		Workflows:  registry,
		Sink:       provenance.Discard{},
	})
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	var childErr *errors.ChildWorkflowError
	require.ErrorAs(t, err, &childErr)
	assert.Equal(t, "broken-child.v1", childErr.WorkflowID)
	assert.NotEmpty(t, childErr.RunID)

	var cliErr *errors.CliError
	assert.ErrorAs(t, err, &cliErr)
}

func TestRun_ChildRoundCountSurfaces(t *testing.T) {
	child, err := ParseDocument([]byte(`
id: looping-child.v1
flow:
  round:
    steps:
      - key: spin
        type: transform
        template:
          tick: "{{round}}"
    maxRounds: 2
    defaultOutcome:
      outcome: done
`))
	require.NoError(t, err)

	parent, err := ParseDocument([]byte(`
id: parent-of-looping.v1
flow:
  round:
    steps:
      - key: delegate
        type: workflow
        workflowId: looping-child.v1
        transitions:
          - condition:
              all:
                - field: parsed.outcome
                  equals: done
                - field: parsed.rounds
                  equals: 2
            outcome: child-spun-twice
          - condition: always
            outcome: unexpected
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	registry := MapRegistry{}
	registry.Register(child)

	result := await(t, parent, Options{
		SessionDir: t.TempDir(),
		Workflows:  registry,
		Sink:       provenance.Discard{},
	})
	assert.Equal(t, "child-spun-twice", result.Outcome)
}
