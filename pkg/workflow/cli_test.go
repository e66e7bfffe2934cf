package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperagent/hyperagent/pkg/provenance"
)

func TestRun_CliArgsObjectOrdering(t *testing.T) {
	doc, err := ParseDocument([]byte(`
id: flags.v1
user:
  depth:
    type: number
    integer: true
flow:
  round:
    steps:
      - key: tool
        type: cli
        command: scan
        argsObject:
          zeta: "last"
          alpha: "first"
          depth: "{{user.depth}}"
        argsSchema:
          type: object
          properties:
            depth:
              type: number
              integer: true
        exits:
          - condition: always
            outcome: done
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	runner := newRecordingRunner()
	await(t, doc, Options{
		User:       map[string]interface{}{"depth": 3},
		SessionDir: t.TempDir(),
		Sink:       provenance.Discard{},
		RunCLI:     runner.run,
	})

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "scan", runner.requests[0].Command)
	assert.Equal(t,
		[]string{"--alpha", "first", "--depth", "3", "--zeta", "last"},
		runner.requests[0].Args)
}

func TestRun_CliStdinBufferFidelity(t *testing.T) {
	binary := []byte{0x00, 0x01, 0x02, 0x03, 0x04}

	doc, err := ParseDocument([]byte(`
id: binary.v1
flow:
  round:
    steps:
      - key: produce
        type: cli
        command: produce
        capture: buffer
      - key: consume
        type: cli
        command: consume
        stdinFrom: steps.produce.parsed.stdoutBuffer
        capture: both
        exits:
          - condition: always
            outcome: done
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	runner := newRecordingRunner()
	runner.results["produce"] = ProcessResult{StdoutBuffer: binary}
	runner.results["consume"] = ProcessResult{Stdout: "0001020304"}

	await(t, doc, Options{
		SessionDir: t.TempDir(),
		Sink:       provenance.Discard{},
		RunCLI:     runner.run,
	})

	require.Len(t, runner.requests, 2)
	consume := runner.requests[1]
	assert.True(t, consume.HasStdin)
	assert.Equal(t, binary, consume.Stdin)
	assert.Equal(t, CaptureBoth, consume.Capture)
}

func TestRun_CliArgsBoundInScope(t *testing.T) {
	doc, err := ParseDocument([]byte(`
id: argscope.v1
flow:
  round:
    steps:
      - key: pack
        type: cli
        command: gzip
        args: ["--level", "9"]
        exits:
          - condition:
              field: args
              includes: "--level"
            outcome: packed
            reason: "args={{args}} parsedArgs={{parsed.args}}"
          - condition: always
            outcome: args-missing
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	runner := newRecordingRunner()
	result := await(t, doc, Options{
		SessionDir: t.TempDir(),
		Sink:       provenance.Discard{},
		RunCLI:     runner.run,
	})

	// The top-level args binding and the copy under parsed.args render
	// the same rendered argument list.
	assert.Equal(t, "packed", result.Outcome)
	assert.Equal(t, `args=["--level","9"] parsedArgs=["--level","9"]`, result.Reason)
}

func TestRun_CliNonZeroExitIsData(t *testing.T) {
	doc, err := ParseDocument([]byte(`
id: exit.v1
flow:
  round:
    steps:
      - key: check
        type: cli
        command: check
        transitions:
          - condition:
              field: parsed.exitCode
              equals: 2
            outcome: check-failed
            reason: "exit {{parsed.exitCode}}"
        exits:
          - condition: always
            outcome: check-passed
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	runner := newRecordingRunner()
	runner.results["check"] = ProcessResult{ExitCode: 2, Stderr: "boom"}

	result := await(t, doc, Options{
		SessionDir: t.TempDir(),
		Sink:       provenance.Discard{},
		RunCLI:     runner.run,
	})

	assert.Equal(t, "check-failed", result.Outcome)
	assert.Equal(t, "exit 2", result.Reason)
}

func TestRun_CliWriteAppend(t *testing.T) {
	dir := t.TempDir()

	doc, err := ParseDocument([]byte(`
id: files.v1
parsers:
  freeform:
    type: unknown
roles:
  agent:
    systemPrompt: Confirm completion.
    parser: freeform
user:
  dir:
    type: string
flow:
  round:
    steps:
      - key: write
        type: cli
        command: sh
        args: ["-c", "printf 'hello from cli\n' > cli-output.txt"]
        cwd: "{{user.dir}}"
      - key: append
        type: cli
        command: sh
        args: ["-c", "printf 'cli step 2\n' >> cli-output.txt"]
        cwd: "{{user.dir}}"
      - key: confirm
        type: agent
        role: agent
        prompt: ["confirm"]
        exits:
          - condition:
              all:
                - field: steps.write.parsed.exitCode
                  equals: 0
                - field: steps.append.parsed.exitCode
                  equals: 0
                - field: parsed.ok
                  equals: true
            outcome: completed
          - condition: always
            outcome: failed
    maxRounds: 1
    defaultOutcome:
      outcome: exhausted
`))
	require.NoError(t, err)

	provider := newStubProvider()
	provider.reply("agent", `{"ok":true}`)

	result := await(t, doc, Options{
		User:       map[string]interface{}{"dir": dir},
		SessionDir: dir,
		Provider:   provider,
		Sink:       provenance.Discard{},
	})

	assert.Equal(t, "completed", result.Outcome)
	content, err := os.ReadFile(filepath.Join(dir, "cli-output.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from cli\ncli step 2\n", string(content))
}

func TestExecRunner_CapturesBinaryOutput(t *testing.T) {
	result, err := ExecRunner(context.Background(), ProcessRequest{
		Command: "sh",
		Args:    []string{"-c", `printf '%b' '\0000\0001\0002\0003\0004'`},
		Capture: CaptureBuffer,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03, 0x04}, result.StdoutBuffer)
	assert.Empty(t, result.Stdout)
}

func TestExecRunner_StdinRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x02, 0xff, 0x10}
	result, err := ExecRunner(context.Background(), ProcessRequest{
		Command:  "cat",
		Stdin:    payload,
		HasStdin: true,
		Capture:  CaptureBuffer,
	})
	require.NoError(t, err)
	assert.Equal(t, payload, result.StdoutBuffer)
}

func TestExecRunner_SpawnFailure(t *testing.T) {
	_, err := ExecRunner(context.Background(), ProcessRequest{
		Command: "definitely-not-a-real-binary-xyz",
	})
	require.Error(t, err)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	result, err := ExecRunner(context.Background(), ProcessRequest{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}
