package workflow

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/hyperagent/hyperagent/pkg/errors"
)

// killGracePeriod is how long a cancelled child process gets to exit
// after SIGTERM before it is killed.
const killGracePeriod = 5 * time.Second

// ExecRunner is the default ProcessRunner backed by os/exec. Stdin is
// written to completion before output collection finishes; a non-zero
// exit code is returned as data. Cancellation sends SIGTERM and
// escalates to SIGKILL after a grace period.
func ExecRunner(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	cmd := exec.Command(req.Command, req.Args...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if req.HasStdin {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ProcessResult{}, &errors.CliError{Command: req.Command, Cause: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			_ = cmd.Process.Kill()
			<-done
		}
		return ProcessResult{}, ctx.Err()
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return ProcessResult{}, &errors.CliError{Command: req.Command, Cause: waitErr}
		}
		exitCode = exitErr.ExitCode()
	}

	result := ProcessResult{ExitCode: exitCode}
	switch req.Capture {
	case CaptureBuffer:
		result.StdoutBuffer = stdout.Bytes()
		result.StderrBuffer = stderr.Bytes()
	case CaptureBoth:
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.StdoutBuffer = stdout.Bytes()
		result.StderrBuffer = stderr.Bytes()
	default:
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
	}
	return result, nil
}
