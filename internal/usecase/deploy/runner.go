package deploy

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// CommandResult is the captured outcome of one external process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs name with args inside dir. A non-nil error means the
// process could not start, exited non-zero or was killed by ctx.
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) (CommandResult, error)

// processWaitDelay bounds how long Wait blocks on inherited pipes after the
// process was killed.
const processWaitDelay = 5 * time.Second

func execCommand(ctx context.Context, dir string, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = processWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}
