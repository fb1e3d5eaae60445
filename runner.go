package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// TimeoutExitCode is reported when a command exceeds its deadline, matching
// the convention of coreutils timeout(1).
const TimeoutExitCode = 124

// RunShell executes command through a shell so pipelines and quoting work,
// and captures stdout/stderr separately. On deadline expiry the process gets
// a SIGINT, the call returns TimeoutExitCode and a stderr describing the
// timeout; it never blocks past the deadline. Retrying is the caller's job.
func RunShell(command string, timeout time.Duration) (int, string, string) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Cancel = func() error {
		// Graceful interrupt first; CommandContext falls back to Kill via
		// WaitDelay if the process ignores it.
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return TimeoutExitCode, stdout.String(), fmt.Sprintf("Timeout after %s for: %s", timeout, command)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), stderr.String()
		}
		// Shell missing or not startable; surface it like a failed command.
		return 127, stdout.String(), err.Error()
	}
	return 0, stdout.String(), stderr.String()
}

// Which resolves a command name on PATH, returning "" when absent.
func Which(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
