/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package runCmd executes external commands bound to a context and
// captures their output.
package runCmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultMaxOutput caps each captured stream
const DefaultMaxOutput = 1 << 20

// Result holds the outcome of a command that started
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
}

// Options control how a command runs
type Options struct {
	Stdin     string
	Dir       string
	Env       []string // Appended to the inherited environment when set
	MaxOutput int      // Per stream, DefaultMaxOutput when zero
}

// Run executes cmdAndArgs until it exits or ctx ends. A non-zero exit code
// is reported in Result, not as an error. The error is non-nil only when the
// command could not be started or ctx ended first.
func Run(ctx context.Context, opts Options, cmdAndArgs ...string) (Result, error) {
	if len(cmdAndArgs) == 0 {
		return Result{ExitCode: -1}, errors.New("no command provided")
	}

	limit := opts.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	stdout := &limitedBuffer{max: limit}
	stderr := &limitedBuffer{max: limit}

	cmd := exec.CommandContext(ctx, cmdAndArgs[0], cmdAndArgs[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = opts.Dir
	cmd.WaitDelay = 2 * time.Second
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	err := cmd.Run()

	res := Result{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, fmt.Errorf("failed to run %s: %w", cmdAndArgs[0], err)
	}
	return res, nil
}

// Script feeds body to shell on stdin. shell is a command line such as
// "/bin/sh -s" or "powershell.exe -NoProfile -NonInteractive -Command -".
func Script(ctx context.Context, shell string, body string, args []string, maxOutput int) (Result, error) {
	cmdAndArgs := strings.Fields(shell)
	if len(cmdAndArgs) == 0 {
		return Result{ExitCode: -1}, errors.New("no shell configured")
	}
	cmdAndArgs = append(cmdAndArgs, args...)
	return Run(ctx, Options{Stdin: body, MaxOutput: maxOutput}, cmdAndArgs...)
}

// Combined runs a command and returns stdout and stderr together. A non-zero
// exit code is an error.
//
//goland:noinspection GoUnusedExportedFunction
func Combined(ctx context.Context, cmdAndArgs ...string) (string, error) {
	res, err := Run(ctx, Options{}, cmdAndArgs...)
	out := res.Stdout + res.Stderr
	if err != nil {
		return out, err
	}
	if res.ExitCode != 0 {
		return out, fmt.Errorf("command %s failed with exit code %d: %s",
			cmdAndArgs[0], res.ExitCode, out)
	}
	return out, nil
}

// limitedBuffer keeps the first max bytes and discards the rest
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	room := l.max - l.buf.Len()
	if room <= 0 {
		l.truncated = len(p) > 0 || l.truncated
		return len(p), nil
	}
	if len(p) > room {
		l.buf.Write(p[:room])
		l.truncated = true
		return len(p), nil
	}
	l.buf.Write(p)
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	return l.buf.String()
}
