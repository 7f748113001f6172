package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

var ErrTimeout = errors.New("command timed out")

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Executor struct {
	log zerolog.Logger
}

func (e *Executor) Execute(ctx context.Context, timeout time.Duration, command string, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	e.log.Debug().
		Str("command", command).
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("executed command")

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("%w: %s after %s", ErrTimeout, command, timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("failed to run %s: exit code %d", command, result.ExitCode)
		}

		return result, fmt.Errorf("failed to run %s: %w", command, err)
	}

	return result, nil
}

func New(log zerolog.Logger) *Executor {
	return &Executor{log: log}
}
