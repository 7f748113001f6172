package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/internal/retry"
	"github.com/rs/zerolog"
)

const (
	DefaultInstallAttempts = 3
	DefaultInstallDelay    = 5 * time.Second
)

type CommandFailedError struct {
	Description string
	ExitCode    int
	Stderr      string
	Err         error
}

func (e *CommandFailedError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if len(detail) > 200 {
		detail = detail[len(detail)-200:]
	}
	if detail == "" && e.Err != nil {
		// Transport-level failures carry no exit code or stderr.
		detail = e.Err.Error()
	}
	if detail != "" {
		return fmt.Sprintf("%s failed with exit code %d: %s", e.Description, e.ExitCode, detail)
	}
	return fmt.Sprintf("%s failed with exit code %d", e.Description, e.ExitCode)
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

//go:generate mockgen -source runner.go -destination mocks/execer.go -package mocks
type Execer interface {
	Exec(ctx context.Context, spec models.ContainerSpec, argv []string) (executor.Result, error)
	PushFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error
}

type Config struct {
	Execer          Execer
	InstallAttempts int
	InstallDelay    time.Duration
	Logger          zerolog.Logger
}

type Runner struct {
	execer          Execer
	installAttempts int
	installDelay    time.Duration
	log             zerolog.Logger
}

func (r *Runner) Run(ctx context.Context, spec models.ContainerSpec, argv []string, description string) error {
	r.log.Info().Str("step", description).Msg("running command")

	result, err := r.execer.Exec(ctx, spec, argv)
	if err != nil {
		return &CommandFailedError{
			Description: description,
			ExitCode:    result.ExitCode,
			Stderr:      result.Stderr,
			Err:         err,
		}
	}

	return nil
}

// InstallPackages installs packages strictly in order, retrying each
// one independently before escalating to a fatal failure.
func (r *Runner) InstallPackages(ctx context.Context, spec models.ContainerSpec, packages []string) error {
	for _, pkg := range packages {
		r.log.Info().Str("package", pkg).Msg("installing package")

		var result executor.Result
		err := retry.Do(ctx, r.installAttempts, r.installDelay, func() error {
			var execErr error
			result, execErr = r.execer.Exec(ctx, spec, []string{"apt-get", "install", "-y", pkg})
			return execErr
		})
		if err != nil {
			return &CommandFailedError{
				Description: fmt.Sprintf("install of package %s", pkg),
				ExitCode:    result.ExitCode,
				Stderr:      result.Stderr,
				Err:         err,
			}
		}
	}

	return nil
}

func (r *Runner) WriteFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error {
	if err := r.execer.PushFile(ctx, spec, path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func New(config Config) *Runner {
	attempts := config.InstallAttempts
	if attempts == 0 {
		attempts = DefaultInstallAttempts
	}

	delay := config.InstallDelay
	if delay == 0 {
		delay = DefaultInstallDelay
	}

	return &Runner{
		execer:          config.Execer,
		installAttempts: attempts,
		installDelay:    delay,
		log:             config.Logger,
	}
}
