package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/models"
)

// LocalExecer runs setup commands directly on the host, giving the
// local target the same runner surface as a container.
type LocalExecer struct {
	executor Executor
	timeout  time.Duration
}

type Executor interface {
	Execute(ctx context.Context, timeout time.Duration, command string, args ...string) (executor.Result, error)
}

func (l *LocalExecer) Exec(ctx context.Context, _ models.ContainerSpec, argv []string) (executor.Result, error) {
	if len(argv) == 0 {
		return executor.Result{}, fmt.Errorf("empty command")
	}

	return l.executor.Execute(ctx, l.timeout, argv[0], argv[1:]...)
}

func (l *LocalExecer) PushFile(ctx context.Context, _ models.ContainerSpec, path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func NewLocalExecer(executor Executor, timeout time.Duration) *LocalExecer {
	return &LocalExecer{executor: executor, timeout: timeout}
}
