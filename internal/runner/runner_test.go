package runner

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	failuresPerPackage map[string]int
	attempts           map[string]int
	execErr            error
	exitCode           int
}

func (f *fakeExecer) Exec(ctx context.Context, spec models.ContainerSpec, argv []string) (executor.Result, error) {
	if f.execErr != nil {
		return executor.Result{ExitCode: f.exitCode}, f.execErr
	}

	pkg := argv[len(argv)-1]
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[pkg]++

	if f.attempts[pkg] <= f.failuresPerPackage[pkg] {
		return executor.Result{ExitCode: 100, Stderr: "E: Unable to fetch"}, errors.New("exit code 100")
	}

	return executor.Result{}, nil
}

func (f *fakeExecer) PushFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error {
	return nil
}

var spec = models.ContainerSpec{ID: 101, Name: "devbox"}

func Test_Run(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := New(Config{Execer: &fakeExecer{}, InstallDelay: time.Millisecond})
		assert.NoError(t, r.Run(context.Background(), spec, []string{"apt-get", "update"}, "system update"))
	})

	t.Run("non-zero exit is fatal", func(t *testing.T) {
		r := New(Config{Execer: &fakeExecer{execErr: errors.New("exit code 2"), exitCode: 2}, InstallDelay: time.Millisecond})
		err := r.Run(context.Background(), spec, []string{"apt-get", "update"}, "system update")

		var failed *CommandFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, 2, failed.ExitCode)
		assert.Equal(t, "system update", failed.Description)
	})

	t.Run("transport failure keeps its cause", func(t *testing.T) {
		cause := errors.New("exec attach: connection reset")
		r := New(Config{Execer: &fakeExecer{execErr: cause}, InstallDelay: time.Millisecond})
		err := r.Run(context.Background(), spec, []string{"apt-get", "update"}, "system update")

		var failed *CommandFailedError
		require.ErrorAs(t, err, &failed)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func Test_InstallPackages(t *testing.T) {
	t.Run("third attempt succeeds without escalation", func(t *testing.T) {
		execer := &fakeExecer{failuresPerPackage: map[string]int{"git": 2}}
		r := New(Config{Execer: execer, InstallDelay: time.Millisecond})

		err := r.InstallPackages(context.Background(), spec, []string{"git", "curl"})
		require.NoError(t, err)
		assert.Equal(t, 3, execer.attempts["git"])
		assert.Equal(t, 1, execer.attempts["curl"])
	})

	t.Run("three failures escalate exactly once", func(t *testing.T) {
		execer := &fakeExecer{failuresPerPackage: map[string]int{"git": 5}}
		r := New(Config{Execer: execer, InstallDelay: time.Millisecond})

		err := r.InstallPackages(context.Background(), spec, []string{"git", "curl"})

		var failed *CommandFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, 3, execer.attempts["git"])
		assert.Equal(t, 0, execer.attempts["curl"])
	})
}
