package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/rs/zerolog"
)

type State int

const (
	Unconfigured State = iota
	Created
	Started
	BootReady
	NetworkReady
	Failed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Created:
		return "created"
	case Started:
		return "started"
	case BootReady:
		return "boot-ready"
	case NetworkReady:
		return "network-ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const DefaultPollInterval = time.Second

var (
	ErrBootTimeout       = errors.New("container did not become boot-ready in time")
	ErrNetworkTimeout    = errors.New("container did not reach the network in time")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

//go:generate mockgen -source lifecycle.go -destination mocks/backend.go -package mocks
type Backend interface {
	Create(ctx context.Context, spec models.ContainerSpec, templateRef string) error
	Start(ctx context.Context, spec models.ContainerSpec) error
	ShellReady(ctx context.Context, spec models.ContainerSpec) bool
	NetworkReady(ctx context.Context, spec models.ContainerSpec, endpoint string) bool
	AttachDataVolume(ctx context.Context, spec models.ContainerSpec) error
	Stop(ctx context.Context, spec models.ContainerSpec) error
	Remove(ctx context.Context, spec models.ContainerSpec) error
}

type Config struct {
	Backend      Backend
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Controller drives a single container through the strictly linear
// states Unconfigured -> Created -> Started -> BootReady ->
// NetworkReady. Any failed transition moves it to Failed;
// no transition is ever revisited.
type Controller struct {
	backend      Backend
	state        State
	pollInterval time.Duration
	log          zerolog.Logger
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Create(ctx context.Context, spec models.ContainerSpec, templateRef string) error {
	if err := c.require(Unconfigured); err != nil {
		return err
	}

	if err := c.backend.Create(ctx, spec, templateRef); err != nil {
		c.state = Failed
		return fmt.Errorf("failed to create container: %w", err)
	}

	c.state = Created
	c.log.Info().Int("id", spec.ID).Str("name", spec.Name).Msg("container created")

	return nil
}

func (c *Controller) Start(ctx context.Context, spec models.ContainerSpec) error {
	if err := c.require(Created); err != nil {
		return err
	}

	if err := c.backend.Start(ctx, spec); err != nil {
		c.state = Failed
		return fmt.Errorf("failed to start container: %w", err)
	}

	c.state = Started
	c.log.Info().Int("id", spec.ID).Msg("container started")

	return nil
}

// WaitBootReady polls until an interactive shell answers inside the
// container, failing closed once the timeout elapses.
func (c *Controller) WaitBootReady(ctx context.Context, spec models.ContainerSpec, timeout time.Duration) error {
	if err := c.require(Started); err != nil {
		return err
	}

	if err := c.poll(ctx, timeout, func(ctx context.Context) bool {
		return c.backend.ShellReady(ctx, spec)
	}); err != nil {
		c.state = Failed
		return fmt.Errorf("%w: waited %s: %w", ErrBootTimeout, timeout, err)
	}

	c.state = BootReady
	c.log.Info().Int("id", spec.ID).Msg("container boot-ready")

	return nil
}

// WaitNetworkReady declares readiness as soon as any one of the
// endpoints answers from inside the container, tolerating a single
// endpoint's own outage.
func (c *Controller) WaitNetworkReady(ctx context.Context, spec models.ContainerSpec, endpoints []string, timeout time.Duration) error {
	if err := c.require(BootReady); err != nil {
		return err
	}

	if err := c.poll(ctx, timeout, func(ctx context.Context) bool {
		for _, endpoint := range endpoints {
			if c.backend.NetworkReady(ctx, spec, endpoint) {
				return true
			}
		}
		return false
	}); err != nil {
		c.state = Failed
		return fmt.Errorf("%w: waited %s: %w", ErrNetworkTimeout, timeout, err)
	}

	c.state = NetworkReady
	c.log.Info().Int("id", spec.ID).Msg("container network-ready")

	return nil
}

func (c *Controller) AttachDataVolume(ctx context.Context, spec models.ContainerSpec) error {
	return c.backend.AttachDataVolume(ctx, spec)
}

// Destroy is best-effort cleanup for rollback: it runs during
// already-failing paths and swallows errors.
func (c *Controller) Destroy(ctx context.Context, spec models.ContainerSpec) {
	if err := c.backend.Stop(ctx, spec); err != nil {
		c.log.Warn().Err(err).Int("id", spec.ID).Msg("failed to stop container during rollback")
	}

	if err := c.backend.Remove(ctx, spec); err != nil {
		c.log.Warn().Err(err).Int("id", spec.ID).Msg("failed to remove container during rollback")
		return
	}

	c.log.Info().Int("id", spec.ID).Msg("container destroyed")
}

func (c *Controller) require(state State) error {
	if c.state != state {
		return fmt.Errorf("%w: in state %s", ErrInvalidTransition, c.state)
	}

	return nil
}

var errDeadlineElapsed = errors.New("deadline elapsed")

func (c *Controller) poll(ctx context.Context, timeout time.Duration, ready func(context.Context) bool) error {
	deadline := time.Now().Add(timeout)

	for {
		if ready(ctx) {
			return nil
		}

		if time.Now().After(deadline) {
			return errDeadlineElapsed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func New(config Config) *Controller {
	pollInterval := config.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}

	return &Controller{
		backend:      config.Backend,
		state:        Unconfigured,
		pollInterval: pollInterval,
		log:          config.Logger,
	}
}
