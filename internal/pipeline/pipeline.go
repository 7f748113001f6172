package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/internal/network"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	MemoryPolicyWarn = "warn"
	MemoryPolicyFail = "fail"
)

var (
	ErrIDInUse        = errors.New("container identifier already in use")
	ErrBridgeNotFound = errors.New("network bridge not found on this host")
	ErrMemoryLow      = errors.New("host memory below the requested container memory")
	ErrHostOffline    = errors.New("host has no outbound connectivity")
	ErrNotPrivileged  = errors.New("proxmox provisioning requires root")
)

type StageError struct {
	Stage models.Stage
	Hint  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Observer interface {
	StageStarted(stage models.Stage)
	StepStarted(description string)
	StepCompleted(description string)
	Warning(message string)
}

type NopObserver struct{}

func (NopObserver) StageStarted(models.Stage) {}
func (NopObserver) StepStarted(string)        {}
func (NopObserver) StepCompleted(string)      {}
func (NopObserver) Warning(string)            {}

type Allocator interface {
	ContainerIDFree(ctx context.Context, id int) (bool, error)
	ValidateStorageCapacity(ctx context.Context, pool string, requiredGB int) error
	EligibleNetworkBridges() ([]string, error)
	HostMemoryMB() (int, error)
}

type TemplatePreparer interface {
	Prepare(ctx context.Context, osName, version string) (string, error)
}

type Lifecycle interface {
	Create(ctx context.Context, spec models.ContainerSpec, templateRef string) error
	Start(ctx context.Context, spec models.ContainerSpec) error
	WaitBootReady(ctx context.Context, spec models.ContainerSpec, timeout time.Duration) error
	WaitNetworkReady(ctx context.Context, spec models.ContainerSpec, endpoints []string, timeout time.Duration) error
	AttachDataVolume(ctx context.Context, spec models.ContainerSpec) error
	Destroy(ctx context.Context, spec models.ContainerSpec)
}

type Configurator interface {
	Configure(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error
}

type Locker interface {
	Acquire() (release func(), err error)
}

type nopLock struct{}

func (nopLock) Acquire() (func(), error) {
	return func() {}, nil
}

type Config struct {
	Target         models.HostEnvironment
	Allocator      Allocator
	Templates      TemplatePreparer
	Lifecycle      Lifecycle
	Setup          Configurator
	Lock           Locker
	Observer       Observer
	Logger         zerolog.Logger
	MemoryPolicy   string
	Endpoints      []string
	BootTimeout    time.Duration
	NetworkTimeout time.Duration
	ConnectTimeout time.Duration
	ConfirmDestroy func() bool
	Reachable      func(ctx context.Context, endpoints []string, timeout time.Duration) bool
	Euid           func() int
}

type Pipeline struct {
	target         models.HostEnvironment
	allocator      Allocator
	templates      TemplatePreparer
	lifecycle      Lifecycle
	setup          Configurator
	lock           Locker
	observer       Observer
	log            zerolog.Logger
	memoryPolicy   string
	endpoints      []string
	bootTimeout    time.Duration
	networkTimeout time.Duration
	connectTimeout time.Duration
	confirmDestroy func() bool
	reachable      func(ctx context.Context, endpoints []string, timeout time.Duration) bool
	euid           func() int

	stage   models.Stage
	created bool
}

// Run drives the whole provisioning workflow. Stages are strictly
// forward; the first error aborts everything after rollback handling.
func (p *Pipeline) Run(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) (models.RunResult, error) {
	if p.target == models.Local {
		return p.runLocal(ctx, spec, plan)
	}

	result, err := p.run(ctx, spec, plan)
	if err != nil {
		p.rollback(ctx, spec)
		return models.RunResult{}, p.stageError(err)
	}

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) (models.RunResult, error) {
	p.enter(models.StageValidation)
	if err := p.validate(ctx, spec); err != nil {
		return models.RunResult{}, err
	}

	p.enter(models.StageTemplateDownload)
	p.observer.StepStarted("template download")
	templateRef, err := p.templates.Prepare(ctx, spec.Template.OS, spec.Template.Version)
	if err != nil {
		return models.RunResult{}, err
	}
	p.observer.StepCompleted("template download")

	p.enter(models.StageContainerCreation)
	if err := p.create(ctx, spec, templateRef); err != nil {
		return models.RunResult{}, err
	}

	p.enter(models.StageContainerSetup)
	if err := p.setup.Configure(ctx, spec, plan); err != nil {
		return models.RunResult{}, err
	}

	return p.result(spec, plan), nil
}

func (p *Pipeline) runLocal(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) (models.RunResult, error) {
	p.enter(models.StageValidation)
	if err := p.checkConnectivity(ctx); err != nil {
		return models.RunResult{}, p.stageError(err)
	}

	p.enter(models.StageContainerSetup)
	if err := p.setup.Configure(ctx, spec, plan); err != nil {
		return models.RunResult{}, p.stageError(err)
	}

	return p.result(spec, plan), nil
}

func (p *Pipeline) validate(ctx context.Context, spec models.ContainerSpec) error {
	if err := p.checkConnectivity(ctx); err != nil {
		return err
	}

	if p.target == models.Docker {
		if spec.Name == "" {
			return errors.New("container name must not be empty")
		}
		return nil
	}

	// pct and pvesm only answer for root.
	if p.euid() != 0 {
		return ErrNotPrivileged
	}

	p.observer.StepStarted("host validation")

	free, err := p.allocator.ContainerIDFree(ctx, spec.ID)
	if err != nil {
		return err
	}
	if !free {
		return fmt.Errorf("%w: %d", ErrIDInUse, spec.ID)
	}

	if err := p.allocator.ValidateStorageCapacity(ctx, spec.StoragePool, spec.RequiredGB()); err != nil {
		return err
	}

	bridges, err := p.allocator.EligibleNetworkBridges()
	if err != nil {
		return err
	}
	if !lo.Contains(bridges, spec.Bridge) {
		return fmt.Errorf("%w: %s", ErrBridgeNotFound, spec.Bridge)
	}

	if err := p.checkMemory(spec); err != nil {
		return err
	}

	p.observer.StepCompleted("host validation")

	return nil
}

func (p *Pipeline) checkConnectivity(ctx context.Context) error {
	if !p.reachable(ctx, p.endpoints, p.connectTimeout) {
		return ErrHostOffline
	}

	return nil
}

func (p *Pipeline) checkMemory(spec models.ContainerSpec) error {
	hostMB, err := p.allocator.HostMemoryMB()
	if err != nil {
		p.observer.Warning("could not determine host memory: " + err.Error())
		return nil
	}

	if hostMB >= spec.MemoryMB {
		return nil
	}

	if p.memoryPolicy == MemoryPolicyFail {
		return fmt.Errorf("%w: host has %dMB, requested %dMB", ErrMemoryLow, hostMB, spec.MemoryMB)
	}

	p.observer.Warning(fmt.Sprintf("host has %dMB memory, container requests %dMB", hostMB, spec.MemoryMB))

	return nil
}

func (p *Pipeline) create(ctx context.Context, spec models.ContainerSpec, templateRef string) error {
	// The identifier check and creation run under the host lock to
	// close the check-then-act window against concurrent invocations.
	release, err := p.lock.Acquire()
	if err != nil {
		return err
	}

	p.observer.StepStarted("container create")

	if p.target == models.ProxmoxLXC {
		free, err := p.allocator.ContainerIDFree(ctx, spec.ID)
		if err != nil {
			release()
			return err
		}
		if !free {
			release()
			return fmt.Errorf("%w: %d", ErrIDInUse, spec.ID)
		}
	}

	if err := p.lifecycle.Create(ctx, spec, templateRef); err != nil {
		release()
		return err
	}

	p.created = true
	release()
	p.observer.StepCompleted("container create")

	p.observer.StepStarted("container start")
	if err := p.lifecycle.Start(ctx, spec); err != nil {
		return err
	}
	p.observer.StepCompleted("container start")

	p.observer.StepStarted("boot readiness")
	if err := p.lifecycle.WaitBootReady(ctx, spec, p.bootTimeout); err != nil {
		return err
	}
	p.observer.StepCompleted("boot readiness")

	p.observer.StepStarted("network readiness")
	if err := p.lifecycle.WaitNetworkReady(ctx, spec, p.endpoints, p.networkTimeout); err != nil {
		return err
	}
	p.observer.StepCompleted("network readiness")

	if spec.DataVolumeGB > 0 {
		if err := p.lifecycle.AttachDataVolume(ctx, spec); err != nil {
			// Degrades the environment but does not prevent usability.
			p.observer.Warning("data volume attach failed: " + err.Error())
			p.log.Warn().Err(err).Msg("continuing without data volume")
		}
	}

	return nil
}

func (p *Pipeline) rollback(ctx context.Context, spec models.ContainerSpec) {
	if !p.created {
		return
	}

	if p.confirmDestroy != nil && !p.confirmDestroy() {
		p.log.Info().Int("id", spec.ID).Msg("keeping partially provisioned container")
		return
	}

	p.observer.Warning(fmt.Sprintf("rolling back container %d", spec.ID))
	p.lifecycle.Destroy(context.WithoutCancel(ctx), spec)
}

func (p *Pipeline) enter(stage models.Stage) {
	p.stage = stage
	p.observer.StageStarted(stage)
	p.log.Info().Str("stage", stage.String()).Msg("entering stage")
}

func (p *Pipeline) stageError(err error) error {
	return &StageError{
		Stage: p.stage,
		Hint:  hintFor(p.stage, p.target),
		Err:   err,
	}
}

func (p *Pipeline) result(spec models.ContainerSpec, plan models.SetupPlan) models.RunResult {
	result := models.RunResult{
		Target:      p.target.String(),
		Name:        spec.Name,
		ID:          spec.ID,
		Cores:       spec.Cores,
		MemoryMB:    spec.MemoryMB,
		DiskGB:      spec.DiskGB,
		User:        plan.User.Name,
		CompletedAt: time.Now(),
	}

	if p.target != models.Local {
		result.ForwardedPort = network.ForwardedSSHPort(spec.ID)
	}

	return result
}

func hintFor(stage models.Stage, target models.HostEnvironment) string {
	switch stage {
	case models.StageValidation:
		return "check storage with 'pvesm status' and bridges under /sys/class/net"
	case models.StageTemplateDownload:
		if target == models.Docker {
			return "check the image reference and daemon connectivity with 'docker pull'"
		}
		return "refresh the catalog with 'pveam update' and check the storage pool"
	case models.StageContainerCreation:
		return "inspect the container with 'pct status <id>' and the host syslog"
	case models.StageContainerSetup:
		if target == models.Docker {
			return "inspect the container with 'docker exec -it <name> sh'"
		}
		return "enter the container with 'pct enter <id>' and inspect apt logs"
	}
	return ""
}

func New(config Config) *Pipeline {
	observer := config.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	memoryPolicy := config.MemoryPolicy
	if memoryPolicy == "" {
		memoryPolicy = MemoryPolicyWarn
	}

	endpoints := config.Endpoints
	if len(endpoints) == 0 {
		endpoints = network.DefaultEndpoints
	}

	lock := config.Lock
	if lock == nil {
		lock = nopLock{}
	}

	euid := config.Euid
	if euid == nil {
		euid = os.Geteuid
	}

	reachable := config.Reachable
	if reachable == nil {
		reachable = network.AnyReachable
	}

	return &Pipeline{
		target:         config.Target,
		allocator:      config.Allocator,
		templates:      config.Templates,
		lifecycle:      config.Lifecycle,
		setup:          config.Setup,
		lock:           lock,
		observer:       observer,
		log:            config.Logger,
		memoryPolicy:   memoryPolicy,
		endpoints:      endpoints,
		bootTimeout:    config.BootTimeout,
		networkTimeout: config.NetworkTimeout,
		connectTimeout: config.ConnectTimeout,
		confirmDestroy: config.ConfirmDestroy,
		reachable:      reachable,
		euid:           euid,
	}
}
