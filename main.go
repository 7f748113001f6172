package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/devlab-cloud/labctl/config"
	"github.com/devlab-cloud/labctl/internal/allocator"
	"github.com/devlab-cloud/labctl/internal/docker"
	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/hostenv"
	"github.com/devlab-cloud/labctl/internal/hostlock"
	"github.com/devlab-cloud/labctl/internal/lifecycle"
	"github.com/devlab-cloud/labctl/internal/logging"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/internal/network"
	"github.com/devlab-cloud/labctl/internal/pipeline"
	"github.com/devlab-cloud/labctl/internal/proxmox"
	"github.com/devlab-cloud/labctl/internal/report"
	"github.com/devlab-cloud/labctl/internal/runner"
	"github.com/devlab-cloud/labctl/internal/setup"
	"github.com/devlab-cloud/labctl/internal/template"
	"github.com/devlab-cloud/labctl/internal/ui"
	"github.com/devlab-cloud/labctl/internal/wizard"
	dockerclient "github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	exitValidation = 2
	exitTemplate   = 3
	exitCreation   = 4
	exitSetup      = 5
	exitCancelled  = 130
)

var (
	configPath    string
	targetFlag    string
	auto          bool
	keepOnFailure bool
	quiet         bool
	verbosity     int
)

var rootCmd = &cobra.Command{
	Use:           "labctl",
	Short:         "Provision development environments on Proxmox, Docker or the local machine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new development environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(cmd.Context())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the validation checks without provisioning anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.Context())
	},
}

var environmentsCmd = &cobra.Command{
	Use:   "environments",
	Short: "Show which provisioning targets this host supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvironments(cmd.Context())
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <id|name>",
	Short: "Stop and remove a provisioned container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDestroy(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a labctl config file")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "Provisioning target (local, proxmox, docker)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity")
	provisionCmd.Flags().BoolVar(&auto, "auto", false, "Accept defaults and environment overrides, skip all prompts")
	provisionCmd.Flags().BoolVar(&keepOnFailure, "keep-on-failure", false, "Never destroy a partially provisioned container")
	provisionCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress progress output")
	rootCmd.AddCommand(provisionCmd, validateCmd, environmentsCmd, destroyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(ctx, err))
	}
}

func exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitCancelled
	}

	if errors.Is(err, hostenv.ErrWrongHostType) || errors.Is(err, pipeline.ErrNotPrivileged) {
		return exitValidation
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case models.StageValidation:
			return exitValidation
		case models.StageTemplateDownload:
			return exitTemplate
		case models.StageContainerCreation:
			return exitCreation
		case models.StageContainerSetup:
			return exitSetup
		}
	}

	return 1
}

func runProvision(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, logPath, err := logging.Setup(verbosity, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	terminal := ui.New(quiet)
	envs := probe(ctx)

	spec := specFromConfig(cfg)
	target := models.Local
	if auto || targetFlag != "" {
		target, err = pickTarget(envs)
		if err != nil {
			return err
		}
	} else {
		spec, target, err = wizard.Run(ctx, spec, envs.Available)
		if err != nil {
			return err
		}
	}

	if err := wizard.ValidateName(spec.Name); err != nil {
		return err
	}

	plan, err := setup.LoadPlan(cfg.Paths.Plan)
	if err != nil {
		return err
	}

	p, spec, err := buildPipeline(ctx, cfg, spec, target, terminal, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("target", target.String()).
		Str("name", spec.Name).
		Int("id", spec.ID).
		Msg("starting provisioning")

	result, err := p.Run(ctx, spec, plan)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			terminal.Failure(stageErr.Stage.String(), stageErr.Err.Error(), stageErr.Hint)
		}
		log.Error().Err(err).Msg("provisioning failed")

		return err
	}

	result.LogPath = logPath

	reporter, err := report.New(cfg.Paths.LogDir)
	if err != nil {
		return err
	}

	if _, err := reporter.Write(result); err != nil {
		log.Warn().Err(err).Msg("failed to write run result")
	}

	summary, err := reporter.Render(result)
	if err != nil {
		return err
	}
	terminal.Summary(summary)

	return nil
}

// buildPipeline wires the backend matching the chosen target. It also
// fills in the parts of the spec that can only be decided against a
// live host, so the returned spec is the one to provision with.
func buildPipeline(
	ctx context.Context,
	cfg config.Config,
	spec models.ContainerSpec,
	target models.HostEnvironment,
	terminal *ui.Terminal,
	log zerolog.Logger,
) (*pipeline.Pipeline, models.ContainerSpec, error) {
	pipelineCfg := pipeline.Config{
		Target:         target,
		Observer:       terminal,
		Logger:         logging.Component(log, "pipeline"),
		MemoryPolicy:   cfg.Policies.MemoryCheck,
		Endpoints:      cfg.Policies.ProbeEndpoints,
		BootTimeout:    cfg.Timeouts.Boot,
		NetworkTimeout: cfg.Timeouts.Network,
		ConnectTimeout: cfg.Timeouts.Connect,
	}
	if !auto && !keepOnFailure {
		pipelineCfg.ConfirmDestroy = wizard.ConfirmDestroy(spec.Name, spec.ID)
	}
	if keepOnFailure {
		pipelineCfg.ConfirmDestroy = func() bool { return false }
	}

	var execer runner.Execer

	switch target {
	case models.ProxmoxLXC:
		client := proxmox.New(proxmox.Config{
			Executor: executor.New(logging.Component(log, "executor")),
			Timeouts: proxmox.Timeouts{
				Query:    30 * time.Second,
				Create:   cfg.Timeouts.Create,
				Start:    cfg.Timeouts.Start,
				Stop:     cfg.Timeouts.Start,
				Exec:     cfg.Timeouts.Download,
				Download: cfg.Timeouts.Download,
			},
			Logger: logging.Component(log, "proxmox"),
		})
		alloc := allocator.New(allocator.Config{
			Host:   client,
			Logger: logging.Component(log, "allocator"),
		})

		var err error
		if spec, err = completeSpec(ctx, spec, alloc); err != nil {
			return nil, spec, err
		}

		resolver := template.New(template.Config{
			Catalog: client,
			Logger:  logging.Component(log, "template"),
		})

		pipelineCfg.Allocator = alloc
		pipelineCfg.Templates = template.NewPreparer(resolver, spec.StoragePool)
		pipelineCfg.Lifecycle = lifecycle.New(lifecycle.Config{
			Backend: client,
			Logger:  logging.Component(log, "lifecycle"),
		})
		pipelineCfg.Lock = hostlock.NewFileLocker(cfg.Paths.LockFile)
		execer = client

	case models.Docker:
		client, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, spec, fmt.Errorf("failed to create docker client: %w", err)
		}

		backend := docker.New(docker.Config{
			Client:   client,
			Progress: terminal.Progress,
			Logger:   logging.Component(log, "docker"),
		})

		pipelineCfg.Templates = backend
		pipelineCfg.Lifecycle = lifecycle.New(lifecycle.Config{
			Backend: backend,
			Logger:  logging.Component(log, "lifecycle"),
		})
		execer = backend

	case models.Local:
		execer = runner.NewLocalExecer(
			executor.New(logging.Component(log, "executor")),
			cfg.Timeouts.Download,
		)
	}

	run := runner.New(runner.Config{
		Execer: execer,
		Logger: logging.Component(log, "runner"),
	})

	configurator, err := setup.New(setup.Config{
		Runner:   run,
		Observer: terminal,
		Target:   target,
		Port:     network.ForwardedSSHPort(spec.ID),
		Logger:   logging.Component(log, "setup"),
	})
	if err != nil {
		return nil, spec, err
	}
	pipelineCfg.Setup = configurator

	return pipeline.New(pipelineCfg), spec, nil
}

// completeSpec fills the identifier, storage pool and bridge that
// depend on host state. In auto mode the first eligible candidate
// wins; otherwise the wizard asks.
func completeSpec(ctx context.Context, spec models.ContainerSpec, alloc *allocator.Allocator) (models.ContainerSpec, error) {
	if spec.ID == 0 {
		id, err := alloc.NextContainerID(ctx, allocator.DefaultIDFloor)
		if err != nil {
			return spec, err
		}
		spec.ID = id
	}

	if spec.StoragePool == "" {
		pools, err := alloc.EligibleStoragePools(ctx)
		if err != nil {
			return spec, err
		}

		if auto {
			spec.StoragePool = pools[0].Name
		} else {
			spec.StoragePool, err = wizard.SelectStoragePool(ctx, pools)
			if err != nil {
				return spec, err
			}
		}
	}

	if !auto {
		bridges, err := alloc.EligibleNetworkBridges()
		if err != nil {
			return spec, err
		}

		spec.Bridge, err = wizard.SelectBridge(ctx, bridges, spec.Bridge)
		if err != nil {
			return spec, err
		}
	}

	return spec, nil
}

func runValidate(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Setup(verbosity, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if !network.AnyReachable(ctx, cfg.Policies.ProbeEndpoints, cfg.Timeouts.Connect) {
		return fmt.Errorf("none of %v is reachable from this host", cfg.Policies.ProbeEndpoints)
	}
	fmt.Println("connectivity: ok")

	envs := probe(ctx)
	target, err := pickTarget(envs)
	if err != nil {
		return err
	}
	fmt.Printf("target %s: usable\n", target)

	if target != models.ProxmoxLXC {
		return nil
	}

	client := proxmox.New(proxmox.Config{
		Executor: executor.New(logging.Component(log, "executor")),
		Timeouts: proxmox.Timeouts{Query: 30 * time.Second},
		Logger:   logging.Component(log, "proxmox"),
	})
	alloc := allocator.New(allocator.Config{Host: client, Logger: logging.Component(log, "allocator")})

	spec := specFromConfig(cfg)
	if spec.ID != 0 {
		free, err := alloc.ContainerIDFree(ctx, spec.ID)
		if err != nil {
			return err
		}
		if !free {
			return fmt.Errorf("container id %d is already in use", spec.ID)
		}
		fmt.Printf("container id %d: free\n", spec.ID)
	}

	pools, err := alloc.EligibleStoragePools(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("eligible storage pools: %d\n", len(pools))

	bridges, err := alloc.EligibleNetworkBridges()
	if err != nil {
		return err
	}
	fmt.Printf("network bridges: %v\n", bridges)

	return nil
}

func runEnvironments(ctx context.Context) error {
	envs := probe(ctx)
	for _, env := range []models.HostEnvironment{models.Local, models.ProxmoxLXC, models.Docker} {
		marker := " "
		if envs.Supports(env) {
			marker = "*"
		}
		fmt.Printf("%s %-8s %s\n", marker, env, envs.Detail[env])
	}

	return nil
}

func runDestroy(ctx context.Context, target string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Setup(verbosity, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if id, convErr := strconv.Atoi(target); convErr == nil {
		client := proxmox.New(proxmox.Config{
			Executor: executor.New(logging.Component(log, "executor")),
			Timeouts: proxmox.Timeouts{
				Query: 30 * time.Second,
				Stop:  cfg.Timeouts.Start,
			},
			Logger: logging.Component(log, "proxmox"),
		})

		return destroyContainer(ctx, client, models.ContainerSpec{ID: id}, log)
	}

	client, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}

	backend := docker.New(docker.Config{Client: client, Logger: logging.Component(log, "docker")})

	return destroyContainer(ctx, backend, models.ContainerSpec{Name: target}, log)
}

func destroyContainer(ctx context.Context, backend lifecycle.Backend, spec models.ContainerSpec, log zerolog.Logger) error {
	if err := backend.Stop(ctx, spec); err != nil {
		log.Warn().Err(err).Msg("failed to stop container, removing anyway")
	}

	if err := backend.Remove(ctx, spec); err != nil {
		return err
	}

	fmt.Println("container removed")

	return nil
}

func probe(ctx context.Context) hostenv.Report {
	proberCfg := hostenv.Config{}
	if client, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()); err == nil {
		proberCfg.Docker = docker.New(docker.Config{Client: client})
	}

	return hostenv.New(proberCfg).Probe(ctx)
}

func pickTarget(envs hostenv.Report) (models.HostEnvironment, error) {
	if targetFlag == "" {
		return models.Local, nil
	}

	target, err := models.ParseHostEnvironment(targetFlag)
	if err != nil {
		return models.Local, err
	}

	if err := envs.Require(target); err != nil {
		return models.Local, err
	}

	return target, nil
}

func specFromConfig(cfg config.Config) models.ContainerSpec {
	return models.ContainerSpec{
		ID:           cfg.Container.ID,
		Name:         cfg.Container.Name,
		Cores:        cfg.Container.Cores,
		MemoryMB:     cfg.Container.MemoryMB,
		DiskGB:       cfg.Container.DiskGB,
		DataVolumeGB: cfg.Container.DataVolumeGB,
		StoragePool:  cfg.Container.StoragePool,
		Bridge:       cfg.Container.Bridge,
		Template: models.TemplateArtifact{
			OS:      cfg.Template.OS,
			Version: cfg.Template.Version,
		},
		Features: models.Features{
			Nesting: cfg.Container.Nesting,
			Keyctl:  cfg.Container.Keyctl,
			FUSE:    cfg.Container.FUSE,
		},
		Unprivileged: cfg.Container.Unprivileged,
	}
}
