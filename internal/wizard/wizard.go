package wizard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/samber/lo"
)

var nameRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

var (
	ErrInvalidName = errors.New("name must be 1-63 lowercase alphanumeric characters or hyphens")
	ErrNoTargets   = errors.New("no provisioning targets available")
)

// Run collects the container specification interactively, starting
// from the configured defaults.
func Run(ctx context.Context, defaults models.ContainerSpec, targets []models.HostEnvironment) (models.ContainerSpec, models.HostEnvironment, error) {
	if len(targets) == 0 {
		return models.ContainerSpec{}, models.Local, ErrNoTargets
	}

	target := targets[0]
	if len(targets) > 1 {
		options := lo.Map(targets, func(env models.HostEnvironment, _ int) huh.Option[models.HostEnvironment] {
			return huh.NewOption(env.String(), env)
		})

		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[models.HostEnvironment]().
					Title("Provisioning Target").
					Description("Where should the environment be created?").
					Options(options...).
					Value(&target),
			).Title("Target"),
		).RunWithContext(ctx)
		if err != nil {
			return models.ContainerSpec{}, models.Local, fmt.Errorf("failed to select target: %w", err)
		}
	}

	spec := defaults
	if target == models.Local {
		return spec, target, nil
	}

	cores := strconv.Itoa(defaults.Cores)
	memory := strconv.Itoa(defaults.MemoryMB)
	disk := strconv.Itoa(defaults.DiskGB)

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Container Name").
				Placeholder(defaults.Name).
				Value(&spec.Name).
				Validate(ValidateName),
			huh.NewInput().
				Title("CPU Cores").
				Value(&cores).
				Validate(validateIntRange(1, 128)),
			huh.NewInput().
				Title("Memory (MB)").
				Value(&memory).
				Validate(validateIntRange(128, 1<<20)),
			huh.NewInput().
				Title("Disk (GB)").
				Value(&disk).
				Validate(validateIntRange(4, 1<<14)),
		).Title("Resources"),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Unprivileged container?").
				Value(&spec.Unprivileged),
			huh.NewConfirm().
				Title("Enable nesting?").
				Value(&spec.Features.Nesting),
			huh.NewConfirm().
				Title("Enable keyctl?").
				Value(&spec.Features.Keyctl),
			huh.NewConfirm().
				Title("Enable FUSE?").
				Value(&spec.Features.FUSE),
		).Title("Features"),
	).RunWithContext(ctx)
	if err != nil {
		return models.ContainerSpec{}, target, fmt.Errorf("failed to collect container spec: %w", err)
	}

	spec.Cores, _ = strconv.Atoi(cores)
	spec.MemoryMB, _ = strconv.Atoi(memory)
	spec.DiskGB, _ = strconv.Atoi(disk)
	if spec.Name == "" {
		spec.Name = defaults.Name
	}

	return spec, target, nil
}

// SelectStoragePool asks which eligible pool to use, preserving the
// host-reported order.
func SelectStoragePool(ctx context.Context, pools []models.StoragePool) (string, error) {
	if len(pools) == 1 {
		return pools[0].Name, nil
	}

	options := lo.Map(pools, func(pool models.StoragePool, _ int) huh.Option[string] {
		label := fmt.Sprintf("%s (%s, %dGB free)", pool.Name, pool.Type, pool.AvailableGB())
		return huh.NewOption(label, pool.Name)
	})

	var selected string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage Pool").
				Options(options...).
				Value(&selected),
		),
	).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to select storage pool: %w", err)
	}

	return selected, nil
}

func SelectBridge(ctx context.Context, bridges []string, fallback string) (string, error) {
	if len(bridges) == 0 {
		return fallback, nil
	}
	if len(bridges) == 1 {
		return bridges[0], nil
	}

	selected := bridges[0]
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Network Bridge").
				Options(huh.NewOptions(bridges...)...).
				Value(&selected),
		),
	).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to select bridge: %w", err)
	}

	return selected, nil
}

func ConfirmDestroy(name string, id int) func() bool {
	return func() bool {
		destroy := true
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Destroy partially provisioned container %s (%d)?", name, id)).
					Value(&destroy),
			),
		).Run()
		if err != nil {
			return true
		}

		return destroy
	}
}

func ValidateName(name string) error {
	if name == "" {
		return nil
	}
	if !nameRegex.MatchString(name) {
		return ErrInvalidName
	}

	return nil
}

func validateIntRange(min, max int) func(string) error {
	return func(value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.New("must be a number")
		}
		if n < min || n > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}

		return nil
	}
}
