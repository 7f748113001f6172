package allocator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultIDFloor = 100

	// Proxmox's own VMID ceiling.
	MaxID = 999999999
)

var (
	ErrNoFreeID             = errors.New("no free container identifier below the host limit")
	ErrNoEligiblePool       = errors.New("no active rootfs-capable storage pool on this host")
	ErrPoolNotFound         = errors.New("storage pool not found")
	ErrPoolNotRootfsCapable = errors.New("storage pool cannot hold container root filesystems")
)

type InsufficientSpaceError struct {
	Pool   string
	HaveGB int
	NeedGB int
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space on pool %s: have %dGB, need %dGB", e.Pool, e.HaveGB, e.NeedGB)
}

//go:generate mockgen -source allocator.go -destination mocks/host_provider.go -package mocks
type HostProvider interface {
	NextIDHint(ctx context.Context) (int, error)
	ContainerExists(ctx context.Context, id int) (bool, error)
	VMExists(ctx context.Context, id int) (bool, error)
	StoragePools(ctx context.Context) ([]models.StoragePool, error)
}

type Config struct {
	Host      HostProvider
	SysfsRoot string
	ProcRoot  string
	Logger    zerolog.Logger
}

type Allocator struct {
	host      HostProvider
	sysfsRoot string
	procRoot  string
	log       zerolog.Logger
}

// NextContainerID returns the smallest identifier >= floor claimed by
// neither the container nor the VM registry. The host's own next-free
// hint is consulted first since it already answers with the smallest
// free identifier when available.
func (a *Allocator) NextContainerID(ctx context.Context, floor int) (int, error) {
	if floor < 1 {
		floor = DefaultIDFloor
	}

	if hint, err := a.host.NextIDHint(ctx); err == nil && hint >= floor {
		free, err := a.idFree(ctx, hint)
		if err != nil {
			return 0, err
		}
		if free {
			return hint, nil
		}
	}

	for id := floor; id <= MaxID; id++ {
		free, err := a.idFree(ctx, id)
		if err != nil {
			return 0, err
		}
		if free {
			return id, nil
		}
	}

	return 0, ErrNoFreeID
}

// ContainerIDFree reports whether neither the container nor the VM
// registry claims the identifier.
func (a *Allocator) ContainerIDFree(ctx context.Context, id int) (bool, error) {
	return a.idFree(ctx, id)
}

func (a *Allocator) idFree(ctx context.Context, id int) (bool, error) {
	container, err := a.host.ContainerExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check container registry: %w", err)
	}
	if container {
		return false, nil
	}

	vm, err := a.host.VMExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check vm registry: %w", err)
	}

	return !vm, nil
}

func (a *Allocator) EligibleStoragePools(ctx context.Context) ([]models.StoragePool, error) {
	pools, err := a.host.StoragePools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage pools: %w", err)
	}

	eligible := lo.Filter(pools, func(pool models.StoragePool, _ int) bool {
		return pool.Active && pool.RootfsCapable
	})

	if len(eligible) == 0 {
		return nil, ErrNoEligiblePool
	}

	return eligible, nil
}

func (a *Allocator) EligibleNetworkBridges() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.sysfsRoot, "class/net"))
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var bridges []string
	for _, entry := range entries {
		if _, err := os.Stat(filepath.Join(a.sysfsRoot, "class/net", entry.Name(), "bridge")); err == nil {
			bridges = append(bridges, entry.Name())
		}
	}

	sort.Strings(bridges)

	return bridges, nil
}

func (a *Allocator) ValidateStorageCapacity(ctx context.Context, pool string, requiredGB int) error {
	pools, err := a.host.StoragePools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list storage pools: %w", err)
	}

	found, ok := lo.Find(pools, func(p models.StoragePool) bool {
		return p.Name == pool
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}

	if !found.RootfsCapable {
		return fmt.Errorf("%w: %s", ErrPoolNotRootfsCapable, pool)
	}

	if found.AvailableGB() < requiredGB {
		return &InsufficientSpaceError{
			Pool:   pool,
			HaveGB: found.AvailableGB(),
			NeedGB: requiredGB,
		}
	}

	return nil
}

func (a *Allocator) HostMemoryMB() (int, error) {
	file, err := os.Open(filepath.Join(a.procRoot, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("failed to open meminfo: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}

		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse MemTotal: %w", err)
		}

		return int(kib / 1024), nil
	}

	return 0, errors.New("MemTotal not found in meminfo")
}

func New(config Config) *Allocator {
	sysfsRoot := config.SysfsRoot
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}

	procRoot := config.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	return &Allocator{
		host:      config.Host,
		sysfsRoot: sysfsRoot,
		procRoot:  procRoot,
		log:       config.Logger,
	}
}
