package proxmox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultQueryTimeout    = 30 * time.Second
	DefaultCreateTimeout   = 300 * time.Second
	DefaultStartTimeout    = 60 * time.Second
	DefaultStopTimeout     = 60 * time.Second
	DefaultExecTimeout     = 900 * time.Second
	DefaultDownloadTimeout = 900 * time.Second
)

type Executor interface {
	Execute(ctx context.Context, timeout time.Duration, command string, args ...string) (executor.Result, error)
}

type Timeouts struct {
	Query    time.Duration
	Create   time.Duration
	Start    time.Duration
	Stop     time.Duration
	Exec     time.Duration
	Download time.Duration
}

type Config struct {
	Executor Executor
	Timeouts Timeouts
	Logger   zerolog.Logger
}

type Client struct {
	executor Executor
	timeouts Timeouts
	log      zerolog.Logger
}

func (c *Client) NextIDHint(ctx context.Context) (int, error) {
	result, err := c.executor.Execute(ctx, c.timeouts.Query, "pvesh", "get", "/cluster/nextid")
	if err != nil {
		return 0, fmt.Errorf("failed to query next free id: %w", err)
	}

	id, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0, fmt.Errorf("failed to parse next free id: %w", err)
	}

	return id, nil
}

func (c *Client) ContainerExists(ctx context.Context, id int) (bool, error) {
	return c.registryHas(ctx, "pct", id)
}

func (c *Client) VMExists(ctx context.Context, id int) (bool, error) {
	return c.registryHas(ctx, "qm", id)
}

func (c *Client) registryHas(ctx context.Context, tool string, id int) (bool, error) {
	result, err := c.executor.Execute(ctx, c.timeouts.Query, tool, "status", strconv.Itoa(id))
	if err == nil {
		return true, nil
	}

	// Unknown identifiers exit non-zero with a missing-configuration
	// message. Any other failure (cluster hiccup, timeout) must not
	// read as a free identifier.
	if result.ExitCode != 0 && strings.Contains(result.Stderr, "does not exist") {
		return false, nil
	}

	return false, fmt.Errorf("failed to query %s registry for %d: %w: %s", tool, id, err, strings.TrimSpace(result.Stderr))
}

func (c *Client) StoragePools(ctx context.Context) ([]models.StoragePool, error) {
	status, err := c.executor.Execute(ctx, c.timeouts.Query, "pvesm", "status")
	if err != nil {
		return nil, fmt.Errorf("failed to query storage status: %w", err)
	}

	pools, err := parseStorageStatus(status.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse storage status: %w", err)
	}

	rootfs, err := c.executor.Execute(ctx, c.timeouts.Query, "pvesm", "status", "--content", "rootdir")
	if err != nil {
		return nil, fmt.Errorf("failed to query rootfs-capable storage: %w", err)
	}

	capable, err := parseStorageStatus(rootfs.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rootfs-capable storage: %w", err)
	}

	for i := range pools {
		for _, pool := range capable {
			if pools[i].Name == pool.Name {
				pools[i].RootfsCapable = true
				break
			}
		}
	}

	return pools, nil
}

func (c *Client) RefreshTemplateCatalog(ctx context.Context) error {
	if _, err := c.executor.Execute(ctx, c.timeouts.Query, "pveam", "update"); err != nil {
		return fmt.Errorf("failed to refresh template catalog: %w", err)
	}

	return nil
}

func (c *Client) AvailableTemplates(ctx context.Context) ([]string, error) {
	result, err := c.executor.Execute(ctx, c.timeouts.Query, "pveam", "available", "--section", "system")
	if err != nil {
		return nil, fmt.Errorf("failed to list available templates: %w", err)
	}

	return parseTemplateNames(result.Stdout), nil
}

func (c *Client) CachedTemplates(ctx context.Context, storage string) ([]string, error) {
	result, err := c.executor.Execute(ctx, c.timeouts.Query, "pveam", "list", storage)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached templates: %w", err)
	}

	return parseTemplateNames(result.Stdout), nil
}

func (c *Client) DownloadTemplate(ctx context.Context, storage, filename string) error {
	c.log.Info().Str("storage", storage).Str("template", filename).Msg("downloading template")

	if _, err := c.executor.Execute(ctx, c.timeouts.Download, "pveam", "download", storage, filename); err != nil {
		return fmt.Errorf("failed to download template: %w", err)
	}

	return nil
}

func (c *Client) Create(ctx context.Context, spec models.ContainerSpec, templateRef string) error {
	args := []string{
		"create", strconv.Itoa(spec.ID), templateRef,
		"--hostname", spec.Name,
		"--cores", strconv.Itoa(spec.Cores),
		"--memory", strconv.Itoa(spec.MemoryMB),
		"--rootfs", fmt.Sprintf("%s:%d", spec.StoragePool, spec.DiskGB),
		"--net0", fmt.Sprintf("name=eth0,bridge=%s,ip=dhcp", spec.Bridge),
	}

	if features := spec.Features.String(); features != "" {
		args = append(args, "--features", features)
	}

	if spec.Unprivileged {
		args = append(args, "--unprivileged", "1")
	}

	c.log.Info().Int("id", spec.ID).Str("template", templateRef).Msg("creating container")

	if _, err := c.executor.Execute(ctx, c.timeouts.Create, "pct", args...); err != nil {
		return fmt.Errorf("failed to create container %d: %w", spec.ID, err)
	}

	return nil
}

func (c *Client) Start(ctx context.Context, spec models.ContainerSpec) error {
	if _, err := c.executor.Execute(ctx, c.timeouts.Start, "pct", "start", strconv.Itoa(spec.ID)); err != nil {
		return fmt.Errorf("failed to start container %d: %w", spec.ID, err)
	}

	return nil
}

func (c *Client) ShellReady(ctx context.Context, spec models.ContainerSpec) bool {
	_, err := c.executor.Execute(ctx, c.timeouts.Query, "pct", "exec", strconv.Itoa(spec.ID), "--", "/bin/sh", "-c", "exit 0")
	return err == nil
}

func (c *Client) NetworkReady(ctx context.Context, spec models.ContainerSpec, endpoint string) bool {
	host, _, found := strings.Cut(endpoint, ":")
	if !found {
		host = endpoint
	}

	_, err := c.executor.Execute(ctx, c.timeouts.Query, "pct", "exec", strconv.Itoa(spec.ID), "--", "ping", "-c", "1", "-W", "2", host)
	return err == nil
}

func (c *Client) AttachDataVolume(ctx context.Context, spec models.ContainerSpec) error {
	mountpoint := fmt.Sprintf("%s:%d,mp=/data", spec.StoragePool, spec.DataVolumeGB)
	if _, err := c.executor.Execute(ctx, c.timeouts.Create, "pct", "set", strconv.Itoa(spec.ID), "--mp0", mountpoint); err != nil {
		return fmt.Errorf("failed to attach data volume to container %d: %w", spec.ID, err)
	}

	return nil
}

func (c *Client) Stop(ctx context.Context, spec models.ContainerSpec) error {
	if _, err := c.executor.Execute(ctx, c.timeouts.Stop, "pct", "stop", strconv.Itoa(spec.ID)); err != nil {
		return fmt.Errorf("failed to stop container %d: %w", spec.ID, err)
	}

	return nil
}

func (c *Client) Remove(ctx context.Context, spec models.ContainerSpec) error {
	if _, err := c.executor.Execute(ctx, c.timeouts.Stop, "pct", "destroy", strconv.Itoa(spec.ID), "--purge"); err != nil {
		return fmt.Errorf("failed to destroy container %d: %w", spec.ID, err)
	}

	return nil
}

func (c *Client) Exec(ctx context.Context, spec models.ContainerSpec, argv []string) (executor.Result, error) {
	args := append([]string{"exec", strconv.Itoa(spec.ID), "--"}, argv...)
	return c.executor.Execute(ctx, c.timeouts.Exec, "pct", args...)
}

func (c *Client) PushFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error {
	local, err := os.CreateTemp("", "labctl-push-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() { _ = os.Remove(local.Name()) }()

	if _, err := local.Write(data); err != nil {
		_ = local.Close()
		return fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := local.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if _, err := c.Exec(ctx, spec, []string{"mkdir", "-p", filepath.Dir(path)}); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	args := []string{
		"push", strconv.Itoa(spec.ID), local.Name(), path,
		"--perms", fmt.Sprintf("%o", mode.Perm()),
	}
	if _, err := c.executor.Execute(ctx, c.timeouts.Exec, "pct", args...); err != nil {
		return fmt.Errorf("failed to push file to container %d: %w", spec.ID, err)
	}

	return nil
}

func New(config Config) *Client {
	timeouts := config.Timeouts
	if timeouts.Query == 0 {
		timeouts.Query = DefaultQueryTimeout
	}
	if timeouts.Create == 0 {
		timeouts.Create = DefaultCreateTimeout
	}
	if timeouts.Start == 0 {
		timeouts.Start = DefaultStartTimeout
	}
	if timeouts.Stop == 0 {
		timeouts.Stop = DefaultStopTimeout
	}
	if timeouts.Exec == 0 {
		timeouts.Exec = DefaultExecTimeout
	}
	if timeouts.Download == 0 {
		timeouts.Download = DefaultDownloadTimeout
	}

	return &Client{
		executor: config.Executor,
		timeouts: timeouts,
		log:      config.Logger,
	}
}
