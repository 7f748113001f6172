package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/devlab-cloud/labctl/internal/executor"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/internal/network"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
)

const sshPort = nat.Port("22/tcp")

type Config struct {
	Client   client.APIClient
	Progress func(description string, bytes int64)
	Logger   zerolog.Logger
}

type Backend struct {
	docker   client.APIClient
	progress func(description string, bytes int64)
	log      zerolog.Logger
}

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.docker.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping docker daemon: %w", err)
	}

	return nil
}

// ImageRef maps a requested os and version onto the canonical
// library image reference.
func ImageRef(osName, version string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(osName), version)
}

func (b *Backend) PullImage(ctx context.Context, ref string) error {
	stream, err := b.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer func() { _ = stream.Close() }()

	reader := io.Reader(stream)
	if b.progress != nil {
		reader = &countingReader{
			reader:      stream,
			description: "pulling " + ref,
			report:      b.progress,
		}
	}

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull stream for %s: %w", ref, err)
	}

	// The stream completing is not proof the image landed locally.
	if _, err := b.docker.ImageInspect(ctx, ref); err != nil {
		return fmt.Errorf("failed to verify pulled image %s: %w", ref, err)
	}

	return nil
}

func (b *Backend) ImageCached(ctx context.Context, ref string) bool {
	_, err := b.docker.ImageInspect(ctx, ref)
	return err == nil
}

func (b *Backend) Prepare(ctx context.Context, osName, version string) (string, error) {
	ref := ImageRef(osName, version)

	if b.ImageCached(ctx, ref) {
		b.log.Info().Str("image", ref).Msg("image already cached")
		return ref, nil
	}

	if err := b.PullImage(ctx, ref); err != nil {
		return "", err
	}

	return ref, nil
}

func (b *Backend) Create(ctx context.Context, spec models.ContainerSpec, templateRef string) error {
	port := strconv.Itoa(network.ForwardedSSHPort(spec.ID))

	containerCfg := &container.Config{
		Image:    templateRef,
		Hostname: spec.Name,
		Cmd:      []string{"sleep", "infinity"},
		ExposedPorts: nat.PortSet{
			sshPort: struct{}{},
		},
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.Cores) * 1e9,
			Memory:   int64(spec.MemoryMB) << 20,
		},
		PortBindings: nat.PortMap{
			sshPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: port}},
		},
	}

	if spec.DataVolumeGB > 0 {
		hostCfg.Mounts = []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: dataVolumeName(spec),
				Target: "/data",
			},
		}
	}

	if _, err := b.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name); err != nil {
		return fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	return nil
}

func (b *Backend) Start(ctx context.Context, spec models.ContainerSpec) error {
	if err := b.docker.ContainerStart(ctx, spec.Name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	return nil
}

func (b *Backend) ShellReady(ctx context.Context, spec models.ContainerSpec) bool {
	_, err := b.Exec(ctx, spec, []string{"/bin/sh", "-c", "exit 0"})
	return err == nil
}

func (b *Backend) NetworkReady(ctx context.Context, spec models.ContainerSpec, endpoint string) bool {
	result, err := b.Exec(ctx, spec, networkProbeArgv(endpoint))
	return err == nil && result.ExitCode == 0
}

// networkProbeArgv probes with bash's /dev/tcp redirection because
// stock images such as ubuntu:22.04 ship no ping binary.
func networkProbeArgv(endpoint string) []string {
	host, port, found := strings.Cut(endpoint, ":")
	if !found {
		host, port = endpoint, "443"
	}

	return []string{"/bin/bash", "-c", fmt.Sprintf("exec 3<>/dev/tcp/%s/%s", host, port)}
}

func (b *Backend) AttachDataVolume(ctx context.Context, spec models.ContainerSpec) error {
	// The named volume is mounted at creation time; nothing to attach.
	return nil
}

func (b *Backend) Stop(ctx context.Context, spec models.ContainerSpec) error {
	if err := b.docker.ContainerStop(ctx, spec.Name, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", spec.Name, err)
	}

	return nil
}

func (b *Backend) Remove(ctx context.Context, spec models.ContainerSpec) error {
	err := b.docker.ContainerRemove(ctx, spec.Name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", spec.Name, err)
	}

	if spec.DataVolumeGB > 0 {
		if err := b.docker.VolumeRemove(ctx, dataVolumeName(spec), true); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to remove data volume of %s: %w", spec.Name, err)
		}
	}

	return nil
}

func (b *Backend) Exec(ctx context.Context, spec models.ContainerSpec, argv []string) (executor.Result, error) {
	created, err := b.docker.ContainerExecCreate(ctx, spec.Name, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return executor.Result{}, fmt.Errorf("failed to create exec in %s: %w", spec.Name, err)
	}

	attach, err := b.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return executor.Result{}, fmt.Errorf("failed to attach exec in %s: %w", spec.Name, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return executor.Result{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	info, err := b.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return executor.Result{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	result := executor.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: info.ExitCode,
	}

	if info.ExitCode != 0 {
		return result, fmt.Errorf("failed to run %v in %s: exit code %d", argv, spec.Name, info.ExitCode)
	}

	return result, nil
}

func (b *Backend) PushFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Name:    strings.TrimPrefix(path, "/"),
		Mode:    int64(mode.Perm()),
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar archive: %w", err)
	}

	if _, err := b.Exec(ctx, spec, []string{"mkdir", "-p", filepath.Dir(path)}); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	err := b.docker.CopyToContainer(ctx, spec.Name, "/", &buf, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy file into %s: %w", spec.Name, err)
	}

	return nil
}

func dataVolumeName(spec models.ContainerSpec) string {
	return spec.Name + "-data"
}

type countingReader struct {
	reader      io.Reader
	description string
	report      func(description string, bytes int64)
	total       int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.total += int64(n)
	r.report(r.description, r.total)
	return n, err
}

func New(config Config) *Backend {
	return &Backend{
		docker:   config.Client,
		progress: config.Progress,
		log:      config.Logger,
	}
}
