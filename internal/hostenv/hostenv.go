package hostenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/devlab-cloud/labctl/internal/models"
	"golang.org/x/sync/errgroup"
)

const dockerPingTimeout = 3 * time.Second

var ErrWrongHostType = errors.New("host does not support the requested target")

type DockerPinger interface {
	Ping(ctx context.Context) error
}

type Report struct {
	Available []models.HostEnvironment
	Detail    map[models.HostEnvironment]string
}

func (r Report) Supports(env models.HostEnvironment) bool {
	for _, available := range r.Available {
		if available == env {
			return true
		}
	}

	return false
}

func (r Report) Require(env models.HostEnvironment) error {
	if !r.Supports(env) {
		return fmt.Errorf("%w: %s (%s)", ErrWrongHostType, env, r.Detail[env])
	}

	return nil
}

type Config struct {
	Root   string
	Docker DockerPinger
}

type Prober struct {
	root   string
	docker DockerPinger
}

// Probe is side-effect-free: it only stats marker files, looks up
// binaries and pings the Docker daemon. Absence is a normal result,
// and probe I/O errors degrade to "not found".
func (p *Prober) Probe(ctx context.Context) Report {
	report := Report{
		Available: []models.HostEnvironment{models.Local},
		Detail:    map[models.HostEnvironment]string{models.Local: "always available"},
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		available, detail := p.probeProxmox()
		mu.Lock()
		defer mu.Unlock()
		report.Detail[models.ProxmoxLXC] = detail
		if available {
			report.Available = append(report.Available, models.ProxmoxLXC)
		}
		return nil
	})

	eg.Go(func() error {
		available, detail := p.probeDocker(ctx)
		mu.Lock()
		defer mu.Unlock()
		report.Detail[models.Docker] = detail
		if available {
			report.Available = append(report.Available, models.Docker)
		}
		return nil
	})

	_ = eg.Wait()

	return report
}

func (p *Prober) probeProxmox() (bool, string) {
	marker := filepath.Join(p.root, "etc/pve/.version")
	if _, err := os.Stat(marker); err == nil {
		return true, "found " + marker
	}

	if path, err := exec.LookPath("pct"); err == nil {
		return true, "found " + path
	}

	return false, "no Proxmox VE markers found"
}

func (p *Prober) probeDocker(ctx context.Context) (bool, string) {
	if p.docker == nil {
		return false, "docker client unavailable"
	}

	ctx, cancel := context.WithTimeout(ctx, dockerPingTimeout)
	defer cancel()

	if err := p.docker.Ping(ctx); err != nil {
		return false, "daemon unreachable: " + err.Error()
	}

	return true, "daemon reachable"
}

func New(config Config) *Prober {
	root := config.Root
	if root == "" {
		root = "/"
	}

	return &Prober{
		root:   root,
		docker: config.Docker,
	}
}
