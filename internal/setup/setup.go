package setup

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"text/template"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/rs/zerolog"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type CommandRunner interface {
	Run(ctx context.Context, spec models.ContainerSpec, argv []string, description string) error
	InstallPackages(ctx context.Context, spec models.ContainerSpec, packages []string) error
	WriteFile(ctx context.Context, spec models.ContainerSpec, path string, data []byte, mode os.FileMode) error
}

type Observer interface {
	StepStarted(description string)
	StepCompleted(description string)
}

type Config struct {
	Runner   CommandRunner
	Observer Observer
	Target   models.HostEnvironment
	Port     int
	Logger   zerolog.Logger
}

type Setup struct {
	runner    CommandRunner
	observer  Observer
	target    models.HostEnvironment
	port      int
	templates *template.Template
	log       zerolog.Logger
}

// Configure runs the ordered, idempotent setup steps inside the
// target. Every step is fatal on failure; retries live inside the
// runner's package installer only.
func (s *Setup) Configure(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	steps := []struct {
		description string
		run         func(context.Context, models.ContainerSpec, models.SetupPlan) error
	}{
		{"system update", s.systemUpdate},
		{"package install", s.installPackages},
		{"node toolchain", s.nodeToolchain},
		{"user setup", s.createUser},
		{"ssh keys", s.sshKeys},
		{"gpg key", s.gpgKey},
		{"dotfiles", s.dotfiles},
		{"service manifest", s.serviceManifest},
		{"project files", s.projectFiles},
	}

	for _, step := range steps {
		s.observer.StepStarted(step.description)
		if err := step.run(ctx, spec, plan); err != nil {
			return fmt.Errorf("failed during %s: %w", step.description, err)
		}
		s.observer.StepCompleted(step.description)
	}

	return nil
}

func (s *Setup) systemUpdate(ctx context.Context, spec models.ContainerSpec, _ models.SetupPlan) error {
	if err := s.runner.Run(ctx, spec, []string{"apt-get", "update"}, "apt index update"); err != nil {
		return err
	}

	return s.runner.Run(ctx, spec, []string{"apt-get", "upgrade", "-y"}, "system upgrade")
}

func (s *Setup) installPackages(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	return s.runner.InstallPackages(ctx, spec, plan.Packages)
}

func (s *Setup) nodeToolchain(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	if err := s.runner.InstallPackages(ctx, spec, []string{"nodejs", "npm"}); err != nil {
		return err
	}

	if len(plan.NPMPackages) == 0 {
		return nil
	}

	argv := append([]string{"npm", "install", "-g"}, plan.NPMPackages...)

	return s.runner.Run(ctx, spec, argv, "npm global install")
}

func (s *Setup) createUser(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	script := fmt.Sprintf("id -u %[1]s >/dev/null 2>&1 || useradd -m -s /bin/bash %[1]s", plan.User.Name)

	return s.runner.Run(ctx, spec, []string{"/bin/sh", "-c", script}, "user creation")
}

func (s *Setup) sshKeys(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	keys, err := GenerateKeyPair(fmt.Sprintf("%s@%s", plan.User.Name, spec.Name))
	if err != nil {
		return err
	}

	home := s.home(plan)

	if err := s.runner.WriteFile(ctx, spec, path.Join(home, ".ssh/authorized_keys"), keys.AuthorizedKey, 0600); err != nil {
		return err
	}

	if err := s.runner.WriteFile(ctx, spec, path.Join(home, ".ssh/id_ed25519"), keys.PrivatePEM, 0600); err != nil {
		return err
	}

	return s.chown(ctx, spec, plan, path.Join(home, ".ssh"))
}

func (s *Setup) gpgKey(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	script := fmt.Sprintf(
		"su - %s -c 'gpg --list-secret-keys --with-colons | grep -q sec || gpg --batch --quick-gen-key \"%s <%s>\" ed25519 sign 0'",
		plan.User.Name, plan.User.Name, plan.User.Email,
	)

	return s.runner.Run(ctx, spec, []string{"/bin/sh", "-c", script}, "gpg key generation")
}

func (s *Setup) dotfiles(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	home := s.home(plan)

	for _, dotfile := range plan.Dotfiles {
		rendered, err := s.render(dotfile.Template, map[string]any{"User": plan.User})
		if err != nil {
			return err
		}

		if err := s.runner.WriteFile(ctx, spec, path.Join(home, dotfile.Path), rendered, 0644); err != nil {
			return err
		}

		if err := s.chown(ctx, spec, plan, path.Join(home, dotfile.Path)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Setup) serviceManifest(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	if len(plan.Services) == 0 {
		return nil
	}

	manifest, err := json.MarshalIndent(plan.Services, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal service manifest: %w", err)
	}

	target := path.Join(s.home(plan), ".config/labctl/services.json")
	if err := s.runner.WriteFile(ctx, spec, target, manifest, 0644); err != nil {
		return err
	}

	return s.chown(ctx, spec, plan, path.Join(s.home(plan), ".config"))
}

func (s *Setup) projectFiles(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan) error {
	rendered, err := s.render("readme.md.tmpl", map[string]any{
		"Name":   spec.Name,
		"Target": s.target.String(),
		"User":   plan.User,
		"Port":   s.port,
	})
	if err != nil {
		return err
	}

	target := path.Join(s.home(plan), "README.md")
	if err := s.runner.WriteFile(ctx, spec, target, rendered, 0644); err != nil {
		return err
	}

	return s.chown(ctx, spec, plan, target)
}

func (s *Setup) render(name string, data any) ([]byte, error) {
	buf := &strings.Builder{}
	if err := s.templates.ExecuteTemplate(buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return []byte(buf.String()), nil
}

func (s *Setup) chown(ctx context.Context, spec models.ContainerSpec, plan models.SetupPlan, target string) error {
	argv := []string{"chown", "-R", fmt.Sprintf("%s:%s", plan.User.Name, plan.User.Name), target}

	return s.runner.Run(ctx, spec, argv, "ownership of "+target)
}

func (s *Setup) home(plan models.SetupPlan) string {
	return "/home/" + plan.User.Name
}

func New(config Config) (*Setup, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse setup templates: %w", err)
	}

	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Setup{
		runner:    config.Runner,
		observer:  observer,
		target:    config.Target,
		port:      config.Port,
		templates: templates,
		log:       config.Logger,
	}, nil
}

type nopObserver struct{}

func (nopObserver) StepStarted(string)   {}
func (nopObserver) StepCompleted(string) {}
