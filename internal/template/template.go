package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/internal/retry"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultDownloadAttempts = 3
	DefaultDownloadDelay    = 10 * time.Second
)

var (
	ErrCatalogUnreachable   = errors.New("template catalog unreachable")
	ErrTemplateNotFound     = errors.New("no template matches the requested os and version")
	ErrDownloadFailed       = errors.New("template download failed")
	ErrDownloadVerifyFailed = errors.New("template absent from cache after download")
)

type Catalog interface {
	RefreshTemplateCatalog(ctx context.Context) error
	AvailableTemplates(ctx context.Context) ([]string, error)
	CachedTemplates(ctx context.Context, storage string) ([]string, error)
	DownloadTemplate(ctx context.Context, storage, filename string) error
}

type Config struct {
	Catalog  Catalog
	Attempts int
	Delay    time.Duration
	Logger   zerolog.Logger
}

type Resolver struct {
	catalog  Catalog
	attempts int
	delay    time.Duration
	log      zerolog.Logger
}

// Resolve picks the version-greatest artifact matching the requested
// os and version token, so the same catalog always yields the same
// artifact regardless of listing order.
func (r *Resolver) Resolve(ctx context.Context, osName, version string) (models.TemplateArtifact, error) {
	if err := r.catalog.RefreshTemplateCatalog(ctx); err != nil {
		return models.TemplateArtifact{}, fmt.Errorf("%w: %v", ErrCatalogUnreachable, err)
	}

	available, err := r.catalog.AvailableTemplates(ctx)
	if err != nil {
		return models.TemplateArtifact{}, fmt.Errorf("%w: %v", ErrCatalogUnreachable, err)
	}

	token := fmt.Sprintf("%s-%s", strings.ToLower(osName), version)
	matches := lo.Filter(available, func(name string, _ int) bool {
		return strings.Contains(strings.ToLower(name), token)
	})

	if len(matches) == 0 {
		return models.TemplateArtifact{}, fmt.Errorf("%w: %s %s", ErrTemplateNotFound, osName, version)
	}

	sort.Strings(matches)
	filename := matches[len(matches)-1]

	r.log.Info().Str("filename", filename).Msg("resolved template")

	return models.TemplateArtifact{
		OS:       osName,
		Version:  version,
		Filename: filename,
	}, nil
}

func (r *Resolver) EnsureDownloaded(ctx context.Context, artifact models.TemplateArtifact, storage string) (models.TemplateArtifact, error) {
	artifact.Storage = storage

	cached, err := r.cached(ctx, artifact)
	if err != nil {
		return models.TemplateArtifact{}, err
	}
	if cached {
		r.log.Info().Str("filename", artifact.Filename).Msg("template already cached")
		return artifact, nil
	}

	err = retry.Do(ctx, r.attempts, r.delay, func() error {
		return r.catalog.DownloadTemplate(ctx, storage, artifact.Filename)
	})
	if err != nil {
		return models.TemplateArtifact{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	// A zero exit is not proof the artifact landed in the cache.
	cached, err = r.cached(ctx, artifact)
	if err != nil {
		return models.TemplateArtifact{}, err
	}
	if !cached {
		return models.TemplateArtifact{}, fmt.Errorf("%w: %s", ErrDownloadVerifyFailed, artifact.Filename)
	}

	return artifact, nil
}

func (r *Resolver) cached(ctx context.Context, artifact models.TemplateArtifact) (bool, error) {
	cached, err := r.catalog.CachedTemplates(ctx, artifact.Storage)
	if err != nil {
		return false, fmt.Errorf("failed to list template cache: %w", err)
	}

	return lo.Contains(cached, artifact.Filename), nil
}

// Preparer binds a resolver to the storage pool holding the template
// cache, collapsing resolve and download into the single step the
// provisioning pipeline runs.
type Preparer struct {
	resolver *Resolver
	storage  string
}

func (p *Preparer) Prepare(ctx context.Context, osName, version string) (string, error) {
	artifact, err := p.resolver.Resolve(ctx, osName, version)
	if err != nil {
		return "", err
	}

	artifact, err = p.resolver.EnsureDownloaded(ctx, artifact, p.storage)
	if err != nil {
		return "", err
	}

	return artifact.VolumeID(), nil
}

func NewPreparer(resolver *Resolver, storage string) *Preparer {
	return &Preparer{resolver: resolver, storage: storage}
}

func New(config Config) *Resolver {
	attempts := config.Attempts
	if attempts == 0 {
		attempts = DefaultDownloadAttempts
	}

	delay := config.Delay
	if delay == 0 {
		delay = DefaultDownloadDelay
	}

	return &Resolver{
		catalog:  config.Catalog,
		attempts: attempts,
		delay:    delay,
		log:      config.Logger,
	}
}
