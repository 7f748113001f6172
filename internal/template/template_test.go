package template

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	refreshErr    error
	available     []string
	cached        []string
	cacheOnAccept bool
	downloadErrs  []error
	downloads     int
}

func (f *fakeCatalog) RefreshTemplateCatalog(ctx context.Context) error {
	return f.refreshErr
}

func (f *fakeCatalog) AvailableTemplates(ctx context.Context) ([]string, error) {
	return f.available, nil
}

func (f *fakeCatalog) CachedTemplates(ctx context.Context, storage string) ([]string, error) {
	return f.cached, nil
}

func (f *fakeCatalog) DownloadTemplate(ctx context.Context, storage, filename string) error {
	f.downloads++
	if f.downloads <= len(f.downloadErrs) && f.downloadErrs[f.downloads-1] != nil {
		return f.downloadErrs[f.downloads-1]
	}
	if f.cacheOnAccept {
		f.cached = append(f.cached, filename)
	}
	return nil
}

func Test_Resolve(t *testing.T) {
	catalog := &fakeCatalog{
		available: []string{
			"ubuntu-22.04-standard_22.04-1_amd64.tar.zst",
			"debian-12-standard_12.7-1_amd64.tar.zst",
			"ubuntu-22.04-standard_22.04-2_amd64.tar.zst",
		},
	}
	resolver := New(Config{Catalog: catalog, Delay: time.Millisecond})

	t.Run("picks version-greatest match regardless of order", func(t *testing.T) {
		for range 5 {
			artifact, err := resolver.Resolve(context.Background(), "ubuntu", "22.04")
			require.NoError(t, err)
			assert.Equal(t, "ubuntu-22.04-standard_22.04-2_amd64.tar.zst", artifact.Filename)
		}
	})

	t.Run("no match", func(t *testing.T) {
		_, err := resolver.Resolve(context.Background(), "alpine", "3.20")
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("catalog unreachable", func(t *testing.T) {
		broken := New(Config{Catalog: &fakeCatalog{refreshErr: errors.New("timeout")}, Delay: time.Millisecond})
		_, err := broken.Resolve(context.Background(), "ubuntu", "22.04")
		assert.ErrorIs(t, err, ErrCatalogUnreachable)
	})
}

func Test_EnsureDownloaded(t *testing.T) {
	artifact, err := New(Config{Catalog: &fakeCatalog{
		available: []string{"ubuntu-22.04-standard_22.04-1_amd64.tar.zst"},
	}, Delay: time.Millisecond}).Resolve(context.Background(), "ubuntu", "22.04")
	require.NoError(t, err)

	t.Run("cached artifact is reused without download", func(t *testing.T) {
		catalog := &fakeCatalog{cached: []string{artifact.Filename}}
		resolver := New(Config{Catalog: catalog, Delay: time.Millisecond})

		downloaded, err := resolver.EnsureDownloaded(context.Background(), artifact, "local")
		require.NoError(t, err)
		assert.Equal(t, 0, catalog.downloads)
		assert.Equal(t, "local:vztmpl/"+artifact.Filename, downloaded.VolumeID())
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		catalog := &fakeCatalog{
			cacheOnAccept: true,
			downloadErrs:  []error{errors.New("timeout"), errors.New("timeout")},
		}
		resolver := New(Config{Catalog: catalog, Delay: time.Millisecond})

		_, err := resolver.EnsureDownloaded(context.Background(), artifact, "local")
		require.NoError(t, err)
		assert.Equal(t, 3, catalog.downloads)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		catalog := &fakeCatalog{
			downloadErrs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
		}
		resolver := New(Config{Catalog: catalog, Delay: time.Millisecond})

		_, err := resolver.EnsureDownloaded(context.Background(), artifact, "local")
		assert.ErrorIs(t, err, ErrDownloadFailed)
		assert.Equal(t, 3, catalog.downloads)
	})

	t.Run("zero exit without cached file is a failure", func(t *testing.T) {
		catalog := &fakeCatalog{}
		resolver := New(Config{Catalog: catalog, Delay: time.Millisecond})

		_, err := resolver.EnsureDownloaded(context.Background(), artifact, "local")
		assert.ErrorIs(t, err, ErrDownloadVerifyFailed)
	})
}
