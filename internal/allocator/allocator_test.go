package allocator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/devlab-cloud/labctl/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	hint     int
	hintErr  error
	usedIDs  map[int]bool
	usedVMs  map[int]bool
	pools    []models.StoragePool
	poolsErr error
}

func (f *fakeHost) NextIDHint(ctx context.Context) (int, error) {
	if f.hintErr != nil {
		return 0, f.hintErr
	}
	return f.hint, nil
}

func (f *fakeHost) ContainerExists(ctx context.Context, id int) (bool, error) {
	return f.usedIDs[id], nil
}

func (f *fakeHost) VMExists(ctx context.Context, id int) (bool, error) {
	return f.usedVMs[id], nil
}

func (f *fakeHost) StoragePools(ctx context.Context) ([]models.StoragePool, error) {
	return f.pools, f.poolsErr
}

func Test_NextContainerID(t *testing.T) {
	noHint := errors.New("pvesh not available")

	testCases := []struct {
		name     string
		host     *fakeHost
		floor    int
		expected int
	}{
		{
			name:     "floor is free",
			host:     &fakeHost{hintErr: noHint, usedIDs: map[int]bool{}},
			floor:    100,
			expected: 100,
		},
		{
			name:     "skips used containers and vms",
			host:     &fakeHost{hintErr: noHint, usedIDs: map[int]bool{100: true, 101: true}, usedVMs: map[int]bool{102: true}},
			floor:    100,
			expected: 103,
		},
		{
			name:     "hint below floor is ignored",
			host:     &fakeHost{hint: 50, usedIDs: map[int]bool{}},
			floor:    200,
			expected: 200,
		},
		{
			name:     "occupied hint falls back to scan",
			host:     &fakeHost{hint: 100, usedIDs: map[int]bool{100: true}},
			floor:    100,
			expected: 101,
		},
		{
			name:     "free hint is trusted",
			host:     &fakeHost{hint: 105, usedIDs: map[int]bool{}},
			floor:    100,
			expected: 105,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(Config{Host: tc.host})
			actual, err := a.NextContainerID(context.Background(), tc.floor)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func Test_EligibleStoragePools(t *testing.T) {
	testCases := []struct {
		name     string
		pools    []models.StoragePool
		expected []string
		wantErr  error
	}{
		{
			name: "filters inactive and non-rootfs pools",
			pools: []models.StoragePool{
				{Name: "local", Active: true, RootfsCapable: false},
				{Name: "local-lvm", Active: true, RootfsCapable: true},
				{Name: "backup", Active: false, RootfsCapable: true},
			},
			expected: []string{"local-lvm"},
		},
		{
			name: "no eligible pool is an explicit error",
			pools: []models.StoragePool{
				{Name: "iso-store", Active: true, RootfsCapable: false},
			},
			wantErr: ErrNoEligiblePool,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(Config{Host: &fakeHost{pools: tc.pools}})
			actual, err := a.EligibleStoragePools(context.Background())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)

			names := make([]string, 0, len(actual))
			for _, pool := range actual {
				names = append(names, pool.Name)
			}
			assert.Equal(t, tc.expected, names)
		})
	}
}

func Test_ValidateStorageCapacity(t *testing.T) {
	pools := []models.StoragePool{
		{Name: "local-lvm", Active: true, RootfsCapable: true, AvailableKiB: utils.GBToKiB(60)},
		{Name: "iso-store", Active: true, RootfsCapable: false, AvailableKiB: utils.GBToKiB(500)},
	}
	a := New(Config{Host: &fakeHost{pools: pools}})

	t.Run("exact fit passes", func(t *testing.T) {
		assert.NoError(t, a.ValidateStorageCapacity(context.Background(), "local-lvm", 60))
	})

	t.Run("one over fails with have and need", func(t *testing.T) {
		err := a.ValidateStorageCapacity(context.Background(), "local-lvm", 61)
		var insufficient *InsufficientSpaceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 60, insufficient.HaveGB)
		assert.Equal(t, 61, insufficient.NeedGB)
	})

	t.Run("disk plus data volume", func(t *testing.T) {
		err := a.ValidateStorageCapacity(context.Background(), "local-lvm", 20+50)
		var insufficient *InsufficientSpaceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 60, insufficient.HaveGB)
		assert.Equal(t, 70, insufficient.NeedGB)
	})

	t.Run("unknown pool", func(t *testing.T) {
		assert.ErrorIs(t, a.ValidateStorageCapacity(context.Background(), "missing", 10), ErrPoolNotFound)
	})

	t.Run("non-rootfs pool", func(t *testing.T) {
		assert.ErrorIs(t, a.ValidateStorageCapacity(context.Background(), "iso-store", 10), ErrPoolNotRootfsCapable)
	})
}

func Test_EligibleNetworkBridges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class/net/vmbr0/bridge"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class/net/vmbr1/bridge"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class/net/eth0"), 0755))

	a := New(Config{Host: &fakeHost{}, SysfsRoot: root})
	bridges, err := a.EligibleNetworkBridges()
	require.NoError(t, err)
	assert.Equal(t, []string{"vmbr0", "vmbr1"}, bridges)
}

func Test_HostMemoryMB(t *testing.T) {
	root := t.TempDir()
	meminfo := "MemTotal:       16303412 kB\nMemFree:         1069744 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0644))

	a := New(Config{Host: &fakeHost{}, ProcRoot: root})
	actual, err := a.HostMemoryMB()
	require.NoError(t, err)
	assert.Equal(t, 15921, actual)
}
