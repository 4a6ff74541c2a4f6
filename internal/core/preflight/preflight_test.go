package preflight

import (
	"context"
	"errors"
	"testing"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeCheck struct {
	name  string
	err   error
	calls *[]string
}

func (f fakeCheck) Name() string { return f.name }

func (f fakeCheck) Run(context.Context) error {
	*f.calls = append(*f.calls, f.name)
	return f.err
}

func TestChecker_StopsAtFirstFailure(t *testing.T) {
	var calls []string
	boom := errors.New("daemon down")
	c := NewChecker(
		fakeCheck{name: "one", calls: &calls},
		fakeCheck{name: "two", err: boom, calls: &calls},
		fakeCheck{name: "three", calls: &calls},
	)

	err := c.Run(context.Background())
	var pfErr *domain.PreflightError
	require.ErrorAs(t, err, &pfErr)
	assert.Equal(t, "two", pfErr.Check)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"one", "two"}, calls)
}

func TestChecker_AllPass(t *testing.T) {
	var calls []string
	c := NewChecker(fakeCheck{name: "one", calls: &calls}, fakeCheck{name: "two", calls: &calls})
	require.NoError(t, c.Run(context.Background()))
	assert.Len(t, calls, 2)
}

func statfsReturning(blocks, avail uint64) func(string, *unix.Statfs_t) error {
	return func(_ string, st *unix.Statfs_t) error {
		st.Blocks = blocks
		st.Bavail = avail
		st.Bsize = 4096
		return nil
	}
}

func TestDiskSpace(t *testing.T) {
	tests := []struct {
		name    string
		blocks  uint64
		avail   uint64
		wantErr string
	}{
		{name: "plenty of room", blocks: 1000, avail: 500},
		{name: "exactly at limit", blocks: 1000, avail: 100},
		{name: "over limit", blocks: 1000, avail: 50, wantErr: "95.0%"},
		{name: "zero sized", blocks: 0, avail: 0, wantErr: "zero size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDiskSpace("/", 0.9)
			d.statfs = statfsReturning(tt.blocks, tt.avail)
			err := d.Run(context.Background())
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiskSpace_StatError(t *testing.T) {
	d := NewDiskSpace("/missing", 0)
	assert.Equal(t, DefaultMaxDiskUsage, d.MaxUsage)
	d.statfs = func(string, *unix.Statfs_t) error { return unix.ENOENT }
	err := d.Run(context.Background())
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestDiskSpace_RealFilesystem(t *testing.T) {
	d := NewDiskSpace(t.TempDir(), 1)
	require.NoError(t, d.Run(context.Background()))
}

func TestRuntimeCheck(t *testing.T) {
	rt := mocks.NewRuntime()
	require.NoError(t, NewRuntime(rt).Run(context.Background()))
	assert.Equal(t, []string{"version", "ps"}, rt.Calls)

	rt = mocks.NewRuntime()
	rt.VersionErr = errors.New("Cannot connect to the Docker daemon")
	err := NewRuntime(rt).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Empty(t, rt.CallsWithPrefix("ps"))
}

func TestRegistryCheck(t *testing.T) {
	lister := mocks.NewTagLister("v1.0.0", "v1.1.0")
	require.NoError(t, NewRegistry(lister, "melih/lighthouse").Run(context.Background()))

	lister.Err = &domain.NetworkError{Cause: domain.CauseConnectionRefused}
	err := NewRegistry(lister, "melih/lighthouse").Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
