package updater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveContainer() domain.ContainerDetails {
	return domain.ContainerDetails{
		ID:            "0123456789ab",
		Name:          "/lighthouse",
		Image:         "melih/lighthouse:v1.0.0",
		Env:           []string{"PORT=8080"},
		PortBindings:  map[string]string{"8080/tcp": "80"},
		RestartPolicy: domain.RestartPolicy{Name: "on-failure", MaximumRetryCount: 3},
		Running:       true,
	}
}

func TestBackupManager_Snapshot(t *testing.T) {
	rt := mocks.NewRuntime(liveContainer())
	b := NewBackupManager(rt)
	b.now = func() time.Time { return testNow }

	snap, err := b.Snapshot(context.Background(), domain.ContainerIdentity{ContainerName: "lighthouse"})
	require.NoError(t, err)
	assert.Equal(t, "lighthouse", snap.ContainerName)
	assert.Equal(t, "melih/lighthouse:v1.0.0", snap.Image)
	assert.Equal(t, testNow, snap.Timestamp)
	assert.Equal(t, "on-failure:3", snap.RestartPolicy.String())
	assert.Equal(t, []string{"inspect lighthouse"}, rt.Calls)
}

func TestBackupManager_SnapshotByID(t *testing.T) {
	c := liveContainer()
	c.Name = ""
	rt := mocks.NewRuntime(c)
	rt.Containers["0123456789ab"] = rt.Containers[""]

	snap, err := NewBackupManager(rt).Snapshot(context.Background(), domain.ContainerIdentity{ContainerID: "0123456789ab"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789ab", snap.ContainerName)
}

func TestBackupManager_MissingContainer(t *testing.T) {
	_, err := NewBackupManager(mocks.NewRuntime()).Snapshot(context.Background(), domain.ContainerIdentity{ContainerName: "ghost"})
	require.ErrorIs(t, err, domain.ErrContainerNotFound)
}

func TestRollback_NoSnapshot(t *testing.T) {
	err := NewRollbackManager(mocks.NewRuntime()).Restore(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestRollback_ReplacesOccupant(t *testing.T) {
	rt := mocks.NewRuntime(liveContainer())
	snap := domain.NewBackupSnapshot(liveContainer(), testNow)
	// A broken new version occupies the name.
	rt.Containers["lighthouse"] = domain.ContainerDetails{Name: "lighthouse", Image: "melih/lighthouse:v1.2.0", Running: true}

	require.NoError(t, NewRollbackManager(rt).Restore(context.Background(), snap))

	restored, ok := rt.Container("lighthouse")
	require.True(t, ok)
	assert.Equal(t, "melih/lighthouse:v1.0.0", restored.Image)
	assert.Equal(t, snap.RestartPolicy, restored.RestartPolicy)
	assert.Equal(t, []string{"stop lighthouse"}, rt.CallsWithPrefix("stop"))
	assert.Equal(t, []string{"rm lighthouse"}, rt.CallsWithPrefix("rm"))
	assert.Equal(t, []string{"run lighthouse melih/lighthouse:v1.0.0"}, rt.CallsWithPrefix("run"))
}

func TestRollback_EmptySlot(t *testing.T) {
	rt := mocks.NewRuntime(liveContainer())
	snap := domain.NewBackupSnapshot(liveContainer(), testNow)
	require.NoError(t, rt.RenameContainer(context.Background(), "lighthouse", "lighthouse_backup_1"))

	require.NoError(t, NewRollbackManager(rt).Restore(context.Background(), snap))
	_, ok := rt.Container("lighthouse")
	assert.True(t, ok)
}

func TestRollback_RecreateFailure(t *testing.T) {
	rt := mocks.NewRuntime(liveContainer())
	rt.StopErr = errors.New("stop timed out")
	rt.RunErr = func(domain.RunSpec) error { return errors.New("no space left on device") }
	snap := domain.NewBackupSnapshot(liveContainer(), testNow)

	err := NewRollbackManager(rt).Restore(context.Background(), snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop timed out")
	assert.Contains(t, err.Error(), "no space left on device")
}
