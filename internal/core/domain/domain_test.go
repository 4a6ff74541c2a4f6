package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSpec_Args(t *testing.T) {
	spec := RunSpec{
		Name:  "lighthouse",
		Image: "melih/lighthouse:v1.2.0",
		Env:   []string{"TZ=UTC", "PORT=3000"},
		PortBindings: map[string]string{
			"3000/tcp": "8080",
			"9090/tcp": "",
		},
		Mounts: []VolumeMount{
			{Type: "bind", Source: "/srv/media", Destination: "/media", ReadOnly: true},
			{Type: "volume", Name: "lighthouse-data", Source: "/var/lib/docker/volumes/lighthouse-data/_data", Destination: "/data"},
			{Type: "tmpfs", Destination: "/tmp/cache"},
		},
		RestartPolicy: RestartPolicy{Name: "unless-stopped"},
	}

	assert.Equal(t, []string{
		"run", "-d", "--name", "lighthouse",
		"--restart", "unless-stopped",
		"-p", "8080:3000/tcp",
		"-p", "9090/tcp",
		"-v", "/srv/media:/media:ro",
		"-v", "lighthouse-data:/data",
		"--tmpfs", "/tmp/cache",
		"-e", "TZ=UTC",
		"-e", "PORT=3000",
		"melih/lighthouse:v1.2.0",
	}, spec.Args())
}

func TestVolumeMount_SpecTmpfs(t *testing.T) {
	assert.Equal(t, "/run/app", VolumeMount{Type: "tmpfs", Destination: "/run/app"}.Spec())
	assert.Equal(t, "/run/app:ro", VolumeMount{Type: "tmpfs", Destination: "/run/app", ReadOnly: true}.Spec())
	assert.Equal(t, "/run/app:rw,size=64m", VolumeMount{Type: "tmpfs", Destination: "/run/app", Options: "rw,size=64m"}.Spec())
	assert.False(t, VolumeMount{Type: "bind", Source: "/srv", Destination: "/data"}.IsTmpfs())
}

func TestRestartPolicy_String(t *testing.T) {
	assert.Equal(t, "", RestartPolicy{}.String())
	assert.Equal(t, "", RestartPolicy{Name: "no"}.String())
	assert.Equal(t, "always", RestartPolicy{Name: "always"}.String())
	assert.Equal(t, "on-failure:5", RestartPolicy{Name: "on-failure", MaximumRetryCount: 5}.String())
}

func TestNewBackupSnapshot(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	details := ContainerDetails{
		Name:          "/lighthouse",
		Image:         "melih/lighthouse:v1.0.0",
		Env:           []string{"TZ=UTC"},
		PortBindings:  map[string]string{"3000/tcp": "8080"},
		Mounts:        []VolumeMount{{Source: "/srv", Destination: "/data"}},
		RestartPolicy: RestartPolicy{Name: "always"},
	}

	snap := NewBackupSnapshot(details, at)
	assert.Equal(t, "lighthouse", snap.ContainerName)
	assert.Equal(t, at, snap.Timestamp)

	// The snapshot must not alias the inspect result.
	details.PortBindings["3000/tcp"] = "9999"
	details.Env[0] = "TZ=Europe/Istanbul"
	assert.Equal(t, "8080", snap.PortBindings["3000/tcp"])
	assert.Equal(t, "TZ=UTC", snap.Env[0])

	spec := snap.RunSpec("melih/lighthouse:v1.2.0")
	assert.Equal(t, "lighthouse", spec.Name)
	assert.Equal(t, "melih/lighthouse:v1.2.0", spec.Image)
	assert.Equal(t, "melih/lighthouse:v1.0.0", snap.RunSpec("").Image)

	assert.Equal(t, "lighthouse_backup_1790856000", BackupContainerName("lighthouse", at))
}

func TestBackupSnapshot_RunSpecDropsVersionOverrideOnNewImage(t *testing.T) {
	snap := NewBackupSnapshot(ContainerDetails{
		Name:  "/lighthouse",
		Image: "melih/lighthouse:v1.0.0",
		Env:   []string{"TZ=UTC", "LIGHTHOUSE_VERSION=v1.0.0", "LIGHTHOUSE_VERSION_CURRENT=v1.0.0", "LIGHTHOUSE_VERSIONS=keep"},
	}, time.Unix(1790856000, 0))

	assert.Equal(t, []string{"TZ=UTC", "LIGHTHOUSE_VERSIONS=keep"}, snap.RunSpec("melih/lighthouse:v1.2.0").Env)

	// Restoring the original image restores its environment unchanged.
	assert.Equal(t, snap.Env, snap.RunSpec("").Env)
	assert.Equal(t, snap.Env, snap.RunSpec("melih/lighthouse:v1.0.0").Env)
	assert.Len(t, snap.Env, 4)
}

func TestUpdateSession_Advance(t *testing.T) {
	s := NewUpdateSession("abc")
	now := time.Now()

	for _, st := range []State{StateEnvironmentCheck, StatePreflight, StateBackup, StatePull, StateStop} {
		require.NoError(t, s.Advance(st, now))
	}
	require.Error(t, s.Advance(StateDone, now), "stop cannot jump to done")
	require.NoError(t, s.Advance(StateRollback, now))
	require.NoError(t, s.Advance(StateFailed, now))

	assert.Equal(t, []State{
		StateIdle, StateEnvironmentCheck, StatePreflight, StateBackup,
		StatePull, StateStop, StateRollback, StateFailed,
	}, s.Trail())
}

func TestState_Committed(t *testing.T) {
	for _, st := range []State{StateIdle, StateEnvironmentCheck, StatePreflight, StateBackup, StateDone} {
		assert.False(t, st.Committed(), st.String())
	}
	for _, st := range []State{StatePull, StateStop, StateRename, StateRecreate, StateValidate} {
		assert.True(t, st.Committed(), st.String())
	}
	assert.Equal(t, "recreate", StateRecreate.String())
	assert.Equal(t, "state(99)", State(99).String())
}

func TestErrors(t *testing.T) {
	cause := errors.New("port is already allocated")
	updateErr := &UpdateError{Step: StateRecreate, Err: cause}
	assert.ErrorIs(t, updateErr, cause)
	assert.Equal(t, "update failed during recreate: port is already allocated", updateErr.Error())

	rbErr := &RollbackError{Cause: updateErr, Err: ErrContainerNotFound}
	assert.ErrorIs(t, rbErr, ErrContainerNotFound)
	assert.Contains(t, rbErr.Error(), "recreate")

	pfErr := &PreflightError{Check: "disk-space", Err: errors.New("95% used")}
	assert.Equal(t, `preflight check "disk-space" failed: 95% used`, pfErr.Error())

	cmdErr := &CommandError{Command: "docker stop x", ExitCode: 1, Stderr: "Error: No such container: x\n"}
	assert.Equal(t, `command "docker stop x" exited with code 1: Error: No such container: x`, cmdErr.Error())

	envErr := &EnvironmentError{Err: ErrNotInContainer}
	assert.ErrorIs(t, envErr, ErrNotInContainer)
}
