package domain

import (
	"strconv"
	"strings"
	"time"
)

// VersionEnvKeys override the detected installed version. Images may bake
// them in, so a container recreated on a new image must not inherit them.
var VersionEnvKeys = []string{"LIGHTHOUSE_VERSION", "LIGHTHOUSE_VERSION_CURRENT"}

// BackupSnapshot is the launch configuration of the running container,
// captured from a live inspect right before the first destructive step.
type BackupSnapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	ContainerName string            `json:"container_name"`
	Image         string            `json:"image"`
	Env           []string          `json:"env"`
	PortBindings  map[string]string `json:"port_bindings"`
	VolumeMounts  []VolumeMount     `json:"volume_mounts"`
	RestartPolicy RestartPolicy     `json:"restart_policy"`
}

// NewBackupSnapshot copies the fields a rollback needs out of an inspect result.
func NewBackupSnapshot(details ContainerDetails, at time.Time) *BackupSnapshot {
	ports := make(map[string]string, len(details.PortBindings))
	for k, v := range details.PortBindings {
		ports[k] = v
	}
	return &BackupSnapshot{
		Timestamp:     at,
		ContainerName: TrimContainerName(details.Name),
		Image:         details.Image,
		Env:           append([]string(nil), details.Env...),
		PortBindings:  ports,
		VolumeMounts:  append([]VolumeMount(nil), details.Mounts...),
		RestartPolicy: details.RestartPolicy,
	}
}

// RunSpec returns a spec that recreates the snapshotted container with image.
// An empty image recreates it from the snapshot image. Version override
// variables are kept only when the image is unchanged.
func (s *BackupSnapshot) RunSpec(image string) RunSpec {
	env := s.Env
	if image == "" || image == s.Image {
		image = s.Image
	} else {
		env = withoutVersionEnv(s.Env)
	}
	return RunSpec{
		Name:          s.ContainerName,
		Image:         image,
		Env:           env,
		PortBindings:  s.PortBindings,
		Mounts:        s.VolumeMounts,
		RestartPolicy: s.RestartPolicy,
	}
}

// BackupContainerName derives the name the old container is parked under.
func BackupContainerName(original string, at time.Time) string {
	return original + "_backup_" + strconv.FormatInt(at.Unix(), 10)
}

func withoutVersionEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		if isVersionEnvKey(key) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isVersionEnvKey(key string) bool {
	for _, k := range VersionEnvKeys {
		if key == k {
			return true
		}
	}
	return false
}
