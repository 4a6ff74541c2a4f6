package environment

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

const (
	fullID        = "4f66ad9a0b2e01d5a4a2e93f5e27b3b6c5d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1"
	cgroupV1      = "12:memory:/docker/" + fullID + "\n11:cpu:/docker/" + fullID + "\n"
	cgroupSystemd = "0::/system.slice/docker-" + fullID + ".scope\n"
	hostCgroup    = "0::/init.scope\n"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDetector_InContainer(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		env  map[string]string
		want bool
	}{
		{
			name: "marker file",
			fsys: fstest.MapFS{".dockerenv": {}},
			want: true,
		},
		{
			name: "init cgroup",
			fsys: fstest.MapFS{"proc/1/cgroup": {Data: []byte(cgroupV1)}},
			want: true,
		},
		{
			name: "env var",
			fsys: fstest.MapFS{},
			env:  map[string]string{"DOCKER_CONTAINER": "TRUE"},
			want: true,
		},
		{
			name: "self cgroup only",
			fsys: fstest.MapFS{
				"proc/1/cgroup":    {Data: []byte(hostCgroup)},
				"proc/self/cgroup": {Data: []byte(cgroupSystemd)},
			},
			want: true,
		},
		{
			name: "plain host",
			fsys: fstest.MapFS{"proc/1/cgroup": {Data: []byte(hostCgroup)}},
			env:  map[string]string{"DOCKER_CONTAINER": "0"},
			want: false,
		},
		{
			name: "unreadable everything",
			fsys: fstest.MapFS{},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetectorFS(tt.fsys, env(tt.env), Options{})
			assert.Equal(t, tt.want, d.InContainer())
		})
	}
}

func TestDetector_Identity(t *testing.T) {
	t.Run("hostname names the container", func(t *testing.T) {
		d := NewDetectorFS(fstest.MapFS{"proc/self/cgroup": {Data: []byte(cgroupV1)}},
			env(map[string]string{"HOSTNAME": "lighthouse"}), Options{})
		id := d.Identity()
		assert.Equal(t, fullID[:12], id.ContainerID)
		assert.Equal(t, "lighthouse", id.ContainerName)
	})

	t.Run("systemd scope segment", func(t *testing.T) {
		d := NewDetectorFS(fstest.MapFS{"proc/self/cgroup": {Data: []byte(cgroupSystemd)}}, env(nil), Options{})
		id := d.Identity()
		assert.Equal(t, fullID[:12], id.ContainerID)
		assert.Equal(t, fullID[:12], id.ContainerName, "falls back to the short id")
	})

	t.Run("configured name wins", func(t *testing.T) {
		d := NewDetectorFS(fstest.MapFS{}, env(map[string]string{"HOSTNAME": "abc"}), Options{ContainerName: "media"})
		assert.Equal(t, "media", d.Identity().ContainerName)
		assert.Equal(t, "media", d.Identity().Ref())
	})

	t.Run("podman signature", func(t *testing.T) {
		fsys := fstest.MapFS{"proc/self/cgroup": {Data: []byte("0::/machine.slice/libpod-" + fullID + ".scope\n")}}
		d := NewDetectorFS(fsys, env(nil), Options{Signature: "libpod"})
		assert.True(t, d.InContainer())
		assert.Equal(t, fullID[:12], d.Identity().ContainerID)
	})
}
