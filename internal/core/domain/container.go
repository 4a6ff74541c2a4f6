package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Container represents a container in the system (Docker, Podman, etc.)
type Container struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	State  string `json:"state"` // running, exited, etc.
}

// ContainerIdentity is the resolved identity of the container the updater runs in.
// It is resolved once per session and used as the key for every runtime command.
type ContainerIdentity struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
}

// Ref returns the name used to address the container, falling back to the id.
func (i ContainerIdentity) Ref() string {
	if i.ContainerName != "" {
		return i.ContainerName
	}
	return i.ContainerID
}

// VolumeMount is a single mount of a container.
type VolumeMount struct {
	Type        string `json:"type,omitempty"` // bind, volume, tmpfs
	Name        string `json:"name,omitempty"` // named volume
	Source      string `json:"source"`
	Destination string `json:"destination"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	Options     string `json:"options,omitempty"` // tmpfs mount options, e.g. "rw,size=64m"
}

// IsTmpfs reports whether the mount is an in-memory tmpfs with no source.
func (m VolumeMount) IsTmpfs() bool {
	return m.Type == "tmpfs"
}

// Spec renders the mount in the `-v src:dst[:ro]` form. Named volumes are
// referenced by name so they are reattached rather than bind-mounted.
// A tmpfs mount renders as `dst[:options]`, the `--tmpfs` form.
func (m VolumeMount) Spec() string {
	if m.IsTmpfs() {
		if m.Options != "" {
			return m.Destination + ":" + m.Options
		}
		if m.ReadOnly {
			return m.Destination + ":ro"
		}
		return m.Destination
	}
	src := m.Source
	if m.Type == "volume" && m.Name != "" {
		src = m.Name
	}
	spec := src + ":" + m.Destination
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec
}

// RestartPolicy mirrors the runtime restart policy of a container.
type RestartPolicy struct {
	Name              string `json:"name"`
	MaximumRetryCount int    `json:"maximum_retry_count,omitempty"`
}

// String renders the policy in the `--restart` flag form. Empty means none set.
func (p RestartPolicy) String() string {
	if p.Name == "" || p.Name == "no" {
		return ""
	}
	if p.Name == "on-failure" && p.MaximumRetryCount > 0 {
		return fmt.Sprintf("%s:%d", p.Name, p.MaximumRetryCount)
	}
	return p.Name
}

// ContainerDetails is the runtime-neutral result of inspecting a container.
type ContainerDetails struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Image         string            `json:"image"`    // reference the container was created from
	ImageID       string            `json:"image_id"` // resolved image digest
	Env           []string          `json:"env"`
	PortBindings  map[string]string `json:"port_bindings"` // container port -> host port
	Mounts        []VolumeMount     `json:"mounts"`
	RestartPolicy RestartPolicy     `json:"restart_policy"`
	Status        string            `json:"status"`
	Running       bool              `json:"running"`
	Health        string            `json:"health,omitempty"` // empty when no healthcheck
}

// RunSpec describes a container to launch with `run -d`.
type RunSpec struct {
	Name          string
	Image         string
	Env           []string
	PortBindings  map[string]string
	Mounts        []VolumeMount
	RestartPolicy RestartPolicy
}

// Args renders the spec as runtime CLI arguments, starting with "run".
// Ports are emitted in sorted order so the command line is stable.
func (s RunSpec) Args() []string {
	args := []string{"run", "-d", "--name", s.Name}
	if restart := s.RestartPolicy.String(); restart != "" {
		args = append(args, "--restart", restart)
	}

	ports := make([]string, 0, len(s.PortBindings))
	for containerPort := range s.PortBindings {
		ports = append(ports, containerPort)
	}
	sort.Strings(ports)
	for _, containerPort := range ports {
		hostPort := s.PortBindings[containerPort]
		if hostPort == "" {
			args = append(args, "-p", containerPort)
			continue
		}
		args = append(args, "-p", hostPort+":"+containerPort)
	}

	for _, m := range s.Mounts {
		if m.IsTmpfs() {
			args = append(args, "--tmpfs", m.Spec())
			continue
		}
		args = append(args, "-v", m.Spec())
	}
	for _, e := range s.Env {
		args = append(args, "-e", e)
	}
	return append(args, s.Image)
}

// TrimContainerName strips the leading slash the runtime puts on names.
func TrimContainerName(name string) string {
	return strings.TrimPrefix(name, "/")
}
