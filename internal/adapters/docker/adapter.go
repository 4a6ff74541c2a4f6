package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// DefaultStopTimeout is the grace period given to a container on stop.
const DefaultStopTimeout = 10 * time.Second

// Adapter implements ports.ContainerRuntime using the Docker Engine API.
type Adapter struct {
	cli         client.APIClient
	stopTimeout time.Duration
}

// NewAdapter creates a new Docker adapter from the environment (DOCKER_HOST etc.)
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewAdapterWithClient(cli), nil
}

// NewAdapterWithClient wraps an existing API client.
func NewAdapterWithClient(cli client.APIClient) *Adapter {
	return &Adapter{cli: cli, stopTimeout: DefaultStopTimeout}
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// Version returns the daemon version
func (a *Adapter) Version(ctx context.Context) (string, error) {
	v, err := a.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reach docker daemon: %w", err)
	}
	return v.Version, nil
}

// ListContainers returns all containers, running or not
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = domain.TrimContainerName(c.Names[0])
		}
		id := c.ID
		if len(id) > 12 {
			id = id[:12] // Short ID
		}
		result = append(result, domain.Container{
			ID:     id,
			Name:   name,
			Image:  c.Image,
			Status: c.Status,
			State:  string(c.State),
		})
	}
	return result, nil
}

// PullImage pulls an image and drains the progress stream to completion
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	log.Infof("Pulling image %s", ref)
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: read response: %w", ref, err)
	}
	return nil
}

func (a *Adapter) InspectContainer(ctx context.Context, name string) (domain.ContainerDetails, error) {
	resp, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		return domain.ContainerDetails{}, notFound("inspect", name, err)
	}
	return DetailsFromInspect(resp), nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, name string) error {
	seconds := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds}); err != nil {
		return notFound("stop", name, err)
	}
	return nil
}

func (a *Adapter) RemoveContainer(ctx context.Context, name string) error {
	if err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		return notFound("remove", name, err)
	}
	return nil
}

func (a *Adapter) RenameContainer(ctx context.Context, oldName, newName string) error {
	if err := a.cli.ContainerRename(ctx, oldName, newName); err != nil {
		return notFound("rename", oldName, err)
	}
	return nil
}

// RunContainer creates and starts a container from a spec
func (a *Adapter) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	exposed, bindings, err := nat.ParsePortSpecs(portSpecs(spec.PortBindings))
	if err != nil {
		return "", fmt.Errorf("invalid port bindings for %s: %w", spec.Name, err)
	}

	binds := make([]string, 0, len(spec.Mounts))
	var tmpfs map[string]string
	for _, m := range spec.Mounts {
		if m.IsTmpfs() {
			if tmpfs == nil {
				tmpfs = map[string]string{}
			}
			opts := m.Options
			if opts == "" && m.ReadOnly {
				opts = "ro"
			}
			tmpfs[m.Destination] = opts
			continue
		}
		binds = append(binds, m.Spec())
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds,
		Tmpfs:        tmpfs,
	}
	if spec.RestartPolicy.String() != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	// 1. Create Container
	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		log.Warnf("Docker create %s: %s", spec.Name, w)
	}

	// 2. Start Container
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func notFound(op, name string, err error) error {
	if errdefs.IsNotFound(err) || strings.Contains(strings.ToLower(err.Error()), "no such container") {
		return fmt.Errorf("%s %s: %w", op, name, domain.ErrContainerNotFound)
	}
	return fmt.Errorf("failed to %s container %s: %w", op, name, err)
}
