package ports

import (
	"context"

	"github.com/melih/lighthouse-updater/internal/core/domain"
)

// ContainerRuntime defines the container operations the updater drives.
// This interface allows us to switch between the Docker CLI, Podman or the
// Engine API without changing the update logic.
type ContainerRuntime interface {
	// Version returns the runtime server version; used as a reachability probe.
	Version(ctx context.Context) (string, error)
	ListContainers(ctx context.Context) ([]domain.Container, error)
	PullImage(ctx context.Context, image string) error
	// InspectContainer returns domain.ErrContainerNotFound when name does not exist.
	InspectContainer(ctx context.Context, name string) (domain.ContainerDetails, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	RenameContainer(ctx context.Context, oldName, newName string) error
	// RunContainer creates and starts a detached container and returns its id.
	RunContainer(ctx context.Context, spec domain.RunSpec) (string, error)
}
