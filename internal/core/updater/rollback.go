package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// RollbackManager restores the pre-update container from a snapshot.
type RollbackManager struct {
	runtime ports.ContainerRuntime
}

// NewRollbackManager creates a rollback manager over the runtime.
func NewRollbackManager(runtime ports.ContainerRuntime) *RollbackManager {
	return &RollbackManager{runtime: runtime}
}

// Restore clears whatever occupies the snapshot's name and recreates the
// container from the snapshot image and configuration.
func (r *RollbackManager) Restore(ctx context.Context, snap *domain.BackupSnapshot) error {
	if snap == nil {
		return domain.ErrNoSnapshot
	}
	name := snap.ContainerName

	// 1. Clear the slot. Missing containers are fine; other errors are kept
	// for the report but do not stop the attempt to run the old image.
	var clearErrs *multierror.Error
	if err := r.runtime.StopContainer(ctx, name); err != nil && !errors.Is(err, domain.ErrContainerNotFound) {
		clearErrs = multierror.Append(clearErrs, fmt.Errorf("stop %s: %w", name, err))
	}
	if err := r.runtime.RemoveContainer(ctx, name); err != nil && !errors.Is(err, domain.ErrContainerNotFound) {
		clearErrs = multierror.Append(clearErrs, fmt.Errorf("remove %s: %w", name, err))
	}
	if clearErrs != nil {
		log.WithError(clearErrs).Warnf("Rollback could not fully clear container %s", name)
	}

	// 2. Recreate from the snapshot.
	id, err := r.runtime.RunContainer(ctx, snap.RunSpec(""))
	if err != nil {
		return multierror.Append(clearErrs, fmt.Errorf("recreate %s from %s: %w", name, snap.Image, err)).ErrorOrNil()
	}
	log.Infof("Rolled back container %s to %s (id %s)", name, snap.Image, shortID(id))
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
