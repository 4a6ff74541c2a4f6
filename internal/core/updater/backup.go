package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
)

// BackupManager snapshots the launch configuration of a live container.
type BackupManager struct {
	runtime ports.ContainerRuntime
	now     func() time.Time
}

// NewBackupManager creates a backup manager over the runtime.
func NewBackupManager(runtime ports.ContainerRuntime) *BackupManager {
	return &BackupManager{runtime: runtime, now: time.Now}
}

// Snapshot inspects the running container and captures what a rollback
// needs. Failing here is the last point where the session can abort cleanly.
func (b *BackupManager) Snapshot(ctx context.Context, identity domain.ContainerIdentity) (*domain.BackupSnapshot, error) {
	details, err := b.runtime.InspectContainer(ctx, identity.Ref())
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", identity.Ref(), err)
	}
	if details.Image == "" {
		return nil, fmt.Errorf("container %s reports no image", identity.Ref())
	}
	snap := domain.NewBackupSnapshot(details, b.now())
	if snap.ContainerName == "" {
		snap.ContainerName = identity.Ref()
	}
	return snap, nil
}
