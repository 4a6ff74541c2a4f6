package ports

import (
	"context"

	"github.com/melih/lighthouse-updater/internal/core/domain"
)

// ActivityLog is the append-only operation log the updater writes to.
type ActivityLog interface {
	Record(ctx context.Context, entry domain.ActivityEntry)
}
