package ports

import (
	"context"

	"github.com/melih/lighthouse-updater/internal/core/domain"
)

// TagLister lists published tags of an image repository.
type TagLister interface {
	// ListTags returns one page of at most pageSize tags, newest first when
	// the registry orders them.
	ListTags(ctx context.Context, repository string, pageSize int) ([]domain.Tag, error)
	// BaseURL identifies the registry in version descriptors.
	BaseURL() string
}
