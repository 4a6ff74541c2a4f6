package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// OCIClient implements ports.TagLister over the OCI distribution tags API,
// for registries that do not offer the Docker Hub listing endpoint.
type OCIClient struct {
	registry string
	opts     []remote.Option
}

// NewOCIClient creates a tag lister for registry (e.g. "ghcr.io").
// An empty registry resolves repositories against Docker Hub.
func NewOCIClient(registry string, opts ...remote.Option) *OCIClient {
	if len(opts) == 0 {
		opts = []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}
	}
	return &OCIClient{registry: registry, opts: opts}
}

// BaseURL returns the registry host.
func (c *OCIClient) BaseURL() string {
	if c.registry == "" {
		return name.DefaultRegistry
	}
	return c.registry
}

// ListTags lists the repository tags. The distribution API returns tags in
// lexical order without timestamps, so tags are ordered newest version first
// and only then cut to pageSize. Non-version tags sort last.
func (c *OCIClient) ListTags(ctx context.Context, repository string, pageSize int) ([]domain.Tag, error) {
	ref := repository
	if c.registry != "" && !strings.HasPrefix(repository, c.registry+"/") {
		ref = c.registry + "/" + repository
	}
	repo, err := name.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository name '%s': %w", ref, err)
	}

	opts := append([]remote.Option{remote.WithContext(ctx)}, c.opts...)
	names, err := remote.List(repo, opts...)
	if err != nil {
		netErr := classify(err)
		metrics.RegistryRequests.WithLabelValues(netErr.Cause).Inc()
		log.WithError(err).Warnf("Failed to list tags for repository '%s'", repo.Name())
		return nil, netErr
	}
	metrics.RegistryRequests.WithLabelValues("200").Inc()

	sortNewestFirst(names)
	if pageSize > 0 && len(names) > pageSize {
		names = names[:pageSize]
	}
	tags := make([]domain.Tag, 0, len(names))
	for _, n := range names {
		tags = append(tags, domain.Tag{Name: n})
	}
	return tags, nil
}

func sortNewestFirst(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		vi, vj := domain.IsVersionTag(names[i]), domain.IsVersionTag(names[j])
		if vi != vj {
			return vi
		}
		if !vi {
			return false
		}
		return domain.CompareVersions(names[i], names[j]) > 0
	})
}
