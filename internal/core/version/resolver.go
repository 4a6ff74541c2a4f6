// Package version resolves the latest published version from the registry and
// the version of the running installation.
package version

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// DefaultPageSize bounds the single page of tags fetched per resolution.
const DefaultPageSize = 100

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Repository string
	PageSize   int
	// Constraint optionally restricts updates to a semver range, e.g. "< 2.0.0".
	Constraint string
}

// Resolver computes the latest eligible version of the repository.
type Resolver struct {
	tags       ports.TagLister
	repository string
	pageSize   int
	constraint *semver.Constraints
}

// NewResolver creates a resolver over the given tag lister.
func NewResolver(tags ports.TagLister, opts ResolverOptions) (*Resolver, error) {
	if opts.Repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	r := &Resolver{
		tags:       tags,
		repository: opts.Repository,
		pageSize:   opts.PageSize,
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	if opts.Constraint != "" {
		c, err := semver.NewConstraint(opts.Constraint)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", opts.Constraint, err)
		}
		r.constraint = c
	}
	return r, nil
}

// Repository returns the image repository the resolver watches.
func (r *Resolver) Repository() string {
	return r.repository
}

// Latest returns the newest version tag. When no tag qualifies it falls back
// to the first raw tag and finally to "latest".
func (r *Resolver) Latest(ctx context.Context) (domain.VersionDescriptor, error) {
	tags, err := r.tags.ListTags(ctx, r.repository, r.pageSize)
	if err != nil {
		return domain.VersionDescriptor{}, err
	}

	candidates := r.eligible(tags)
	if len(candidates) == 0 {
		return r.fallback(tags), nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return domain.CompareVersions(candidates[i].Name, candidates[j].Name) > 0
	})
	latest := candidates[0]
	log.Debugf("Resolved latest version of '%s': %s (%d candidate tags)", r.repository, latest.Name, len(candidates))

	return domain.VersionDescriptor{
		Version:     latest.Name,
		LastUpdated: latest.LastUpdated,
		RegistryURL: r.tags.BaseURL(),
	}, nil
}

func (r *Resolver) eligible(tags []domain.Tag) []domain.Tag {
	out := make([]domain.Tag, 0, len(tags))
	for _, t := range tags {
		if !domain.IsVersionTag(t.Name) {
			continue
		}
		if r.constraint != nil {
			v, err := semver.NewVersion(t.Name)
			if err != nil {
				log.Debugf("Could not parse tag '%s' as semver, skipping", t.Name)
				continue
			}
			if !r.constraint.Check(v) {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func (r *Resolver) fallback(tags []domain.Tag) domain.VersionDescriptor {
	desc := domain.VersionDescriptor{Version: domain.LatestTag, RegistryURL: r.tags.BaseURL()}
	// A constrained channel must never fall back to an arbitrary tag outside it.
	if r.constraint == nil && len(tags) > 0 {
		desc.Version = tags[0].Name
		desc.LastUpdated = tags[0].LastUpdated
	}
	log.Warnf("No version tags found for '%s', falling back to '%s'", r.repository, desc.Version)
	return desc
}
