// Package preflight runs the readiness checks that must pass before an
// update touches anything.
package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultMaxDiskUsage is the utilization above which an update is refused.
const DefaultMaxDiskUsage = 0.90

// Check is a single named readiness check.
type Check interface {
	Name() string
	Run(ctx context.Context) error
}

// Checker runs checks in order and stops at the first failure.
type Checker struct {
	checks []Check
}

// NewChecker creates a checker over an ordered list of checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{checks: checks}
}

// Run executes the checks sequentially. The first failing check is returned
// as a *domain.PreflightError naming it.
func (c *Checker) Run(ctx context.Context) error {
	for _, check := range c.checks {
		start := time.Now()
		if err := check.Run(ctx); err != nil {
			log.WithError(err).Warnf("Preflight check %s failed", check.Name())
			return &domain.PreflightError{Check: check.Name(), Err: err}
		}
		log.Debugf("Preflight check %s passed in %v", check.Name(), time.Since(start))
	}
	return nil
}

// DiskSpace rejects updates when the filesystem holding Path is too full to
// pull another image.
type DiskSpace struct {
	Path     string
	MaxUsage float64
	statfs   func(path string, st *unix.Statfs_t) error
}

// NewDiskSpace creates a disk headroom check for path.
func NewDiskSpace(path string, maxUsage float64) *DiskSpace {
	if maxUsage <= 0 || maxUsage > 1 {
		maxUsage = DefaultMaxDiskUsage
	}
	return &DiskSpace{Path: path, MaxUsage: maxUsage, statfs: unix.Statfs}
}

func (d *DiskSpace) Name() string { return "disk-space" }

func (d *DiskSpace) Run(_ context.Context) error {
	var st unix.Statfs_t
	if err := d.statfs(d.Path, &st); err != nil {
		return fmt.Errorf("failed to stat filesystem at %s: %w", d.Path, err)
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	if total == 0 {
		return fmt.Errorf("filesystem at %s reports zero size", d.Path)
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	usage := 1 - free/total
	if usage > d.MaxUsage {
		return fmt.Errorf("disk usage at %s is %.1f%%, above the %.0f%% limit", d.Path, usage*100, d.MaxUsage*100)
	}
	return nil
}

// Runtime verifies the container runtime daemon answers and can list containers.
type Runtime struct {
	runtime ports.ContainerRuntime
}

// NewRuntime creates a daemon reachability check.
func NewRuntime(runtime ports.ContainerRuntime) *Runtime {
	return &Runtime{runtime: runtime}
}

func (r *Runtime) Name() string { return "container-runtime" }

func (r *Runtime) Run(ctx context.Context) error {
	version, err := r.runtime.Version(ctx)
	if err != nil {
		return fmt.Errorf("container runtime not reachable: %w", err)
	}
	if _, err := r.runtime.ListContainers(ctx); err != nil {
		return fmt.Errorf("container runtime %s cannot list containers: %w", version, err)
	}
	return nil
}

// Registry verifies the image registry answers for the watched repository.
type Registry struct {
	tags       ports.TagLister
	repository string
}

// NewRegistry creates a registry reachability check.
func NewRegistry(tags ports.TagLister, repository string) *Registry {
	return &Registry{tags: tags, repository: repository}
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) Run(ctx context.Context) error {
	if _, err := r.tags.ListTags(ctx, r.repository, 1); err != nil {
		return fmt.Errorf("registry %s not reachable: %w", r.tags.BaseURL(), err)
	}
	return nil
}
