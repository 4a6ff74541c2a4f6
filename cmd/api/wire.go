package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/melih/lighthouse-updater/internal/adapters/activity"
	"github.com/melih/lighthouse-updater/internal/adapters/cli"
	"github.com/melih/lighthouse-updater/internal/adapters/docker"
	"github.com/melih/lighthouse-updater/internal/adapters/gitversion"
	"github.com/melih/lighthouse-updater/internal/adapters/registry"
	"github.com/melih/lighthouse-updater/internal/config"
	"github.com/melih/lighthouse-updater/internal/core/environment"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	"github.com/melih/lighthouse-updater/internal/core/preflight"
	"github.com/melih/lighthouse-updater/internal/core/updater"
	"github.com/melih/lighthouse-updater/internal/core/version"
)

// components is the wired object graph of one process.
type components struct {
	runtime      ports.ContainerRuntime
	activity     *activity.Ring
	cleanup      *updater.CleanupScheduler
	orchestrator *updater.Orchestrator
	closers      []func() error
}

type buildOption func(*buildOptions)

type buildOptions struct {
	cleanup bool
}

// withoutCleanup leaves backup containers in place, for one-shot commands
// that exit before any deferred removal could run.
func withoutCleanup() buildOption {
	return func(o *buildOptions) { o.cleanup = false }
}

func build(cfg config.Config, opts ...buildOption) (*components, error) {
	bo := buildOptions{cleanup: true}
	for _, o := range opts {
		o(&bo)
	}
	c := &components{activity: activity.NewRing(activity.DefaultCapacity)}

	// 1. Container runtime
	switch cfg.Runtime.Driver {
	case "api":
		adapter, err := docker.NewAdapter()
		if err != nil {
			return nil, err
		}
		c.runtime = adapter
		c.closers = append(c.closers, adapter.Close)
	default:
		c.runtime = cli.New(cli.Options{
			Binary:      cfg.Runtime.Binary,
			Timeout:     cfg.Runtime.CommandTimeout,
			PullTimeout: cfg.Runtime.PullTimeout,
		})
	}

	// 2. Registry
	var tags ports.TagLister
	switch cfg.Registry.Kind {
	case "oci":
		tags = registry.NewOCIClient(ociHost(cfg.Registry.URL))
	default:
		tags = registry.NewHubClient(cfg.Registry.URL, registry.HubOptions{
			Timeout:  cfg.Registry.Timeout,
			Attempts: cfg.Registry.Attempts,
		})
	}

	// 3. Version discovery
	resolver, err := version.NewResolver(tags, version.ResolverOptions{
		Repository: cfg.Registry.Repository,
		PageSize:   cfg.Registry.PageSize,
		Constraint: cfg.Registry.Constraint,
	})
	if err != nil {
		return nil, err
	}
	localOpts := version.LocalOptions{
		Override:     cfg.Version.Current,
		ManifestPath: cfg.Version.Manifest,
		Runtime:      c.runtime,
	}
	if cfg.Version.GitPath != "" {
		localOpts.Git = gitversion.NewSource(cfg.Version.GitPath)
	}

	// 4. Pipeline collaborators
	deps := updater.Deps{
		Detector: environment.NewDetector(environment.Options{
			Signature:     cfg.Environment.Signature,
			ContainerName: cfg.Environment.ContainerName,
		}),
		Preflight: preflight.NewChecker(
			preflight.NewDiskSpace(cfg.Preflight.DiskPath, cfg.Preflight.MaxDiskUsage),
			preflight.NewRuntime(c.runtime),
			preflight.NewRegistry(tags, cfg.Registry.Repository),
		),
		Resolver: resolver,
		Local:    version.NewLocalLookup(localOpts),
		Runtime:  c.runtime,
		Activity: c.activity,
	}
	// 5. Deferred cleanup
	if bo.cleanup {
		c.cleanup = updater.NewCleanupScheduler(c.runtime, c.activity, updater.CleanupOptions{
			Delay:       cfg.Update.CleanupDelay,
			RetryDelay:  cfg.Update.CleanupRetryDelay,
			MaxAttempts: cfg.Update.CleanupAttempts,
		})
		deps.Cleanup = c.cleanup
	}

	// 6. Orchestrator
	c.orchestrator = updater.New(deps, updater.Options{
		Repository: cfg.Registry.Repository,
		Validation: updater.ValidationOptions{
			SettleDelay: cfg.Update.SettleDelay,
			Interval:    cfg.Update.ValidationInterval,
			Timeout:     cfg.Update.ValidationTimeout,
		},
	})
	return c, nil
}

// Close releases runtime clients.
func (c *components) Close() error {
	var first error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && first == nil {
			first = fmt.Errorf("failed to close: %w", err)
		}
	}
	return first
}

// ociHost reduces a registry URL to the host the distribution API expects.
// Docker Hub's web API host maps to the default registry.
func ociHost(raw string) string {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimSuffix(host, "/")
	if host == "hub.docker.com" {
		return ""
	}
	return host
}
