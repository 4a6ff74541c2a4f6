package version

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Sources of a local version, in lookup priority order.
const (
	SourceEnv      = "env"
	SourceManifest = "manifest"
	SourceImage    = "image"
	SourceGit      = "git"
	SourceNone     = "none"
)

// LocalOptions configures a LocalLookup.
type LocalOptions struct {
	// Override is the current-version override taken from the environment.
	Override string
	// ManifestPath points at the version manifest bundled into the image.
	ManifestPath string
	// Runtime inspects the running container to read its image tag. Optional.
	Runtime ports.ContainerRuntime
	// Git reports versions of a source checkout. Optional.
	Git ports.VersionSource
}

// LocalLookup determines the installed version.
type LocalLookup struct {
	opts     LocalOptions
	readFile func(string) ([]byte, error)
	stat     func(string) (fs.FileInfo, error)
}

// NewLocalLookup creates a lookup with the given sources.
func NewLocalLookup(opts LocalOptions) *LocalLookup {
	return &LocalLookup{opts: opts, readFile: os.ReadFile, stat: os.Stat}
}

type manifest struct {
	Version     string     `json:"version"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Lookup recomputes the local installation. Sources are tried in priority
// order: env override, bundled manifest, running image tag, git checkout.
// identity may be nil when the container is not known yet.
func (l *LocalLookup) Lookup(ctx context.Context, identity *domain.ContainerIdentity) domain.LocalInstallation {
	if v := strings.TrimSpace(l.opts.Override); v != "" {
		return domain.LocalInstallation{Exists: true, Version: v, Source: SourceEnv}
	}

	if inst, ok := l.fromManifest(); ok {
		return inst
	}

	if identity != nil && l.opts.Runtime != nil {
		if v := l.fromImage(ctx, *identity); v != "" {
			return domain.LocalInstallation{Exists: true, Version: v, Source: SourceImage}
		}
	}

	if l.opts.Git != nil {
		v, err := l.opts.Git.LocalVersion(ctx)
		if err != nil {
			log.WithError(err).Debug("Could not read version from git checkout")
		} else if v != "" {
			return domain.LocalInstallation{Exists: true, Version: v, Source: SourceGit}
		}
	}

	return domain.LocalInstallation{Exists: false, Version: domain.SentinelVersion, Source: SourceNone}
}

func (l *LocalLookup) fromManifest() (domain.LocalInstallation, bool) {
	if l.opts.ManifestPath == "" {
		return domain.LocalInstallation{}, false
	}
	data, err := l.readFile(l.opts.ManifestPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("Failed to read version manifest %s", l.opts.ManifestPath)
		}
		return domain.LocalInstallation{}, false
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.WithError(err).Warnf("Failed to parse version manifest %s", l.opts.ManifestPath)
		return domain.LocalInstallation{}, false
	}
	if strings.TrimSpace(m.Version) == "" {
		return domain.LocalInstallation{}, false
	}

	inst := domain.LocalInstallation{Exists: true, Version: strings.TrimSpace(m.Version), Source: SourceManifest}
	inst.LastUpdated = m.LastUpdated
	if inst.LastUpdated == nil {
		if fi, err := l.stat(l.opts.ManifestPath); err == nil {
			mod := fi.ModTime()
			inst.LastUpdated = &mod
		}
	}
	return inst, true
}

func (l *LocalLookup) fromImage(ctx context.Context, identity domain.ContainerIdentity) string {
	details, err := l.opts.Runtime.InspectContainer(ctx, identity.Ref())
	if err != nil {
		log.WithError(err).Debugf("Could not inspect container %s for its image tag", identity.Ref())
		return ""
	}
	return ImageTag(details.Image)
}

// ImageTag extracts a version tag from an image reference, or "" when the
// reference is untagged or tagged with something that is not a version.
func ImageTag(image string) string {
	ref, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return ""
	}
	tagged, ok := ref.(reference.Tagged)
	if !ok || !domain.IsVersionTag(tagged.Tag()) {
		return ""
	}
	return tagged.Tag()
}

// ImageRef joins a repository and a tag into a pullable reference.
func ImageRef(repository, tag string) (string, error) {
	named, err := reference.ParseNormalizedNamed(repository)
	if err != nil {
		return "", err
	}
	tagged, err := reference.WithTag(reference.TrimNamed(named), tag)
	if err != nil {
		return "", err
	}
	return reference.FamiliarString(tagged), nil
}
