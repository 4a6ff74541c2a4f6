// Package environment detects whether the updater runs inside the managed
// container runtime and resolves the identity of its own container.
package environment

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"strings"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

const shortIDLength = 12

// Options configures the detection probes. Paths are relative to the
// detector filesystem root, without a leading slash.
type Options struct {
	MarkerFile string // ".dockerenv"
	InitCgroup string // "proc/1/cgroup"
	SelfCgroup string // "proc/self/cgroup"
	// Signature is the runtime name expected in cgroup paths ("docker", "libpod").
	Signature string
	// EnvVar is set to a truthy value by the image to declare the container.
	EnvVar string
	// ContainerName overrides the identity name when the hostname is customized.
	ContainerName string
}

// DefaultOptions returns the Docker probes.
func DefaultOptions() Options {
	return Options{
		MarkerFile: ".dockerenv",
		InitCgroup: "proc/1/cgroup",
		SelfCgroup: "proc/self/cgroup",
		Signature:  "docker",
		EnvVar:     "DOCKER_CONTAINER",
	}
}

// Detector runs the container probes against a filesystem and environment.
type Detector struct {
	fsys   fs.FS
	getenv func(string) string
	opts   Options
}

// NewDetector creates a detector over the host root filesystem.
func NewDetector(opts Options) *Detector {
	return NewDetectorFS(os.DirFS("/"), os.Getenv, opts)
}

// NewDetectorFS creates a detector over an arbitrary filesystem and environment.
func NewDetectorFS(fsys fs.FS, getenv func(string) string, opts Options) *Detector {
	def := DefaultOptions()
	if opts.MarkerFile == "" {
		opts.MarkerFile = def.MarkerFile
	}
	if opts.InitCgroup == "" {
		opts.InitCgroup = def.InitCgroup
	}
	if opts.SelfCgroup == "" {
		opts.SelfCgroup = def.SelfCgroup
	}
	if opts.Signature == "" {
		opts.Signature = def.Signature
	}
	if opts.EnvVar == "" {
		opts.EnvVar = def.EnvVar
	}
	return &Detector{fsys: fsys, getenv: getenv, opts: opts}
}

// InContainer ORs four independent probes. A probe that cannot read its
// source counts as false; nothing here returns an error.
func (d *Detector) InContainer() bool {
	probes := []struct {
		name string
		fn   func() bool
	}{
		{"marker-file", d.hasMarkerFile},
		{"init-cgroup", func() bool { return d.cgroupHasSignature(d.opts.InitCgroup) }},
		{"env", d.envDeclared},
		{"self-cgroup", func() bool { return d.cgroupHasSignature(d.opts.SelfCgroup) }},
	}

	found := false
	for _, p := range probes {
		ok := p.fn()
		log.Debugf("Container probe %s: %t", p.name, ok)
		found = found || ok
	}
	return found
}

// Identity extracts the best-effort identity of the current container.
func (d *Detector) Identity() domain.ContainerIdentity {
	id := d.containerID()
	name := d.opts.ContainerName
	if name == "" {
		name = strings.TrimSpace(d.getenv("HOSTNAME"))
	}
	if name == "" {
		name = id
	}
	return domain.ContainerIdentity{ContainerID: id, ContainerName: name}
}

func (d *Detector) hasMarkerFile() bool {
	_, err := fs.Stat(d.fsys, d.opts.MarkerFile)
	return err == nil
}

func (d *Detector) envDeclared() bool {
	switch strings.ToLower(strings.TrimSpace(d.getenv(d.opts.EnvVar))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (d *Detector) cgroupHasSignature(path string) bool {
	data, err := fs.ReadFile(d.fsys, path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(d.opts.Signature))
}

// containerID takes the last path segment of the first cgroup line that
// carries the runtime signature and shortens it.
func (d *Detector) containerID() string {
	for _, path := range []string{d.opts.SelfCgroup, d.opts.InitCgroup} {
		data, err := fs.ReadFile(d.fsys, path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.Contains(line, d.opts.Signature) {
				continue
			}
			if id := shortID(lastSegment(line), d.opts.Signature); id != "" {
				return id
			}
		}
	}
	return ""
}

func lastSegment(line string) string {
	if i := strings.LastIndex(line, "/"); i >= 0 {
		return line[i+1:]
	}
	return line
}

// shortID normalizes "docker-<id>.scope" and "<id>" segments to a 12 char id.
func shortID(segment, signature string) string {
	segment = strings.TrimSuffix(segment, ".scope")
	segment = strings.TrimPrefix(segment, signature+"-")
	if len(segment) > shortIDLength {
		segment = segment[:shortIDLength]
	}
	return segment
}
