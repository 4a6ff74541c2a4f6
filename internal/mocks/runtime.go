// Package mocks provides in-memory fakes of the core ports for tests.
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/melih/lighthouse-updater/internal/core/domain"
)

// Runtime is an in-memory ports.ContainerRuntime. Containers are keyed by name.
// Each operation can be failed by setting the matching Err field or hook.
type Runtime struct {
	mu sync.Mutex

	Containers map[string]domain.ContainerDetails
	Images     map[string]bool
	Calls      []string

	VersionErr error
	ListErr    error
	PullErr    error
	StopErr    error
	RenameErr  error
	RemoveErr  error
	// RunErr is consulted with the spec; returning nil lets the run succeed.
	RunErr func(spec domain.RunSpec) error
	// OnRun customizes the details of a started container (health, status).
	OnRun func(details *domain.ContainerDetails)

	nextID int
}

// NewRuntime creates a runtime holding the given running containers.
func NewRuntime(containers ...domain.ContainerDetails) *Runtime {
	r := &Runtime{
		Containers: map[string]domain.ContainerDetails{},
		Images:     map[string]bool{},
	}
	for _, c := range containers {
		c.Name = domain.TrimContainerName(c.Name)
		r.Containers[c.Name] = c
		r.Images[c.Image] = true
	}
	return r
}

func (r *Runtime) record(format string, args ...any) {
	r.Calls = append(r.Calls, fmt.Sprintf(format, args...))
}

// CallsWithPrefix returns the recorded calls of one kind, e.g. "run".
func (r *Runtime) CallsWithPrefix(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns every recorded call that changes runtime state.
func (r *Runtime) Mutations() []string {
	var out []string
	for _, p := range []string{"pull", "stop", "rm", "rename", "run"} {
		out = append(out, r.CallsWithPrefix(p+" ")...)
	}
	return out
}

// Container returns the current state of a container by name.
func (r *Runtime) Container(name string) (domain.ContainerDetails, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Containers[name]
	return c, ok
}

func (r *Runtime) Version(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("version")
	if r.VersionErr != nil {
		return "", r.VersionErr
	}
	return "28.5.2", nil
}

func (r *Runtime) ListContainers(_ context.Context) ([]domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ps")
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	out := make([]domain.Container, 0, len(r.Containers))
	for name, c := range r.Containers {
		state := "exited"
		if c.Running {
			state = "running"
		}
		out = append(out, domain.Container{ID: c.ID, Name: name, Image: c.Image, Status: c.Status, State: state})
	}
	return out, nil
}

func (r *Runtime) PullImage(_ context.Context, image string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("pull %s", image)
	if r.PullErr != nil {
		return r.PullErr
	}
	r.Images[image] = true
	return nil
}

func (r *Runtime) InspectContainer(_ context.Context, name string) (domain.ContainerDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("inspect %s", name)
	c, ok := r.Containers[name]
	if !ok {
		return domain.ContainerDetails{}, fmt.Errorf("inspect %s: %w", name, domain.ErrContainerNotFound)
	}
	return c, nil
}

func (r *Runtime) StopContainer(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("stop %s", name)
	if r.StopErr != nil {
		return r.StopErr
	}
	c, ok := r.Containers[name]
	if !ok {
		return fmt.Errorf("stop %s: %w", name, domain.ErrContainerNotFound)
	}
	c.Running = false
	c.Status = "exited"
	r.Containers[name] = c
	return nil
}

func (r *Runtime) RemoveContainer(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("rm %s", name)
	if r.RemoveErr != nil {
		return r.RemoveErr
	}
	if _, ok := r.Containers[name]; !ok {
		return fmt.Errorf("rm %s: %w", name, domain.ErrContainerNotFound)
	}
	delete(r.Containers, name)
	return nil
}

func (r *Runtime) RenameContainer(_ context.Context, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("rename %s %s", oldName, newName)
	if r.RenameErr != nil {
		return r.RenameErr
	}
	c, ok := r.Containers[oldName]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldName, domain.ErrContainerNotFound)
	}
	if _, taken := r.Containers[newName]; taken {
		return fmt.Errorf("rename %s: name %s already in use", oldName, newName)
	}
	delete(r.Containers, oldName)
	c.Name = newName
	r.Containers[newName] = c
	return nil
}

func (r *Runtime) RunContainer(_ context.Context, spec domain.RunSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("run %s %s", spec.Name, spec.Image)
	if r.RunErr != nil {
		if err := r.RunErr(spec); err != nil {
			return "", err
		}
	}
	if _, taken := r.Containers[spec.Name]; taken {
		return "", fmt.Errorf("run %s: name already in use", spec.Name)
	}
	if !r.Images[spec.Image] {
		return "", fmt.Errorf("run %s: image %s not present locally", spec.Name, spec.Image)
	}
	r.nextID++
	details := domain.ContainerDetails{
		ID:            fmt.Sprintf("%012d", r.nextID),
		Name:          spec.Name,
		Image:         spec.Image,
		Env:           spec.Env,
		PortBindings:  spec.PortBindings,
		Mounts:        spec.Mounts,
		RestartPolicy: spec.RestartPolicy,
		Status:        "running",
		Running:       true,
	}
	if r.OnRun != nil {
		r.OnRun(&details)
	}
	r.Containers[spec.Name] = details
	return details.ID, nil
}

// TagLister is an in-memory ports.TagLister.
type TagLister struct {
	mu    sync.Mutex
	Tags  []domain.Tag
	Err   error
	Calls int
}

// NewTagLister returns a lister serving the named tags in order.
func NewTagLister(names ...string) *TagLister {
	l := &TagLister{}
	for _, n := range names {
		l.Tags = append(l.Tags, domain.Tag{Name: n})
	}
	return l
}

func (l *TagLister) ListTags(_ context.Context, _ string, pageSize int) ([]domain.Tag, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls++
	if l.Err != nil {
		return nil, l.Err
	}
	tags := l.Tags
	if pageSize > 0 && len(tags) > pageSize {
		tags = tags[:pageSize]
	}
	return append([]domain.Tag(nil), tags...), nil
}

func (l *TagLister) BaseURL() string { return "https://registry.test" }

// SetTags replaces the served tags.
func (l *TagLister) SetTags(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Tags = nil
	for _, n := range names {
		l.Tags = append(l.Tags, domain.Tag{Name: n})
	}
}

// ActivityLog collects recorded entries.
type ActivityLog struct {
	mu      sync.Mutex
	Entries []domain.ActivityEntry
}

func (a *ActivityLog) Record(_ context.Context, entry domain.ActivityEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, entry)
}
