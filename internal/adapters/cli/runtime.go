// Package cli implements the container runtime by driving the docker or
// podman command line. Every command runs under its own deadline.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/melih/lighthouse-updater/internal/adapters/docker"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// Default command deadlines.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultPullTimeout = 10 * time.Minute
)

// Options configures a Runtime.
type Options struct {
	// Binary is the runtime executable, "docker" or "podman" or a path.
	Binary      string
	Timeout     time.Duration
	PullTimeout time.Duration
}

// Runner executes one command and returns its stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// Runtime implements ports.ContainerRuntime over a runtime CLI.
type Runtime struct {
	binary      string
	timeout     time.Duration
	pullTimeout time.Duration
	runner      Runner
}

// New creates a runtime that executes real processes.
func New(opts Options) *Runtime {
	return NewWithRunner(opts, execRunner{})
}

// NewWithRunner creates a runtime over a custom runner.
func NewWithRunner(opts Options, runner Runner) *Runtime {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = DefaultPullTimeout
	}
	return &Runtime{
		binary:      opts.Binary,
		timeout:     opts.Timeout,
		pullTimeout: opts.PullTimeout,
		runner:      runner,
	}
}

// exec runs one runtime command under timeout. A missed deadline yields a
// TimeoutError, a non-zero exit a CommandError.
func (r *Runtime) exec(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	command := r.binary + " " + strings.Join(args, " ")
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debugf("Running %s", command)
	stdout, stderr, err := r.runner.Run(cmdCtx, r.binary, args...)
	if err == nil {
		return strings.TrimSpace(string(stdout)), nil
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &domain.TimeoutError{Command: command, Timeout: timeout}
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("command %q: %w", command, ctx.Err())
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return "", fmt.Errorf("failed to run %q: %w", command, err)
	}
	cmdErr := &domain.CommandError{Command: command, ExitCode: exitErr.ExitCode(), Stderr: string(stderr)}
	if isNotFound(string(stderr)) {
		return "", fmt.Errorf("%w: %w", domain.ErrContainerNotFound, cmdErr)
	}
	return "", cmdErr
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") || strings.Contains(s, "no container with name or id")
}

func (r *Runtime) Version(ctx context.Context) (string, error) {
	format := "{{.Server.Version}}"
	if filepath.Base(r.binary) == "podman" {
		format = "{{.Client.Version}}"
	}
	return r.exec(ctx, r.timeout, "version", "--format", format)
}

// psLine is one line of `ps --format '{{json .}}'`.
type psLine struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	Status string `json:"Status"`
	State  string `json:"State"`
}

func (r *Runtime) ListContainers(ctx context.Context) ([]domain.Container, error) {
	out, err := r.exec(ctx, r.timeout, "ps", "-a", "--no-trunc", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	var result []domain.Container
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p psLine
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, fmt.Errorf("failed to parse ps output: %w", err)
		}
		id := p.ID
		if len(id) > 12 {
			id = id[:12]
		}
		name, _, _ := strings.Cut(p.Names, ",")
		result = append(result, domain.Container{ID: id, Name: name, Image: p.Image, Status: p.Status, State: p.State})
	}
	return result, scanner.Err()
}

func (r *Runtime) PullImage(ctx context.Context, image string) error {
	log.Infof("Pulling image %s", image)
	_, err := r.exec(ctx, r.pullTimeout, "pull", image)
	return err
}

func (r *Runtime) InspectContainer(ctx context.Context, name string) (domain.ContainerDetails, error) {
	out, err := r.exec(ctx, r.timeout, "inspect", "--type", "container", name)
	if err != nil {
		return domain.ContainerDetails{}, err
	}
	var resp []container.InspectResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return domain.ContainerDetails{}, fmt.Errorf("failed to parse inspect output for %s: %w", name, err)
	}
	if len(resp) == 0 {
		return domain.ContainerDetails{}, fmt.Errorf("inspect %s: %w", name, domain.ErrContainerNotFound)
	}
	return docker.DetailsFromInspect(resp[0]), nil
}

func (r *Runtime) StopContainer(ctx context.Context, name string) error {
	_, err := r.exec(ctx, r.timeout, "stop", name)
	return err
}

func (r *Runtime) RemoveContainer(ctx context.Context, name string) error {
	_, err := r.exec(ctx, r.timeout, "rm", name)
	return err
}

func (r *Runtime) RenameContainer(ctx context.Context, oldName, newName string) error {
	_, err := r.exec(ctx, r.timeout, "rename", oldName, newName)
	return err
}

// RunContainer starts the spec detached and returns the new container id.
func (r *Runtime) RunContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	out, err := r.exec(ctx, r.timeout, spec.Args()...)
	if err != nil {
		return "", err
	}
	// The id is the last line; pull progress may precede it.
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// execRunner runs real processes.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait past the deadline.
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
