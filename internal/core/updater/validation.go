package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// ValidationOptions bounds the validation poll.
type ValidationOptions struct {
	// SettleDelay lets the entrypoint and health probe start before the first check.
	SettleDelay time.Duration
	Interval    time.Duration
	Timeout     time.Duration
}

// DefaultValidationOptions returns the production poll bounds.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		SettleDelay: 5 * time.Second,
		Interval:    2 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// ValidationGate confirms a recreated container runs the expected version and is healthy.
type ValidationGate struct {
	runtime ports.ContainerRuntime
	opts    ValidationOptions
}

// NewValidationGate creates a gate with the given poll bounds.
func NewValidationGate(runtime ports.ContainerRuntime, opts ValidationOptions) *ValidationGate {
	def := DefaultValidationOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &ValidationGate{runtime: runtime, opts: opts}
}

var errNotReady = errors.New("container not ready")

// Validate polls the container until it is running the expected version and
// not unhealthy, or the timeout expires. An unhealthy report fails at once.
func (g *ValidationGate) Validate(ctx context.Context, name, expectedVersion string) error {
	if err := sleepCtx(ctx, g.opts.SettleDelay); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	var last error
	for {
		err := g.check(ctx, name, expectedVersion)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errNotReady) {
			return err
		}
		last = err
		log.Debugf("Validation of %s pending: %v", name, err)

		select {
		case <-ctx.Done():
			return &domain.ValidationError{Reason: fmt.Sprintf("timed out after %s: %v", g.opts.Timeout, last)}
		case <-ticker.C:
		}
	}
}

func (g *ValidationGate) check(ctx context.Context, name, expectedVersion string) error {
	details, err := g.runtime.InspectContainer(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrContainerNotFound) {
			return &domain.ValidationError{Reason: fmt.Sprintf("container %s disappeared", name)}
		}
		return fmt.Errorf("%w: inspect failed: %v", errNotReady, err)
	}
	if !strings.Contains(details.Image, expectedVersion) {
		return &domain.ValidationError{Reason: fmt.Sprintf("container %s runs image %s, expected version %s", name, details.Image, expectedVersion)}
	}
	if details.Health == "unhealthy" {
		return &domain.ValidationError{Reason: fmt.Sprintf("container %s reports unhealthy", name)}
	}
	if !details.Running {
		return fmt.Errorf("%w: status %s", errNotReady, details.Status)
	}
	if details.Health == "starting" {
		return fmt.Errorf("%w: health check starting", errNotReady)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
