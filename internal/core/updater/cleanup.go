package updater

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	"github.com/melih/lighthouse-updater/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// CleanupOptions tunes deferred removal of backup containers.
type CleanupOptions struct {
	// Delay is the operator window before a backup container is removed.
	Delay time.Duration
	// RetryDelay separates failed removal attempts.
	RetryDelay  time.Duration
	MaxAttempts int
}

// DefaultCleanupOptions returns the production cleanup settings.
func DefaultCleanupOptions() CleanupOptions {
	return CleanupOptions{
		Delay:       10 * time.Minute,
		RetryDelay:  30 * time.Second,
		MaxAttempts: 3,
	}
}

// CleanupFailure reports a failed removal attempt.
type CleanupFailure struct {
	Container string
	Attempt   int
	Final     bool
	Err       error
	At        time.Time
}

// CleanupScheduler removes backup containers after a delay. Each removal is
// a supervised service: it survives the request that scheduled it, can be
// cancelled, and reports failures on its own channel instead of to the caller.
type CleanupScheduler struct {
	sup      *suture.Supervisor
	runtime  ports.ContainerRuntime
	activity ports.ActivityLog
	opts     CleanupOptions
	failures chan CleanupFailure

	mu      sync.Mutex
	pending map[string]suture.ServiceToken
}

// NewCleanupScheduler creates a scheduler. It does nothing until Serve runs.
func NewCleanupScheduler(runtime ports.ContainerRuntime, activity ports.ActivityLog, opts CleanupOptions) *CleanupScheduler {
	def := DefaultCleanupOptions()
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}

	spec := suture.Spec{
		EventHook: func(e suture.Event) {
			log.WithFields(log.Fields(e.Map())).Warnf("Cleanup supervisor: %s", e.String())
		},
		Timeout: 5 * time.Second,
	}
	return &CleanupScheduler{
		sup:      suture.New("backup-cleanup", spec),
		runtime:  runtime,
		activity: activity,
		opts:     opts,
		failures: make(chan CleanupFailure, 16),
		pending:  map[string]suture.ServiceToken{},
	}
}

// Serve runs the cleanup supervisor until ctx is done. It satisfies
// suture.Service so the scheduler can sit in a larger supervisor tree.
func (s *CleanupScheduler) Serve(ctx context.Context) error {
	return s.sup.Serve(ctx)
}

func (s *CleanupScheduler) String() string { return "backup-cleanup" }

// Schedule queues removal of container after the configured delay.
// Scheduling an already pending container is a no-op.
func (s *CleanupScheduler) Schedule(container string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[container]; ok {
		return
	}
	task := &cleanupTask{
		scheduler: s,
		container: container,
		due:       time.Now().Add(s.opts.Delay),
	}
	s.pending[container] = s.sup.Add(task)
	metrics.CleanupsPending.Inc()
	log.Infof("Scheduled removal of backup container %s in %v", container, s.opts.Delay)
}

// Cancel drops a pending removal. It reports whether one was pending.
func (s *CleanupScheduler) Cancel(container string) bool {
	s.mu.Lock()
	token, ok := s.pending[container]
	if ok {
		delete(s.pending, container)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	if err := s.sup.Remove(token); err != nil {
		log.WithError(err).Debugf("Cleanup task for %s already finished", container)
	}
	metrics.CleanupsPending.Dec()
	metrics.Cleanups.WithLabelValues("cancelled").Inc()
	log.Infof("Cancelled removal of backup container %s", container)
	return true
}

// Pending lists containers awaiting removal.
func (s *CleanupScheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for name := range s.pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Failures delivers failed attempts. Sends never block; when nobody reads,
// failures are still logged and counted.
func (s *CleanupScheduler) Failures() <-chan CleanupFailure {
	return s.failures
}

func (s *CleanupScheduler) finish(container, result string) {
	s.mu.Lock()
	_, ok := s.pending[container]
	delete(s.pending, container)
	s.mu.Unlock()
	if ok {
		metrics.CleanupsPending.Dec()
	}
	metrics.Cleanups.WithLabelValues(result).Inc()
}

func (s *CleanupScheduler) report(f CleanupFailure) {
	entry := log.WithError(f.Err).WithField("container", f.Container)
	if f.Final {
		entry.Errorf("Giving up removing backup container after %d attempt(s)", f.Attempt)
	} else {
		entry.Warnf("Failed to remove backup container (attempt %d), will retry", f.Attempt)
	}
	if s.activity != nil {
		s.activity.Record(context.Background(), domain.ActivityEntry{
			Time:    f.At,
			Level:   "error",
			Message: fmt.Sprintf("cleanup of %s failed (attempt %d): %v", f.Container, f.Attempt, f.Err),
		})
	}
	select {
	case s.failures <- f:
	default:
	}
}

// cleanupTask removes one backup container. The supervisor restarts it on
// failure; restarts do not wait for the initial delay again.
type cleanupTask struct {
	scheduler *CleanupScheduler
	container string
	due       time.Time
	attempts  int
}

func (t *cleanupTask) String() string { return "cleanup " + t.container }

func (t *cleanupTask) Serve(ctx context.Context) error {
	s := t.scheduler
	t.attempts++

	wait := time.Until(t.due)
	if t.attempts > 1 && wait < s.opts.RetryDelay {
		wait = s.opts.RetryDelay
	}
	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}

	err := s.runtime.RemoveContainer(ctx, t.container)
	if err == nil || errors.Is(err, domain.ErrContainerNotFound) {
		log.Infof("Removed backup container %s", t.container)
		s.finish(t.container, "removed")
		return suture.ErrDoNotRestart
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	final := t.attempts >= s.opts.MaxAttempts
	s.report(CleanupFailure{Container: t.container, Attempt: t.attempts, Final: final, Err: err, At: time.Now()})
	if final {
		s.finish(t.container, "failed")
		return suture.ErrDoNotRestart
	}
	return err
}
