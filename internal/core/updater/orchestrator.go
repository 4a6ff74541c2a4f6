// Package updater drives one self-update session: it snapshots the running
// container, swaps it for the latest published image, validates the result
// and restores the snapshot when anything after the commit point fails.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	"github.com/melih/lighthouse-updater/internal/core/version"
	"github.com/melih/lighthouse-updater/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// EnvironmentDetector tells whether the process runs inside a container and which one.
type EnvironmentDetector interface {
	InContainer() bool
	Identity() domain.ContainerIdentity
}

// PreflightRunner runs the readiness checks.
type PreflightRunner interface {
	Run(ctx context.Context) error
}

// LatestResolver resolves the latest published version.
type LatestResolver interface {
	Latest(ctx context.Context) (domain.VersionDescriptor, error)
}

// LocalResolver determines the installed version.
type LocalResolver interface {
	Lookup(ctx context.Context, identity *domain.ContainerIdentity) domain.LocalInstallation
}

// CleanupQueue takes backup containers for deferred removal.
type CleanupQueue interface {
	Schedule(container string)
}

// Deps are the collaborators of an Orchestrator. Cleanup and Activity are optional.
type Deps struct {
	Detector  EnvironmentDetector
	Preflight PreflightRunner
	Resolver  LatestResolver
	Local     LocalResolver
	Runtime   ports.ContainerRuntime
	Cleanup   CleanupQueue
	Activity  ports.ActivityLog
}

// Options configures an Orchestrator.
type Options struct {
	// Repository is the image repository updates are pulled from.
	Repository string
	Validation ValidationOptions
}

// Orchestrator runs update sessions.
type Orchestrator struct {
	detector   EnvironmentDetector
	preflight  PreflightRunner
	resolver   LatestResolver
	local      LocalResolver
	runtime    ports.ContainerRuntime
	cleanup    CleanupQueue
	activity   ports.ActivityLog
	backup     *BackupManager
	validation *ValidationGate
	rollback   *RollbackManager
	repository string

	lock   *sessionLock
	checks singleflight.Group
	now    func() time.Time
	newID  func() string
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{
		detector:   deps.Detector,
		preflight:  deps.Preflight,
		resolver:   deps.Resolver,
		local:      deps.Local,
		runtime:    deps.Runtime,
		cleanup:    deps.Cleanup,
		activity:   deps.Activity,
		backup:     NewBackupManager(deps.Runtime),
		validation: NewValidationGate(deps.Runtime, opts.Validation),
		rollback:   NewRollbackManager(deps.Runtime),
		repository: opts.Repository,
		lock:       newSessionLock(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Busy reports whether an update session is running.
func (o *Orchestrator) Busy() bool {
	return o.lock.Held()
}

// CheckVersion compares the installed version with the latest published one.
// It never mutates the runtime. Concurrent calls share one registry round trip.
func (o *Orchestrator) CheckVersion(ctx context.Context) (domain.VersionCheck, error) {
	v, err, shared := o.checks.Do("check", func() (any, error) {
		// Coalesced callers share this call; one of them going away must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		remote, err := o.resolver.Latest(ctx)
		if err != nil {
			return nil, err
		}
		var identity *domain.ContainerIdentity
		if o.detector != nil && o.detector.InContainer() {
			id := o.detector.Identity()
			identity = &id
		}
		local := o.local.Lookup(ctx, identity)
		return domain.VersionCheck{
			Local:       local,
			Remote:      remote,
			NeedsUpdate: domain.NeedsUpdate(local, remote),
		}, nil
	})
	if err != nil {
		metrics.VersionChecks.WithLabelValues("error").Inc()
		log.WithError(err).Warn("Version check failed")
		return domain.VersionCheck{}, err
	}
	check := v.(domain.VersionCheck)
	if shared {
		log.Debug("Version check result shared with a concurrent caller")
	}
	if check.NeedsUpdate {
		metrics.VersionChecks.WithLabelValues("update_available").Inc()
	} else {
		metrics.VersionChecks.WithLabelValues("current").Inc()
	}
	return check, nil
}

// PerformUpdate runs one update session to completion. It always returns a
// result; errors are carried inside it. Once the backup snapshot exists the
// session ignores cancellation of ctx so it cannot stop between a destructive
// step and its rollback.
func (o *Orchestrator) PerformUpdate(ctx context.Context) domain.UpdateResult {
	session := domain.NewUpdateSession(o.newID())
	result := o.perform(ctx, session)
	metrics.UpdateSessions.WithLabelValues(string(result.Outcome)).Inc()

	entry := log.WithFields(log.Fields{
		"session": session.ID,
		"outcome": result.Outcome,
		"trail":   result.Trail,
	})
	if result.Success {
		entry.Info("Update session finished")
	} else {
		entry.WithField("error", result.Error).Warn("Update session failed")
	}
	return result
}

func (o *Orchestrator) perform(ctx context.Context, s *domain.UpdateSession) domain.UpdateResult {
	// 1. Environment check
	if err := o.advance(ctx, s, domain.StateEnvironmentCheck); err != nil {
		return o.abort(ctx, s, err)
	}
	if !o.detector.InContainer() {
		return o.abort(ctx, s, &domain.EnvironmentError{Err: domain.ErrNotInContainer})
	}
	s.Identity = o.detector.Identity()
	o.record(ctx, s, "info", "running in container %s", s.Identity.Ref())

	key := s.Identity.Ref()
	if !o.lock.TryLock(key) {
		result := o.abort(ctx, s, domain.ErrUpdateInProgress)
		result.Outcome = domain.OutcomeRejected
		return result
	}
	defer o.lock.Unlock(key)

	return o.execute(ctx, s)
}

func (o *Orchestrator) execute(ctx context.Context, s *domain.UpdateSession) (result domain.UpdateResult) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("session", s.ID).Errorf("Update session panicked: %v", r)
			result = o.abort(context.WithoutCancel(ctx), s, fmt.Errorf("update panicked: %v", r))
		}
	}()

	// 2. Preflight
	if err := o.step(ctx, s, domain.StatePreflight, func() error {
		return o.preflight.Run(ctx)
	}); err != nil {
		return o.abort(ctx, s, err)
	}

	// 3. Backup
	if err := o.step(ctx, s, domain.StateBackup, func() error {
		snap, err := o.backup.Snapshot(ctx, s.Identity)
		if err != nil {
			return err
		}
		s.Snapshot = snap
		return nil
	}); err != nil {
		return o.abort(ctx, s, err)
	}
	o.record(ctx, s, "info", "captured snapshot of %s running %s", s.Snapshot.ContainerName, s.Snapshot.Image)

	// From here on a rollback must be able to finish.
	ctx = context.WithoutCancel(ctx)

	// 4. Compare
	remote, err := o.resolver.Latest(ctx)
	if err != nil {
		return o.abort(ctx, s, err)
	}
	local := o.local.Lookup(ctx, &s.Identity)
	s.Target = &remote
	if local.Exists {
		s.PreviousVersion = local.Version
	}
	if !domain.NeedsUpdate(local, remote) {
		o.record(ctx, s, "info", "already running latest version %s", local.Version)
		if err := o.advance(ctx, s, domain.StateDone); err != nil {
			return o.abort(ctx, s, err)
		}
		return o.finish(s, domain.OutcomeCurrent)
	}
	image, err := version.ImageRef(o.repository, remote.Version)
	if err != nil {
		return o.abort(ctx, s, err)
	}
	o.record(ctx, s, "info", "updating %s from %s to %s", s.Snapshot.ContainerName, local.Version, remote.Version)

	name := s.Snapshot.ContainerName
	backupName := domain.BackupContainerName(name, o.now())

	// 5-9. Committed steps. Any failure rolls back to the snapshot.
	steps := []struct {
		state domain.State
		run   func() error
	}{
		{domain.StatePull, func() error { return o.runtime.PullImage(ctx, image) }},
		{domain.StateStop, func() error { return o.runtime.StopContainer(ctx, name) }},
		{domain.StateRename, func() error {
			if err := o.runtime.RenameContainer(ctx, name, backupName); err != nil {
				return err
			}
			s.BackupContainerName = backupName
			return nil
		}},
		{domain.StateRecreate, func() error {
			id, err := o.runtime.RunContainer(ctx, s.Snapshot.RunSpec(image))
			if err == nil {
				o.record(ctx, s, "info", "started %s as %s", image, shortID(id))
			}
			return err
		}},
		{domain.StateValidate, func() error { return o.validation.Validate(ctx, name, remote.Version) }},
	}
	for _, st := range steps {
		if err := o.step(ctx, s, st.state, st.run); err != nil {
			return o.abort(ctx, s, &domain.UpdateError{Step: st.state, Err: err})
		}
	}

	// 10. Done
	if err := o.advance(ctx, s, domain.StateDone); err != nil {
		return o.abort(ctx, s, err)
	}
	if o.cleanup != nil {
		o.cleanup.Schedule(backupName)
		o.record(ctx, s, "info", "scheduled removal of backup container %s", backupName)
	}
	return o.finish(s, domain.OutcomeUpdated)
}

// step advances into state and runs fn, timing it.
func (o *Orchestrator) step(ctx context.Context, s *domain.UpdateSession, state domain.State, fn func() error) error {
	if err := o.advance(ctx, s, state); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	metrics.UpdateStepDuration.WithLabelValues(state.String()).Observe(time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) advance(ctx context.Context, s *domain.UpdateSession, to domain.State) error {
	if err := s.Advance(to, o.now()); err != nil {
		return err
	}
	log.WithFields(log.Fields{"session": s.ID, "state": to}).Debug("Update session advanced")
	return nil
}

// abort ends the session after err. Failures before the commit point end in
// Failed; later ones restore the snapshot first.
func (o *Orchestrator) abort(ctx context.Context, s *domain.UpdateSession, err error) domain.UpdateResult {
	failed := s.State
	o.record(ctx, s, "error", "%s failed: %v", failed, err)

	result := o.result(s)
	result.Error = err.Error()
	result.FailedState = &failed

	if !failed.Committed() || s.Snapshot == nil {
		o.forceState(s, domain.StateFailed)
		result.Outcome = domain.OutcomeFailed
		result.Trail = s.Trail()
		result.Messages = s.Messages
		return result
	}

	o.forceState(s, domain.StateRollback)
	o.record(ctx, s, "warn", "rolling back %s to %s", s.Snapshot.ContainerName, s.Snapshot.Image)
	start := time.Now()
	rbErr := o.rollback.Restore(context.WithoutCancel(ctx), s.Snapshot)
	metrics.UpdateStepDuration.WithLabelValues(domain.StateRollback.String()).Observe(time.Since(start).Seconds())
	o.forceState(s, domain.StateFailed)

	if rbErr != nil {
		rollbackErr := &domain.RollbackError{Cause: err, Err: rbErr}
		o.record(ctx, s, "error", "%v", rollbackErr)
		result.Outcome = domain.OutcomeRollbackFailed
		result.RollbackError = rollbackErr.Error()
	} else {
		o.record(ctx, s, "info", "restored %s from snapshot", s.Snapshot.ContainerName)
		result.Outcome = domain.OutcomeRolledBack
		result.RolledBack = true
	}
	result.Trail = s.Trail()
	result.Messages = s.Messages
	return result
}

// forceState moves to a terminal state. A refused transition is logged and
// the state is set anyway so the session can never end mid-pipeline.
func (o *Orchestrator) forceState(s *domain.UpdateSession, to domain.State) {
	if err := s.Advance(to, o.now()); err != nil {
		log.WithField("session", s.ID).WithError(err).Error("Forcing session state")
		s.History = append(s.History, domain.Transition{From: s.State, To: to, At: o.now()})
		s.State = to
	}
}

func (o *Orchestrator) finish(s *domain.UpdateSession, outcome domain.Outcome) domain.UpdateResult {
	result := o.result(s)
	result.Success = true
	result.Outcome = outcome
	if outcome == domain.OutcomeUpdated && s.Target != nil {
		result.AppliedVersion = s.Target.Version
	}
	result.Trail = s.Trail()
	result.Messages = s.Messages
	return result
}

func (o *Orchestrator) result(s *domain.UpdateSession) domain.UpdateResult {
	return domain.UpdateResult{
		SessionID:       s.ID,
		PreviousVersion: s.PreviousVersion,
		BackupContainer: s.BackupContainerName,
	}
}

// record appends a session message and mirrors it to the activity log.
func (o *Orchestrator) record(ctx context.Context, s *domain.UpdateSession, level, format string, args ...any) {
	s.Logf(format, args...)
	msg := s.Messages[len(s.Messages)-1]
	if o.activity != nil {
		o.activity.Record(ctx, domain.ActivityEntry{
			Time:    o.now(),
			Session: s.ID,
			Level:   level,
			Message: msg,
		})
	}
	log.WithField("session", s.ID).Debug(msg)
}
