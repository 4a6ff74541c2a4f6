package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotInContainer is returned when the updater is not running inside the managed runtime.
	ErrNotInContainer = errors.New("not running in managed container environment")
	// ErrContainerNotFound is returned by runtimes when a container does not exist.
	ErrContainerNotFound = errors.New("container not found")
	// ErrNoSnapshot is returned when a rollback is requested without a backup snapshot.
	ErrNoSnapshot = errors.New("no backup snapshot available for rollback")
	// ErrUpdateInProgress is returned when another session already owns the container.
	ErrUpdateInProgress = errors.New("an update is already in progress for this container")
)

// Network failure causes surfaced to users instead of raw transport errors.
const (
	CauseTimeout           = "timeout"
	CauseDNS               = "dns lookup failed"
	CauseConnectionRefused = "connection refused"
	CauseUnavailable       = "registry unavailable"
)

// NetworkError is a registry request that failed after all retries.
type NetworkError struct {
	Cause string
	Err   error
}

func (e *NetworkError) Error() string {
	return "failed to reach registry: " + e.Cause
}

func (e *NetworkError) Unwrap() error { return e.Err }

// EnvironmentError is a usage precondition failure: the updater cannot manage itself here.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string { return e.Err.Error() }

func (e *EnvironmentError) Unwrap() error { return e.Err }

// PreflightError names the readiness check that failed.
type PreflightError struct {
	Check string
	Err   error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight check %q failed: %v", e.Check, e.Err)
}

func (e *PreflightError) Unwrap() error { return e.Err }

// UpdateError is a failure in one of the committed pipeline steps.
type UpdateError struct {
	Step State
	Err  error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update failed during %s: %v", e.Step, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// ValidationError is returned when the new container never became healthy.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// RollbackError means restoring the snapshot failed after Cause had already failed the update.
type RollbackError struct {
	Cause error
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v (update error: %v)", e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// TimeoutError is a runtime command that did not finish within its deadline.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// CommandError is a runtime command that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}
