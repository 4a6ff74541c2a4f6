package domain

import "time"

// Outcome classifies the end of an update session for callers.
type Outcome string

const (
	// OutcomeCurrent means the installation was already up to date.
	OutcomeCurrent Outcome = "current"
	// OutcomeUpdated means the new version is running and validated.
	OutcomeUpdated Outcome = "updated"
	// OutcomeRolledBack means the update failed and the old container is restored.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeRollbackFailed means the update and the rollback both failed.
	// The container slot is in an unknown state and needs an operator.
	OutcomeRollbackFailed Outcome = "rollback_failed"
	// OutcomeFailed means the session stopped before anything was touched.
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected means another session holds the container.
	OutcomeRejected Outcome = "rejected"
)

// UpdateResult is what PerformUpdate hands back to callers.
type UpdateResult struct {
	SessionID       string   `json:"session_id"`
	Success         bool     `json:"success"`
	Outcome         Outcome  `json:"outcome"`
	AppliedVersion  string   `json:"applied_version,omitempty"`
	PreviousVersion string   `json:"previous_version,omitempty"`
	RolledBack      bool     `json:"rolled_back"`
	Error           string   `json:"error,omitempty"`
	RollbackError   string   `json:"rollback_error,omitempty"`
	FailedState     *State   `json:"failed_state,omitempty"`
	BackupContainer string   `json:"backup_container,omitempty"`
	Trail           []State  `json:"trail"`
	Messages        []string `json:"messages"`
}

// ActivityEntry is one line of the operation log.
type ActivityEntry struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Level   string    `json:"level"` // info, warn, error
	Message string    `json:"message"`
}
