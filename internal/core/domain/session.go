package domain

import (
	"fmt"
	"time"
)

// State is a step of the update state machine.
type State int

const (
	StateIdle State = iota
	StateEnvironmentCheck
	StatePreflight
	StateBackup
	StatePull
	StateStop
	StateRename
	StateRecreate
	StateValidate
	StateDone
	StateRollback
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateEnvironmentCheck: "environment_check",
	StatePreflight:        "preflight",
	StateBackup:           "backup",
	StatePull:             "pull",
	StateStop:             "stop",
	StateRename:           "rename",
	StateRecreate:         "recreate",
	StateValidate:         "validate",
	StateDone:             "done",
	StateRollback:         "rollback",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states appear by name in JSON results.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Committed reports whether a failure in this state needs a rollback.
func (s State) Committed() bool {
	switch s {
	case StatePull, StateStop, StateRename, StateRecreate, StateValidate:
		return true
	}
	return false
}

// transitions lists the legal successors of each state. The pipeline is
// linear; Backup may finish early in Done when the installation is current.
var transitions = map[State][]State{
	StateIdle:             {StateEnvironmentCheck},
	StateEnvironmentCheck: {StatePreflight, StateFailed},
	StatePreflight:        {StateBackup, StateFailed},
	StateBackup:           {StatePull, StateDone, StateFailed},
	StatePull:             {StateStop, StateRollback},
	StateStop:             {StateRename, StateRollback},
	StateRename:           {StateRecreate, StateRollback},
	StateRecreate:         {StateValidate, StateRollback},
	StateValidate:         {StateDone, StateRollback},
	StateRollback:         {StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded move of a session.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// UpdateSession is the state threaded through one PerformUpdate call.
type UpdateSession struct {
	ID                  string
	State               State
	History             []Transition
	Identity            ContainerIdentity
	Target              *VersionDescriptor
	PreviousVersion     string
	Snapshot            *BackupSnapshot
	BackupContainerName string
	Messages            []string
}

// NewUpdateSession starts a session in Idle.
func NewUpdateSession(id string) *UpdateSession {
	return &UpdateSession{ID: id, State: StateIdle}
}

// Advance moves the session to the next state, rejecting illegal moves.
func (s *UpdateSession) Advance(to State, at time.Time) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.State, to)
	}
	s.History = append(s.History, Transition{From: s.State, To: to, At: at})
	s.State = to
	return nil
}

// Trail returns the visited states, starting with Idle.
func (s *UpdateSession) Trail() []State {
	trail := []State{StateIdle}
	for _, t := range s.History {
		trail = append(trail, t.To)
	}
	return trail
}

// Logf appends a status message for the caller.
func (s *UpdateSession) Logf(format string, args ...any) {
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
}
