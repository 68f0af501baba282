package model

// RunStatus represents the current state of a slug analysis run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Valid reports whether s is one of the known run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. Terminal runs are
// historical records and are never transitioned again; a retry creates a
// fresh progress record instead.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether a run may move from s to the target status.
// The only legal moves are pending->running, running->completed and
// running->failed.
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunStatusPending:
		return to == RunStatusRunning
	case RunStatusRunning:
		return to == RunStatusCompleted || to == RunStatusFailed
	}
	return false
}
