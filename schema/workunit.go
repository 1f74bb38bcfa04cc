package schema

import "strings"

// WorkunitID identifies a remote workunit (WUID).
type WorkunitID string

// WorkunitState is the lifecycle state reported by the workunit service.
type WorkunitState string

const (
	WorkunitUnknown   WorkunitState = "unknown"
	WorkunitSubmitted WorkunitState = "submitted"
	WorkunitCompiling WorkunitState = "compiling"
	WorkunitCompiled  WorkunitState = "compiled"
	WorkunitRunning   WorkunitState = "running"
	WorkunitBlocked   WorkunitState = "blocked"
	WorkunitWait      WorkunitState = "wait"
	WorkunitAborting  WorkunitState = "aborting"
	WorkunitCompleted WorkunitState = "completed"
	WorkunitFailed    WorkunitState = "failed"
	WorkunitAborted   WorkunitState = "aborted"
	WorkunitArchived  WorkunitState = "archived"
)

// NormalizeWorkunitState lowercases a raw service state.
func NormalizeWorkunitState(raw string) WorkunitState {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return WorkunitUnknown
	}
	return WorkunitState(value)
}

// Terminal reports whether the workunit will not change state again.
func (s WorkunitState) Terminal() bool {
	switch s {
	case WorkunitCompleted, WorkunitFailed, WorkunitAborted, WorkunitArchived:
		return true
	default:
		return false
	}
}

// ECLException is one compiler or runtime diagnostic from a workunit.
type ECLException struct {
	Source   string `json:"Source,omitempty"`
	Severity string `json:"Severity,omitempty"`
	Code     int    `json:"Code,omitempty"`
	Message  string `json:"Message"`
	FileName string `json:"FileName,omitempty"`
	LineNo   int    `json:"LineNo,omitempty"`
	Column   int    `json:"Column,omitempty"`
}
