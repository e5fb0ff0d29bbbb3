package chain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State is a position in the chain state machine.
type State int

const (
	NotStarted State = iota
	SyncRunning
	SyncFailed
	ProcessingRunning
	ProcessingFailed
	Completed
	ErrorState
)

var stateNames = map[State]string{
	NotStarted:        "not_started",
	SyncRunning:       "sync_running",
	SyncFailed:        "sync_failed",
	ProcessingRunning: "processing_running",
	ProcessingFailed:  "processing_failed",
	Completed:         "completed",
	ErrorState:        "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Label renders the state for humans, e.g. "Sync Running".
func (s State) Label() string {
	return Humanize(s.String())
}

// Humanize title-cases a snake_case state name such as a ledger state.
func Humanize(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case SyncFailed, ProcessingFailed, Completed, ErrorState:
		return true
	}
	return false
}
