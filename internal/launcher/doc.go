// Package launcher starts external programs in one of two modes.
//
// Run executes a Spec to completion, teeing output to the caller and an
// append-only log file, and reports the child's exit status. Start launches
// a Spec in its own session so it survives the invoking terminal, records a
// PID file, and returns a Handle that later invocations can recover with
// Attach. Lock guards the single-instance lock file used by detached
// programs.
package launcher
