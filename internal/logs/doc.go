// Package logs reads the watcher and processor log files for the CLI.
//
// Last returns the trailing lines of a file with bounded memory; Follow then
// streams complete lines appended after an offset until the context ends,
// restarting from the top when the file is truncated or replaced.
package logs
