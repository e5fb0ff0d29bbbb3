// Package logging assembles the slog loggers used by mmloader commands.
//
// It owns the console and JSON handlers, level parsing, output routing to
// stdout plus the mmloader.log file, and context helpers that tag log lines
// with run identifiers and chain steps. WarnWithContext and ErrorWithContext
// enforce the event_type/error_hint/impact fields every warning carries.
package logging
