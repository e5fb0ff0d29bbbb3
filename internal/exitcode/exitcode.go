// Package exitcode defines the process exit statuses mmloader reports and
// the error type that carries them from a failing component up to main.
package exitcode

import (
	"errors"
	"fmt"
)

// Exit statuses form the contract with operators and wrapping scripts.
// Preflight categories share status 1 and are told apart by the diagnostic.
const (
	Success                   = 0
	General                   = 1
	MissingInterpreter        = 1
	WrongWorkingDirectory     = 1
	MissingDependency         = 1
	Config                    = 2
	MissingEnvironmentTool    = 3
	EnvironmentCreationFailed = 3
	EnvironmentInstallFailed  = 4
	MissingSiblingScript      = 5
)

// Error pairs a failure with the status the process should exit with.
type Error struct {
	Code int
	Err  error
}

// New wraps err with the given exit status. A nil err yields a generic
// message so the status is never lost.
func New(code int, err error) *Error {
	if err == nil {
		err = fmt.Errorf("exit status %d", code)
	}
	return &Error{Code: code, Err: err}
}

// Newf formats a message and wraps it with the given exit status.
func Newf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// From maps err to an exit status: nil is Success, an *Error anywhere in the
// chain yields its Code, anything else is General.
func From(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) && coded != nil {
		return coded.Code
	}
	return General
}

// Silent reports whether err only carries a status forwarded from a child
// process, in which case the child already printed its own diagnostics.
func Silent(err error) bool {
	var coded *Error
	if !errors.As(err, &coded) || coded == nil {
		return false
	}
	var fwd forwarded
	return errors.As(coded.Err, &fwd)
}

type forwarded struct{ code int }

func (f forwarded) Error() string { return fmt.Sprintf("child exited with status %d", f.code) }

// Forward returns an error that makes the process exit with a child's
// status without printing an extra diagnostic.
func Forward(code int) *Error {
	return &Error{Code: code, Err: forwarded{code: code}}
}
