// Package preflight verifies the prerequisites mmloader needs before it
// launches any program.
//
// Run evaluates three categories in a fixed order: the working directory
// (a marker file must be present), the interpreter, and the importable
// libraries. The first failing category stops evaluation; later checks are
// reported as skipped. Report.Err maps the failure to an exit code.
//
// CheckDirectoryAccess and CheckServer are standalone probes used by
// `mmloader status`.
package preflight
