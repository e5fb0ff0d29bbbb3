// Package chain runs an ordered pipeline of steps, stopping at the first
// failure and forwarding that step's exit status.
//
// The standard pipeline is sync followed by processing. Each step is
// checked immediately before it runs; a failed check moves the chain to
// ErrorState, which is distinct from a step that ran and exited non-zero.
// Every state change is recorded in Outcome.Transitions.
package chain
