// Package watcher polls the reviewed document directories and runs the
// processor when new files appear.
//
// Files present at startup are recorded as already processed, as are all
// files present after a successful pass. With a ledger attached the set
// survives restarts; without one it lives in memory.
package watcher
