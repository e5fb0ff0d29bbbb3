// Package ledger persists mmloader's run history and the set of document
// files the watcher has already handled.
//
// The store is a SQLite database (ledger.db in the state directory) opened
// in WAL mode with a busy timeout, so a running watcher and an interactive
// `mmloader history` can share it. Schema changes ship as embedded
// migrations applied on Open.
package ledger
