// Package ledger journals task directory transitions in a SQLite database.
//
// The filesystem stays the source of truth for where a task lives; the ledger
// only answers questions after the fact: which tasks were diverted to a user's
// error folder and why, how many reached the final targets, which stage needs
// an operator. Stages report through the Recorder interface so tests and the
// metrics package can observe the same events.
package ledger
