// Package notifications pushes operator alerts to ntfy.
//
// The Recorder plugs into the ledger fan-out next to the SQLite store and
// turns transitions that need a human into push messages: every task moved
// to an interventions folder, and optionally every dataset returned to its
// user. When no topic is configured NewRecorder returns ledger.Nop.
package notifications
