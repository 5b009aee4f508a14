// Package daemon coordinates the long-running data scanner process.
//
// It wires configuration, the transition ledger, metrics and the workflow
// manager into a single lifecycle with flock-based locking so only one
// instance watches a scan root. The daemon also serves the Prometheus
// endpoint and answers the status and ledger queries forwarded by the IPC
// server.
//
// Keep orchestration logic here: the pipeline stages live in their own
// packages while the daemon focuses on startup, shutdown and reporting.
package daemon
