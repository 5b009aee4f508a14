// Package workflow supervises the pipeline: the scanner goroutine feeding the
// bounded registration queue and the registration, processing and
// evaluation worker pools.
//
// The Manager wires one handler and one claim registry per stage, starts
// every worker on an errgroup and, on Stop, cancels the run context,
// interrupts each worker and joins the group. A worker interrupted while it
// holds a task finishes that task first, so no task directory is left half
// moved by an orderly shutdown.
//
// Status aggregates queue depth, tracked inbox folders, claims, per-worker
// counters and stage health for the daemon's control socket.
package workflow
