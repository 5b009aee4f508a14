// Package preflight provides readiness checks for the filesystem paths the
// data scanner depends on.
//
// These checks run in three contexts:
//   - The daemon calls RunAll before starting any worker. A single failing
//     directory aborts startup.
//   - The scanner uses the Evaluate helpers to decide whether a user folder
//     or dataset may be picked up.
//   - The CLI "datascanner check" and "datascanner status" commands render
//     the results as a table.
package preflight
