// Command datascanner runs the data scanner daemon and inspects it.
//
// "datascanner run" starts the pipeline in the foreground; "start" and
// "stop" manage a background instance. The remaining commands read the
// configuration, the transition ledger, the daemon log and the interventions
// folders, either through the daemon's socket or directly from disk when no
// daemon runs.
package main
