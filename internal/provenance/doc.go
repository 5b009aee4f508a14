// Package provenance reads and writes the provenance.json sidecar that travels
// with every task directory.
//
// A Record is an immutable value: WithHistory returns a copy with one more
// location appended, so workers never share mutable state through it. Fields
// the current code does not know about are kept verbatim and written back on
// the next rewrite, which lets newer producers add annotations without older
// stages dropping them.
package provenance
