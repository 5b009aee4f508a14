package evaluation

import "github.com/qbicsoftware/data-scanner/internal/provenance"

// SetWriteProvenance swaps the sidecar writer and returns a restore func.
func SetWriteProvenance(fn func(dir string, record provenance.Record) error) func() {
	prev := writeProvenance
	writeProvenance = fn
	return func() { writeProvenance = prev }
}
