package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FileName is the sidecar name every stage looks for inside a task directory.
const FileName = "provenance.json"

const (
	keyOrigin        = "origin"
	keyUser          = "user"
	keyHistory       = "history"
	keyMeasurementID = "measurementId"
	keyDatasetFiles  = "datasetFiles"
)

// Record captures where a dataset came from and every location it has been
// committed to since.
type Record struct {
	origin        string
	user          string
	measurementID string
	history       []string
	datasetFiles  []string
	extra         map[string]json.RawMessage
}

// New builds a record for a freshly registered dataset.
func New(origin, user, measurementID string, datasetFiles []string, history ...string) Record {
	return Record{
		origin:        origin,
		user:          user,
		measurementID: measurementID,
		history:       slices.Clone(history),
		datasetFiles:  slices.Clone(datasetFiles),
	}
}

func (r Record) Origin() string        { return r.origin }
func (r Record) User() string          { return r.user }
func (r Record) MeasurementID() string { return r.measurementID }

// History returns a copy of the recorded locations, oldest first.
func (r Record) History() []string { return slices.Clone(r.history) }

// DatasetFiles returns a copy of the registered file names.
func (r Record) DatasetFiles() []string { return slices.Clone(r.datasetFiles) }

// LastLocation reports the most recent history entry.
func (r Record) LastLocation() (string, bool) {
	if len(r.history) == 0 {
		return "", false
	}
	return r.history[len(r.history)-1], true
}

// WithHistory returns a copy of r with location appended to the history.
func (r Record) WithHistory(location string) Record {
	next := r
	next.history = append(slices.Clone(r.history), location)
	next.datasetFiles = slices.Clone(r.datasetFiles)
	if r.extra != nil {
		next.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			next.extra[k] = v
		}
	}
	return next
}

// Visit records that the task is now at location. It appends like
// WithHistory unless location is already the most recent entry.
func (r Record) Visit(location string) Record {
	if last, ok := r.LastLocation(); ok && last == location {
		return r
	}
	return r.WithHistory(location)
}

// MarshalJSON writes the known fields followed by any preserved unknown ones.
func (r Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, 5+len(r.extra))
	for k, v := range r.extra {
		fields[k] = v
	}
	fields[keyOrigin] = r.origin
	fields[keyUser] = r.user
	fields[keyMeasurementID] = r.measurementID
	fields[keyHistory] = nonNil(r.history)
	fields[keyDatasetFiles] = nonNil(r.datasetFiles)
	return json.Marshal(fields)
}

// UnmarshalJSON accepts any object and keeps fields it does not recognise.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("provenance: expected JSON object")
	}
	var decoded Record
	decodeField := func(key string, dst any) error {
		value, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return fmt.Errorf("provenance field %q: %w", key, err)
		}
		return nil
	}
	if err := decodeField(keyOrigin, &decoded.origin); err != nil {
		return err
	}
	if err := decodeField(keyUser, &decoded.user); err != nil {
		return err
	}
	if err := decodeField(keyMeasurementID, &decoded.measurementID); err != nil {
		return err
	}
	if err := decodeField(keyHistory, &decoded.history); err != nil {
		return err
	}
	if err := decodeField(keyDatasetFiles, &decoded.datasetFiles); err != nil {
		return err
	}
	if len(raw) > 0 {
		decoded.extra = raw
	}
	*r = decoded
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
