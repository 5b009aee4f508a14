package queue

import (
	"path/filepath"
	"time"
)

// Request asks the registration stage to take over one dataset directory
// found in a user's registration folder.
type Request struct {
	// Created is when the scanner observed the dataset. It is not part of
	// the request identity.
	Created      time.Time
	LastModified time.Time
	// Origin is the registration folder containing the dataset.
	Origin string
	// Target is the dataset directory itself.
	Target string
	// UserPath is the owning user's root folder.
	UserPath string
}

// Key identifies a request by origin, target and modification time.
type Key struct {
	Origin       string
	Target       string
	LastModified int64
}

// NewRequest builds a request for the dataset at target.
func NewRequest(target string, lastModified time.Time, userPath string) Request {
	return Request{
		Created:      time.Now(),
		LastModified: lastModified,
		Origin:       filepath.Dir(target),
		Target:       target,
		UserPath:     userPath,
	}
}

// Key returns the comparable identity used for deduplication.
func (r Request) Key() Key {
	return Key{Origin: r.Origin, Target: r.Target, LastModified: r.LastModified.UnixNano()}
}

// Equal reports whether both requests describe the same dataset state.
func (r Request) Equal(other Request) bool {
	return r.Key() == other.Key()
}
