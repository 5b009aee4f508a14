// Package claims tracks which task directories a stage's workers are
// currently acting on.
package claims

import (
	"path/filepath"
	"sort"
	"sync"
)

// Registry is a set of claimed absolute paths. One registry is shared by the
// workers of a single stage; different stages never share one.
type Registry struct {
	name string
	mu   sync.Mutex
	held map[string]struct{}
}

// NewRegistry creates an empty registry labelled with the owning stage.
func NewRegistry(name string) *Registry {
	return &Registry{name: name, held: make(map[string]struct{})}
}

// Name returns the stage label.
func (r *Registry) Name() string { return r.name }

// TryClaim claims path and reports whether the caller now owns it. The check
// and the insert happen under one lock.
func (r *Registry) TryClaim(path string) bool {
	key := filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[key]; taken {
		return false
	}
	r.held[key] = struct{}{}
	return true
}

// Release drops the claim on path. Releasing an unclaimed path is a no-op.
func (r *Registry) Release(path string) {
	key := filepath.Clean(path)
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

// Held reports whether path is claimed.
func (r *Registry) Held(path string) bool {
	key := filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Len reports the number of claimed paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Snapshot returns the claimed paths in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	paths := make([]string, 0, len(r.held))
	for path := range r.held {
		paths = append(paths, path)
	}
	r.mu.Unlock()
	sort.Strings(paths)
	return paths
}
