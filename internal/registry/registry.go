// Package registry holds the authoritative last-known state of every tracker.
//
// One goroutine writes (the ingest loop); any number of readers take
// snapshots. Records are replaced whole, never patched, and never removed:
// a tracker that stops reporting stays at its last position.
package registry

import (
	"sync"

	"espc3d/internal/pipeline"
)

type Registry struct {
	mu       sync.RWMutex
	trackers map[string]pipeline.TrackerRecord
}

func New() *Registry {
	return &Registry{trackers: make(map[string]pipeline.TrackerRecord)}
}

// Upsert replaces (or inserts) the record stored under rec.ID.
func (r *Registry) Upsert(rec pipeline.TrackerRecord) {
	r.mu.Lock()
	r.trackers[rec.ID] = rec
	r.mu.Unlock()
}

// Snapshot returns an independent copy of every record. Attribute maps are
// shared with the registry but are never mutated after an upsert.
func (r *Registry) Snapshot() map[string]pipeline.TrackerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]pipeline.TrackerRecord, len(r.trackers))
	for id, rec := range r.trackers {
		out[id] = rec
	}
	return out
}

func (r *Registry) Get(id string) (pipeline.TrackerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.trackers[id]
	return rec, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}
