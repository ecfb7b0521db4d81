// Package seen tracks which URIs have already been crawled. The tracker is
// the gate that gives the crawler its at-most-once-per-URI guarantee, so
// MarkIfNew must be atomic with respect to concurrent callers.
package seen

import "sync"

// Tracker is a persistent set of crawled URI keys.
type Tracker interface {
	// Contains reports whether uri was already marked.
	Contains(uri string) (bool, error)

	// Add marks uri as crawled.
	Add(uri string) error

	// MarkIfNew atomically checks and marks uri. It returns true when uri
	// was not seen before, i.e. the caller won the right to crawl it.
	MarkIfNew(uri string) (bool, error)

	// Close releases any backing storage.
	Close() error
}

// MemoryTracker keeps the seen set in memory. Used by tests and by scans
// that do not need persistence across runs.
type MemoryTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{seen: make(map[string]struct{})}
}

// Contains reports whether uri was already marked.
func (t *MemoryTracker) Contains(uri string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[uri]
	return ok, nil
}

// Add marks uri as crawled.
func (t *MemoryTracker) Add(uri string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[uri] = struct{}{}
	return nil
}

// MarkIfNew atomically checks and marks uri.
func (t *MemoryTracker) MarkIfNew(uri string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[uri]; ok {
		return false, nil
	}
	t.seen[uri] = struct{}{}
	return true, nil
}

// Len returns the number of marked URIs.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Close implements Tracker. A no-op for the in-memory tracker.
func (t *MemoryTracker) Close() error {
	return nil
}
