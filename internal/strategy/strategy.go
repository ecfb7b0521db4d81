// Package strategy holds the extraction strategies the crawler runs against
// a loaded page. Each strategy performs one crawling technique and emits the
// HTTP traffic it discovers through the browser's bound sink.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rendercrawl/rendercrawl/internal/browser"
)

// Strategy is one crawling technique executed against a loaded browser.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// DebuggingID returns the correlation token of the crawl invocation
	// this strategy instance belongs to.
	DebuggingID() string

	// Run executes the extraction against the loaded browser. Soft browser
	// errors and ExtractionError cause the session to skip; anything else
	// is treated as a hard failure.
	Run(ctx context.Context, b browser.Browser, pageURL string) error
}

// Factory builds a fresh strategy instance for one crawl invocation.
// Strategies are not reused across invocations; cross-session memory lives
// in the shared State.
type Factory func(shared *State, debuggingID string) Strategy

// DefaultFactories is the ordered list of strategies a crawl runs, one
// session each. JS extraction runs first so event handlers fire against the
// freshest DOM.
var DefaultFactories = []Factory{NewJSLinks, NewDOMDump}

// ExtractionError is a strategy-reported failure. It is part of the soft
// taxonomy: the session skips, the browser stays healthy.
type ExtractionError struct {
	Strategy string
	Err      error
}

// Error implements the error interface
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed in %s strategy: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying error
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsSoft reports whether err should skip the session instead of failing it.
func IsSoft(err error) bool {
	if browser.IsSoft(err) {
		return true
	}
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// State is the cross-session memory shared by all strategy instances of one
// scan. It remembers which JS event handlers were already exercised so the
// same handler is not dispatched again on every page that embeds it.
type State struct {
	mu            sync.Mutex
	seenListeners map[uint64]struct{}
}

// NewState creates an empty shared state.
func NewState() *State {
	return &State{seenListeners: make(map[uint64]struct{})}
}

// MarkListenerSeen records the handler fingerprint and reports whether it
// was new.
func (s *State) MarkListenerSeen(fingerprint uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seenListeners[fingerprint]; ok {
		return false
	}
	s.seenListeners[fingerprint] = struct{}{}
	return true
}

// ListenerCount returns how many distinct handlers were observed so far.
func (s *State) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seenListeners)
}

// fingerprint hashes an event handler's identity.
func fingerprint(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
