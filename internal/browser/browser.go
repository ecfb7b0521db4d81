// Package browser manages instrumented Chrome instances: a pool that leases
// them out one crawl session at a time, and the narrow contract each leased
// instance exposes to the crawler.
package browser

import (
	"context"
	"encoding/json"

	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// Browser is the contract one leased renderer instance exposes to a crawl
// session. Every method that talks to the browser takes a context and
// returns either nil, a soft error (InterfaceError / TimeoutError) or an
// unanticipated hard error.
type Browser interface {
	// SetDebuggingID tags all subsequent log output of this instance with
	// the crawl invocation's correlation token.
	SetDebuggingID(id string)

	// Navigate starts loading the given URL. It returns once navigation has
	// been committed, not once the page has finished loading.
	Navigate(ctx context.Context, url string) error

	// WaitForLoad blocks until the page reports a complete load or the
	// instance's load timeout elapses. It returns false without an error
	// when the page is still loading at the deadline; callers are expected
	// to use whatever DOM state exists at that point.
	WaitForLoad(ctx context.Context) (bool, error)

	// Stop halts any further loading and navigation, freezing the DOM.
	Stop(ctx context.Context) error

	// NavigateBlank loads about:blank to release DOM memory before the
	// instance goes back to the pool.
	NavigateBlank(ctx context.Context) error

	// Sink returns the traffic sink this instance is currently bound to.
	Sink() traffic.Sink
}

// DOMReader is implemented by browsers that can dump the rendered DOM.
// Extraction strategies type-assert for it.
type DOMReader interface {
	DOM(ctx context.Context) (string, error)
}

// Evaluator is implemented by browsers that can evaluate JavaScript in the
// page and return the JSON-encoded result.
type Evaluator interface {
	Eval(ctx context.Context, expr string) (json.RawMessage, error)
}

// DebugInfo exposes captured console output and page JS errors. Only used by
// test and debug tooling against a single-instance pool.
type DebugInfo interface {
	ConsoleMessages() []string
	JSErrors() []string
}

// Pool hands out browser instances to crawl sessions. Acquire/Free/Evict
// must be safe for concurrent use; the crawler never holds one instance
// across two sessions.
type Pool interface {
	// Acquire leases an instance bound to the given sink and debugging
	// identifier. It blocks until an instance is idle or the pool's acquire
	// timeout elapses, in which case it returns ErrNoInstance (or
	// ErrPoolClosed after shutdown).
	Acquire(ctx context.Context, sink traffic.Sink, debuggingID string) (Browser, error)

	// Free returns a healthy instance to the pool for reuse.
	Free(b Browser)

	// Evict permanently discards an instance whose health is no longer
	// trusted. The reason names the operation that failed.
	Evict(b Browser, reason string)

	// IdleInstances returns a snapshot of the instances currently idle in
	// the pool. Debug/test introspection only.
	IdleInstances() []Browser

	// Shutdown discards every instance and releases the pool.
	Shutdown() error
}
