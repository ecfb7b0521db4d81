// internal/crawler/errors.go
package crawler

import (
	"errors"
	"fmt"
)

// ErrTerminated is returned when work is submitted after Terminate.
var ErrTerminated = errors.New("crawler has been terminated")

// PoolUnavailableError means a crawl session could not even start because no
// browser instance was available. It is always a hard failure: the caller
// must learn that capacity ran out, unlike soft per-page errors which are
// only logged.
type PoolUnavailableError struct {
	Err error
}

// Error implements the error interface
func (e *PoolUnavailableError) Error() string {
	return fmt.Sprintf("failed to get a browser instance: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *PoolUnavailableError) Unwrap() error {
	return e.Err
}
