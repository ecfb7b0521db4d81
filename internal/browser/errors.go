// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

// Common browser errors
var (
	ErrPoolClosed   = errors.New("browser pool is closed")
	ErrNoInstance   = errors.New("no browser instance available")
	ErrNotSupported = errors.New("operation not supported by this browser")
)

// InterfaceError is a failure talking to the remote-debugging interface of a
// browser instance. It is a soft error: the crawl session that hit it is
// skipped, never propagated.
type InterfaceError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *InterfaceError) Error() string {
	return fmt.Sprintf("browser interface error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *InterfaceError) Unwrap() error {
	return e.Err
}

// TimeoutError is a browser operation that ran out of time. Like
// InterfaceError it is soft: sessions skip, they do not fail.
type TimeoutError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("browser timeout during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsSoft reports whether err belongs to the recoverable browser error
// taxonomy. Anything outside it is treated as a hard failure by the crawler.
func IsSoft(err error) bool {
	if err == nil {
		return false
	}
	var ie *InterfaceError
	if errors.As(err, &ie) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}
