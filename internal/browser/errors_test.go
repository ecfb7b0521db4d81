package browser

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSoft(t *testing.T) {
	soft := []error{
		&InterfaceError{Op: "navigate", Err: errors.New("ws closed")},
		&TimeoutError{Op: "wait_for_load", Err: errors.New("deadline")},
		fmt.Errorf("wrapped: %w", &TimeoutError{Op: "stop", Err: errors.New("deadline")}),
	}
	for _, err := range soft {
		if !IsSoft(err) {
			t.Fatalf("expected %v to be soft", err)
		}
	}

	hard := []error{
		nil,
		errors.New("renderer crashed"),
		ErrPoolClosed,
		ErrNoInstance,
	}
	for _, err := range hard {
		if IsSoft(err) {
			t.Fatalf("expected %v to be hard", err)
		}
	}
}

func TestSoftErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	var err error = &InterfaceError{Op: "eval", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("InterfaceError must unwrap to its cause")
	}

	err = &TimeoutError{Op: "eval", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("TimeoutError must unwrap to its cause")
	}
}
