package openlibrary

import "fmt"

// TransportError wraps network and request failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("openlibrary: request failed: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a response whose status is not 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openlibrary: unexpected http status %d", e.Code)
}

// DecodeError reports a malformed or incomplete response body.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("openlibrary: decode response: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
