package rpc

import (
	"errors"
	"fmt"
)

// ErrEndpointsExhausted is returned when every configured endpoint has used
// up its retry budget for a call. Callers decide whether the surrounding
// batch or epoch is abandoned or retried on the next scheduler pass.
var ErrEndpointsExhausted = errors.New("rpc: all endpoints exhausted")

// ErrUnknownBlock is returned when the chain reports a height with no block.
// On NEAR this is normal (skipped heights), so callers should advance to the
// next height instead of retrying.
var ErrUnknownBlock = errors.New("rpc: unknown block")

// TransientError marks a failure worth retrying: timeout, connection
// failure, 5xx, or rate limiting.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient rpc error from %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedDataError marks an unexpected chain response shape. The offending
// record is skipped and logged; the surrounding batch continues.
type MalformedDataError struct {
	Method string
	Err    error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed response for %s: %v", e.Method, e.Err)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried or failed over.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
