package client

import "fmt"

// TransportError indicates a non-2xx response or a network-level failure
// on one of the remote calls. The operation is aborted; retry is always
// left to the caller.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError indicates a 2xx response whose body does not
// match the expected shape, e.g. a missing data envelope or an
// unparsable numeric id. Propagated exactly like a transport failure.
type MalformedResponseError struct {
	Op     string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Reason)
}
