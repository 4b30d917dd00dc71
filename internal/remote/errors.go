package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// KindNetwork means no response was received.
	KindNetwork ErrorKind = iota
	// KindRejected means the server answered with an error.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CallError is returned by Client for every failed call.
type CallError struct {
	Kind     ErrorKind
	Verb     string
	Endpoint string
	Status   int    // HTTP status, zero for network failures
	Message  string // server-supplied message, if any
	Err      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	switch {
	case e.Kind == KindRejected && e.Message != "":
		return fmt.Sprintf("%s %s: rejected (%d): %s", e.Verb, e.Endpoint, e.Status, e.Message)
	case e.Kind == KindRejected:
		return fmt.Sprintf("%s %s: rejected (%d)", e.Verb, e.Endpoint, e.Status)
	default:
		return fmt.Sprintf("%s %s: %v", e.Verb, e.Endpoint, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether err is a call that got no response.
func IsNetwork(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindNetwork
}

// IsRejected reports whether err is a call the server answered with an error.
func IsRejected(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindRejected
}
