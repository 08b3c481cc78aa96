package backend

import (
	"errors"
	"fmt"
)

// configurationError means the request could not be built from the current
// settings (unknown backend, no model, no eligible workers).
type configurationError struct {
	backend Kind
	msg     string
}

func (e configurationError) Error() string {
	return fmt.Sprintf("%s: configuration: %s", e.backend, e.msg)
}

// ErrConfiguration constructs a configuration error.
func ErrConfiguration(k Kind, msg string) error { return configurationError{backend: k, msg: msg} }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	var ce configurationError
	return errors.As(err, &ce)
}

// authError means the provider rejected the credentials or model selection.
type authError struct {
	backend Kind
	status  int
	msg     string
}

func (e authError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("%s: auth (%d): %s", e.backend, e.status, e.msg)
	}
	return fmt.Sprintf("%s: auth: %s", e.backend, e.msg)
}

// ErrAuth constructs an authentication error.
func ErrAuth(k Kind, status int, msg string) error {
	return authError{backend: k, status: status, msg: msg}
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool {
	var ae authError
	return errors.As(err, &ae)
}

// TransportError wraps a failed request or a broken stream.
type TransportError struct {
	Backend Kind
	Op      string
	Status  int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: http %d: %v", e.Backend, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
