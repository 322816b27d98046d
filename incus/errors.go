// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a backend failure. Callers use it to decide whether a
// call is worth retrying and how to report it.
type Kind int

const (
	// KindUnreachable means the request never produced an HTTP
	// response: the socket is missing, the connection was refused, or
	// the transport failed mid-flight.
	KindUnreachable Kind = iota

	// KindNotFound means the named instance, profile, or operation
	// does not exist.
	KindNotFound

	// KindConflict means the request collided with existing state,
	// such as creating an instance or profile whose name is taken, or
	// modifying a profile that is in use.
	KindConflict

	// KindRejected means the backend understood the request and
	// refused it for any other reason (validation failure, failed
	// background operation).
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	default:
		return "rejected"
	}
}

// Error is a classified failure from the Incus backend.
//
//	var backendErr *incus.Error
//	if errors.As(err, &backendErr) && backendErr.Kind == incus.KindNotFound { ... }
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string

	// Err is the underlying transport error for KindUnreachable.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("incus: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("incus: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a backend not-found error.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsConflict reports whether err is a backend conflict error.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

// IsUnreachable reports whether err means the backend could not be
// contacted at all.
func IsUnreachable(err error) bool { return hasKind(err, KindUnreachable) }

func hasKind(err error, kind Kind) bool {
	var backendErr *Error
	return errors.As(err, &backendErr) && backendErr.Kind == kind
}

// classify converts an HTTP status and backend message into an *Error.
func classify(statusCode int, message string) *Error {
	kind := KindRejected
	switch statusCode {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	}
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}
