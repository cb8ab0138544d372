// Package errors defines the error taxonomy shared by the acquisition engine.
// Every failure that reaches a caller is an *Error with a Kind, so front ends can
// render a user-facing message without inspecting strings. Nothing in the engine
// retries automatically; the kind only decides how a failure is reported.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Kind classifies an error for reporting.
type Kind string

const (
	KindConfiguration Kind = "configuration" // invalid planning input or settings
	KindNetwork       Kind = "network"       // connection failure or timeout
	KindProtocol      Kind = "protocol"      // exchange replied with an error
	KindFormat        Kind = "format"        // persisted file header is malformed
	KindAlreadyExists Kind = "already_exists"
	KindNotFound      Kind = "not_found"
	KindStorage       Kind = "storage" // file-system failure while persisting
	KindUnknown       Kind = "unknown"
)

// Error is the engine's error type.
type Error struct {
	Kind      Kind      `json:"kind"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Exchange  string    `json:"exchange,omitempty"`
	Message   string    `json:"message"`
	DocsURL   string    `json:"docs_url,omitempty"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString("/")
	}
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Operation != "" {
		b.WriteString(" ")
		b.WriteString(e.Operation)
		b.WriteString(":")
	}
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		if e.Message != "" {
			b.WriteString(":")
		}
		b.WriteString(" ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty kind matches any *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// WithComponent sets the component and operation and returns the receiver.
func (e *Error) WithComponent(component, operation string) *Error {
	e.Component = component
	e.Operation = operation
	return e
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err, Timestamp: time.Now().UTC()}
}

// NewConfigurationError reports invalid input detected before any I/O.
func NewConfigurationError(format string, args ...interface{}) *Error {
	return newError(KindConfiguration, fmt.Sprintf(format, args...), nil)
}

// NewNetworkError wraps a transport failure talking to exchange.
func NewNetworkError(exchange string, err error) *Error {
	e := newError(KindNetwork, fmt.Sprintf("problem connecting to %s API", strings.ToUpper(exchange)), err)
	e.Exchange = exchange
	return e
}

// NewProtocolError carries the raw message an exchange returned together with
// the exchange's documentation link.
func NewProtocolError(exchange, raw, docsURL string) *Error {
	e := newError(KindProtocol, fmt.Sprintf("error from %s API: %s", strings.ToUpper(exchange), strings.TrimSpace(raw)), nil)
	e.Exchange = exchange
	e.DocsURL = docsURL
	return e
}

// NewFormatError reports a malformed persisted file.
func NewFormatError(path, reason string) *Error {
	return newError(KindFormat, fmt.Sprintf("%s: %s", path, reason), nil)
}

// NewAlreadyExistsError reports a create or start conflict.
func NewAlreadyExistsError(what string) *Error {
	return newError(KindAlreadyExists, what+" already exists", nil)
}

// NewNotFoundError reports a missing file, asset or exchange.
func NewNotFoundError(what string) *Error {
	return newError(KindNotFound, what+" not found", nil)
}

// NewStorageError wraps a file-system failure.
func NewStorageError(operation, path string, err error) *Error {
	e := newError(KindStorage, path, err)
	e.Operation = operation
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify turns an arbitrary error from the HTTP layer into a network error
// when it looks like a transport failure. Errors already classified are
// returned unchanged.
func Classify(exchange string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		errors.As(err, &urlErr),
		errors.As(err, &opErr):
		return NewNetworkError(exchange, err)
	case errors.Is(err, os.ErrNotExist):
		return newError(KindNotFound, "", err)
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "no such host", "connection reset", "timeout", "eof"} {
		if strings.Contains(msg, pattern) {
			return NewNetworkError(exchange, err)
		}
	}
	return err
}

// UserMessage renders err for display. Protocol errors include the link to
// the exchange documentation.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindProtocol:
		msg := e.Message
		if e.DocsURL != "" {
			msg += "\n\nYou can find more info in below link:\n" + e.DocsURL
		}
		return msg
	case KindNetwork:
		if e.Err != nil {
			return e.Message + "\n\n" + e.Err.Error()
		}
		return e.Message
	default:
		if e.Err != nil && e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		if e.Message != "" {
			return e.Message
		}
		return e.Error()
	}
}
