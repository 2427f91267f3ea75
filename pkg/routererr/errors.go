// Package routererr defines the error taxonomy used across the router.
//
// Every failure that can surface on the request path is classified into a
// Kind so that handlers can map it to an HTTP status and metrics can label
// it without string matching.
package routererr

import (
	"errors"
	"fmt"
)

// Kind classifies a router error.
type Kind int

const (
	// KindURL indicates an invalid or unparseable upstream URL.
	KindURL Kind = iota
	// KindIO indicates a local or network I/O failure.
	KindIO
	// KindConfigRead indicates the transformer file could not be read.
	KindConfigRead
	// KindConfigParse indicates the transformer file is not valid JSON.
	KindConfigParse
	// KindJSON indicates a request or response body failed JSON handling.
	KindJSON
	// KindUpstream indicates the upstream returned a malformed response or
	// the exchange with it failed mid-request.
	KindUpstream
	// KindTLS indicates the TLS handshake with the upstream failed.
	KindTLS
	// KindBadRequest indicates the client sent a malformed request.
	KindBadRequest
)

// String returns the metrics label for the kind.
func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url_error"
	case KindIO:
		return "io_error"
	case KindConfigRead:
		return "config_read_error"
	case KindConfigParse:
		return "config_parse_error"
	case KindJSON:
		return "json_error"
	case KindUpstream:
		return "upstream_error"
	case KindTLS:
		return "tls_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Error is a classified router error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause as an error of the given kind. It returns nil when cause
// is nil so call sites can wrap unconditionally.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of err. Unclassified errors report KindIO, which
// matches how the data plane treats unexpected failures.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindIO
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
