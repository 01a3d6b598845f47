package crawler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies feed-stage failures. The set is closed.
type ErrorKind int

// Known failure kinds.
const (
	KindTransport ErrorKind = iota
	KindInvalidContentType
	KindHTTPStatus
	KindParse
)

// String returns the exception class name written to the output row.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidContentType:
		return "InvalidContentType"
	case KindHTTPStatus:
		return "HTTPStatusException"
	case KindParse:
		return "FeedParseError"
	default:
		return "TransportError"
	}
}

// FetchError is the tagged failure carried into error rows.
type FetchError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Class is the value of the exception_class column.
func (e *FetchError) Class() string {
	return e.Kind.String()
}

// InvalidContentType reports a response whose media type is not allowed.
func InvalidContentType(contentType string) *FetchError {
	return &FetchError{Kind: KindInvalidContentType, Msg: contentType}
}

// HTTPStatus reports a feed fetch that produced no usable content.
func HTTPStatus(status int) *FetchError {
	return &FetchError{
		Kind: KindHTTPStatus,
		Msg:  fmt.Sprintf("no content, http status code: %d", status),
	}
}

// Transport wraps a network-level failure.
func Transport(err error) *FetchError {
	return &FetchError{Kind: KindTransport, Err: err}
}

// Parse wraps a feed document that could not be parsed.
func Parse(err error) *FetchError {
	return &FetchError{Kind: KindParse, Err: err}
}

// AsFetchError returns err as a *FetchError, classifying anything else as a
// transport failure.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return Transport(err)
}
