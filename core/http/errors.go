package http

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrIncomplete is returned by the head parser while more bytes are needed.
	ErrIncomplete = errors.New("incomplete request head")
	// ErrMalformedRequest marks any framing or syntax violation.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrHeaderTooLarge is returned when the head exceeds the configured limit.
	ErrHeaderTooLarge = errors.New("request header too large")
	// ErrBodyTooLarge is returned when a body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrVersionNotSupported is returned for protocol majors other than 1.
	ErrVersionNotSupported = errors.New("http version not supported")
	// ErrBodyConsumed is returned when a streamed body is read a second time.
	ErrBodyConsumed = errors.New("request body already consumed")
	// ErrHeadersFrozen is returned when response headers are modified
	// after the first body chunk was written.
	ErrHeadersFrozen = errors.New("response headers already sent")
	// ErrClientTimeout is returned when the client stops sending mid-request.
	ErrClientTimeout = errors.New("client read timeout")
	// ErrTimeout marks a downstream collaborator exceeding its deadline.
	ErrTimeout = errors.New("downstream timeout")
)

// HTTPError is an intentional, signaled response. Handlers and middleware
// return it (possibly wrapped) to produce a specific status.
type HTTPError struct {
	Status  int
	Message string
	Header  Header
}

// NewError creates an HTTPError. An empty message defaults to the status text.
func NewError(status int, message string) *HTTPError {
	if message == "" {
		message = StatusText(status)
	}
	return &HTTPError{Status: status, Message: message}
}

// Errorf creates an HTTPError with a formatted message.
func Errorf(status int, format string, args ...any) *HTTPError {
	return NewError(status, fmt.Sprintf(format, args...))
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// WithHeader attaches a response header to the error.
func (e *HTTPError) WithHeader(key, value string) *HTTPError {
	if e.Header == nil {
		e.Header = Header{}
	}
	e.Header.Add(key, value)
	return e
}

// ErrorClass maps a family of errors onto a response status.
type ErrorClass struct {
	Target error
	Status int
	Name   string
}

// Built-in classes checked before any caller-supplied ones.
var builtinClasses = []ErrorClass{
	{Target: ErrClientTimeout, Status: StatusRequestTimeout, Name: "client timeout"},
	{Target: ErrTimeout, Status: StatusGatewayTimeout, Name: "timeout"},
	{Target: context.DeadlineExceeded, Status: StatusGatewayTimeout, Name: "timeout"},
	{Target: ErrBodyTooLarge, Status: StatusRequestEntityTooLarge, Name: "request body too large"},
	{Target: ErrMalformedRequest, Status: StatusBadRequest, Name: "malformed request"},
}

// Fault is the class of any error not matched by a more specific class.
var Fault = ErrorClass{Status: StatusInternalServerError, Name: "internal fault"}

// Classify resolves err to its error class. HTTPErrors resolve to their own
// status and message.
func Classify(err error, classes []ErrorClass) ErrorClass {
	var he *HTTPError
	if errors.As(err, &he) {
		return ErrorClass{Target: he, Status: he.Status, Name: he.Message}
	}
	for _, c := range builtinClasses {
		if errors.Is(err, c.Target) {
			return c
		}
	}
	for _, c := range classes {
		if errors.Is(err, c.Target) {
			return c
		}
	}
	return Fault
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Status     int    `json:"status"`
	StatusText string `json:"status_text"`
	Detail     string `json:"detail,omitempty"`
	Trace      string `json:"trace,omitempty"`
}

// ErrorResponse converts err into a response. In verbose mode the body names
// the failure class and carries the error text; faults also carry the stack.
// Otherwise only intentional HTTPError messages are exposed.
func ErrorResponse(err error, classes []ErrorClass, verbose bool) *Response {
	c := Classify(err, classes)
	body := errorBody{Status: c.Status, StatusText: StatusText(c.Status)}

	var he *HTTPError
	intentional := errors.As(err, &he)
	switch {
	case intentional:
		body.Error = he.Message
	case verbose:
		body.Error = c.Name
	default:
		body.Error = body.StatusText
	}
	if verbose && !intentional {
		body.Detail = err.Error()
		if c.Status == StatusInternalServerError {
			body.Trace = fmt.Sprintf("%+v", err)
		}
	}

	resp := mustJSON(c.Status, body)
	if intentional {
		for k, vs := range he.Header {
			for _, v := range vs {
				resp.Header.Add(k, v)
			}
		}
	}
	return resp
}
