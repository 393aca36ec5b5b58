package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

const (
	MIMETextPlain   = "text/plain; charset=utf-8"
	MIMETextHTML    = "text/html; charset=utf-8"
	MIMEJSON        = "application/json"
	MIMEEventStream = "text/event-stream"
)

// ChunkWriter receives the chunks of a streaming body. The first Write
// sends the response head and freezes the headers.
type ChunkWriter interface {
	Write(p []byte) (int, error)
	Flush() error
}

// StreamFunc produces a streaming body. It runs once, after the middleware
// chain has returned, and must stop when ctx is cancelled.
type StreamFunc func(ctx context.Context, w ChunkWriter) error

// Response is the result of handling a Request. The body is either Body
// (fully materialized) or Stream (lazy chunks); Stream wins when both are set.
type Response struct {
	Status int
	Header Header
	Body   []byte
	Stream StreamFunc

	// Close asks the connection to close after this response.
	Close bool

	frozen atomic.Bool
}

// NewResponse creates an empty response with status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: Header{}}
}

// Bytes creates a response with a materialized body.
func Bytes(status int, contentType string, body []byte) *Response {
	r := NewResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
	return r
}

// Text creates a text/plain response.
func Text(status int, s string) *Response {
	return Bytes(status, MIMETextPlain, []byte(s))
}

// HTML creates a text/html response.
func HTML(status int, s string) *Response {
	return Bytes(status, MIMETextHTML, []byte(s))
}

// JSON encodes v as the response body.
func JSON(status int, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode json response")
	}
	return Bytes(status, MIMEJSON, b), nil
}

func mustJSON(status int, v any) *Response {
	r, err := JSON(status, v)
	if err != nil {
		return Text(status, StatusText(status))
	}
	return r
}

// Redirect creates a redirect to location. Status defaults to 302.
func Redirect(location string, status int) *Response {
	if status == 0 {
		status = StatusFound
	}
	r := NewResponse(status)
	r.Header.Set("Location", location)
	return r
}

// NoContent creates a 204 response.
func NoContent() *Response {
	return NewResponse(StatusNoContent)
}

// Stream creates a streaming response.
func Stream(status int, contentType string, fn StreamFunc) *Response {
	r := NewResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Stream = fn
	return r
}

// IsStream reports whether the body is produced lazily.
func (r *Response) IsStream() bool { return r.Stream != nil }

// Freeze marks the headers as sent.
func (r *Response) Freeze() { r.frozen.Store(true) }

// Frozen reports whether the headers were already sent.
func (r *Response) Frozen() bool { return r.frozen.Load() }

// SetHeader replaces a header value unless the headers are frozen.
func (r *Response) SetHeader(key, value string) error {
	if r.Frozen() {
		return ErrHeadersFrozen
	}
	r.header().Set(key, value)
	return nil
}

// AddHeader appends a header value unless the headers are frozen.
func (r *Response) AddHeader(key, value string) error {
	if r.Frozen() {
		return ErrHeadersFrozen
	}
	r.header().Add(key, value)
	return nil
}

// DelHeader removes a header unless the headers are frozen.
func (r *Response) DelHeader(key string) error {
	if r.Frozen() {
		return ErrHeadersFrozen
	}
	r.header().Del(key)
	return nil
}

// SetCookie adds a Set-Cookie header.
func (r *Response) SetCookie(c *nethttp.Cookie) error {
	v := c.String()
	if v == "" {
		return errors.Newf("invalid cookie %q", c.Name)
	}
	return r.AddHeader("Set-Cookie", v)
}

func (r *Response) header() Header {
	if r.Header == nil {
		r.Header = Header{}
	}
	return r.Header
}
