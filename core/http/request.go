package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/url"

	"github.com/cockroachdb/errors"
)

// Request is a parsed request head plus a lazily read body.
// Everything except Params and the body cursor is immutable once parsed.
type Request struct {
	Method     Method
	Target     string
	Path       string // escaped form, without the query
	RawQuery   string
	Query      url.Values
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     Header
	Host       string

	// ContentLength is -1 for chunked bodies.
	ContentLength int64
	Chunked       bool

	RemoteAddr string

	// Params is filled by the router after a successful match.
	Params Params
	// Route is the pattern of the matched route, empty when none matched.
	Route string

	body     BodySource
	cached   []byte
	loaded   bool
	streamed bool
}

// NewRequest builds a request outside the connection handler, mostly for
// tests and internal dispatch.
func NewRequest(method Method, target string, body []byte) (*Request, error) {
	r := &Request{
		Method:     method,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     Header{},
	}
	if err := r.setTarget(target); err != nil {
		return nil, err
	}
	r.ContentLength = int64(len(body))
	if body != nil {
		r.cached = body
		r.loaded = true
	}
	return r, nil
}

// SetBody attaches the body source. The connection handler calls it once
// the head is parsed.
func (r *Request) SetBody(src BodySource) {
	r.body = src
	r.cached = nil
	r.loaded = false
	r.streamed = false
}

// Param returns the typed route parameter name, or nil.
func (r *Request) Param(name string) any {
	return r.Params[name]
}

// Body reads and caches the whole body. Later calls return the cached bytes
// without touching the connection. It fails with ErrBodyConsumed once the
// body was streamed through BodyReader.
func (r *Request) Body(ctx context.Context) ([]byte, error) {
	if r.loaded {
		return r.cached, nil
	}
	if r.streamed {
		return nil, ErrBodyConsumed
	}
	if r.body == nil {
		r.loaded = true
		return r.cached, nil
	}

	var buf bytes.Buffer
	if r.ContentLength > 0 {
		buf.Grow(int(min(r.ContentLength, 1<<20)))
	}
	chunk := make([]byte, 4096)
	for {
		n, err := r.body.ReadContext(ctx, chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	r.cached = buf.Bytes()
	r.loaded = true
	return r.cached, nil
}

// BodyReader returns a one-shot reader over the body. Reading advances the
// connection cursor; a second call fails with ErrBodyConsumed. If the body
// was already cached the reader serves the cached bytes.
func (r *Request) BodyReader(ctx context.Context) (io.Reader, error) {
	if r.loaded {
		return bytes.NewReader(r.cached), nil
	}
	if r.streamed {
		return nil, ErrBodyConsumed
	}
	r.streamed = true
	if r.body == nil {
		return bytes.NewReader(nil), nil
	}
	return &contextReader{ctx: ctx, src: r.body}, nil
}

// DecodeJSON reads the body and unmarshals it into v.
func (r *Request) DecodeJSON(ctx context.Context, v any) error {
	b, err := r.Body(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return NewError(StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

// Cookie returns the named cookie.
func (r *Request) Cookie(name string) (*nethttp.Cookie, error) {
	for _, line := range r.Header.Values("Cookie") {
		cookies, err := nethttp.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == name {
				return c, nil
			}
		}
	}
	return nil, nethttp.ErrNoCookie
}

// KeepAlive reports whether the client allows the connection to be reused.
func (r *Request) KeepAlive() bool {
	if r.Header.hasToken("Connection", "close") {
		return false
	}
	if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
		return r.Header.hasToken("Connection", "keep-alive")
	}
	return true
}

// ExpectsContinue reports whether the client waits for 100 Continue.
func (r *Request) ExpectsContinue() bool {
	return r.ProtoMinor >= 1 && r.Header.hasToken("Expect", "100-continue")
}

func (r *Request) setTarget(target string) error {
	r.Target = target
	if target == "*" {
		r.Path = "*"
		r.Query = url.Values{}
		return nil
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "request target %q", target), ErrMalformedRequest)
	}
	r.Path = u.EscapedPath()
	if r.Path == "" {
		r.Path = "/"
	}
	if u.Host != "" && r.Host == "" {
		r.Host = u.Host
	}
	r.RawQuery = u.RawQuery
	if r.Query, err = url.ParseQuery(u.RawQuery); err != nil {
		return errors.Mark(errors.Wrapf(err, "query %q", u.RawQuery), ErrMalformedRequest)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	src BodySource
}

func (c *contextReader) Read(p []byte) (int, error) {
	return c.src.ReadContext(c.ctx, p)
}
