package http

import (
	"bufio"
	"context"
	"fmt"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
)

// WriteOptions configures response serialization.
type WriteOptions struct {
	ServerName string
	// Now returns the time for the Date header; defaults to time.Now.
	Now func() time.Time
}

// WriteContinue sends the interim 100 Continue response.
func WriteContinue(w *bufio.Writer) error {
	if _, err := w.WriteString("HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// WriteResponse frames resp onto w as the answer to req and reports whether
// the connection may carry another request. A nil req is treated as a
// request that could not be parsed. When a stream fails before any chunk was
// sent the error is returned with resp still unfrozen, so the caller may
// answer with an error response instead.
func WriteResponse(ctx context.Context, w *bufio.Writer, req *Request, resp *Response, opt WriteOptions) (bool, error) {
	h := resp.header()
	keep := req != nil && req.KeepAlive() && !resp.Close && !h.hasToken("Connection", "close")
	head := req != nil && req.Method == MethodHead
	bodyOK := bodyAllowed(resp.Status)

	streaming := resp.IsStream() && bodyOK && !head
	chunked := false
	switch {
	case streaming:
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
		if req != nil && req.ProtoMinor >= 1 {
			chunked = true
			h.Set("Transfer-Encoding", "chunked")
		} else {
			// No other delimiter is available without chunked coding.
			keep = false
		}
	case resp.IsStream():
		h.Del("Content-Length")
	case !bodyOK:
		h.Del("Content-Length")
	case !(head && h.Has("Content-Length")):
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}
	if !h.Has("Date") {
		h.Set("Date", now().UTC().Format(nethttp.TimeFormat))
	}
	if opt.ServerName != "" && !h.Has("Server") {
		h.Set("Server", opt.ServerName)
	}
	switch {
	case !keep:
		h.Set("Connection", "close")
	case req.ProtoMinor == 0:
		h.Set("Connection", "keep-alive")
	}

	if !streaming {
		if err := writeHead(w, resp); err != nil {
			return false, err
		}
		if bodyOK && !head && len(resp.Body) > 0 {
			if _, err := w.Write(resp.Body); err != nil {
				return false, err
			}
		}
		return keep, w.Flush()
	}

	cw := &chunkWriter{w: w, resp: resp, chunked: chunked}
	if err := resp.Stream(ctx, cw); err != nil {
		return false, errors.Wrap(err, "stream response body")
	}
	if err := cw.sendHead(); err != nil {
		return false, err
	}
	if chunked {
		if _, err := w.WriteString("0\r\n\r\n"); err != nil {
			return false, err
		}
	}
	return keep, w.Flush()
}

func writeHead(w *bufio.Writer, resp *Response) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	bb.B = append(bb.B, "HTTP/1.1 "...)
	bb.B = strconv.AppendInt(bb.B, int64(resp.Status), 10)
	bb.B = append(bb.B, ' ')
	bb.B = append(bb.B, StatusText(resp.Status)...)
	bb.B = append(bb.B, "\r\n"...)
	for _, k := range resp.Header.sortedKeys() {
		for _, v := range resp.Header[k] {
			bb.B = append(bb.B, k...)
			bb.B = append(bb.B, ": "...)
			bb.B = append(bb.B, v...)
			bb.B = append(bb.B, "\r\n"...)
		}
	}
	bb.B = append(bb.B, "\r\n"...)

	resp.Freeze()
	_, err := w.Write(bb.B)
	return err
}

// chunkWriter sends the response head lazily on the first chunk.
type chunkWriter struct {
	w        *bufio.Writer
	resp     *Response
	chunked  bool
	headSent bool
}

func (c *chunkWriter) sendHead() error {
	if c.headSent {
		return nil
	}
	c.headSent = true
	return writeHead(c.w, c.resp)
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	if err := c.sendHead(); err != nil {
		return 0, err
	}
	// A zero-length chunk would terminate the body.
	if len(p) == 0 {
		return 0, nil
	}
	if c.chunked {
		if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
			return 0, err
		}
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	if c.chunked {
		if _, err := c.w.WriteString("\r\n"); err != nil {
			return n, err
		}
	}
	return n, c.w.Flush()
}

func (c *chunkWriter) Flush() error {
	if err := c.sendHead(); err != nil {
		return err
	}
	return c.w.Flush()
}
