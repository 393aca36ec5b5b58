package core

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/searchktools/cyclone/core/http"
)

// Connection states seen by the idle reaper and shutdown.
const (
	connIdle int32 = iota
	connActive
	connClosed
)

// maxDrain is the largest unread request body discarded to keep a
// connection alive; larger leftovers close it instead.
const maxDrain = 256 << 10

var (
	// ErrClientGone is the cancellation cause when the peer disconnects
	// mid-request.
	ErrClientGone = errors.New("client disconnected")
	// errForceClosed is the cancellation cause at forced shutdown.
	errForceClosed = errors.New("connection closed by server")
)

// bodyReader is a request body whose completion can be checked.
type bodyReader interface {
	http.BodySource
	Done() bool
}

// inflight is the request currently being served, for the reader
// goroutine to cancel when the client goes away.
type inflight struct {
	cancel context.CancelCauseFunc
}

// conn serves one client connection, one request at a time.
type conn struct {
	e      *Engine
	id     uint64
	rwc    net.Conn
	remote string
	log    zerolog.Logger

	buf *recvBuffer
	bw  *bufio.Writer

	ctx    context.Context
	cancel context.CancelCauseFunc

	state      atomic.Int32
	lastActive atomic.Int64
	current    atomic.Pointer[inflight]
	closeOnce  sync.Once
}

func newConn(e *Engine, id uint64, rwc net.Conn) *conn {
	c := &conn{
		e:      e,
		id:     id,
		rwc:    rwc,
		remote: rwc.RemoteAddr().String(),
	}
	c.log = e.log.With().Uint64("conn", id).Str("remote", c.remote).Logger()
	maxBuffered := e.opts.Limits.MaxHeaderBytes + 64<<10
	c.buf = newRecvBuffer(maxBuffered, e.opts.ReadTimeout, e.bytePool)
	c.bw = bufio.NewWriterSize(&deadlineWriter{conn: rwc, timeout: e.opts.WriteTimeout}, 4096)
	c.ctx, c.cancel = context.WithCancelCause(e.baseCtx)
	c.touch()
	return c
}

func (c *conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *conn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

// serve runs the request loop until the connection closes.
func (c *conn) serve() {
	defer c.close()
	c.log.Debug().Msg("connection opened")
	go c.buf.readLoop(c.rwc, c.touch, c.onReadError)

	for {
		c.state.Store(connIdle)
		c.buf.setIdle(true)
		req, err := http.ReadHead(c.ctx, c.buf, c.e.opts.Limits)
		c.buf.setIdle(false)
		if err != nil {
			c.reject(err)
			return
		}
		if !c.state.CompareAndSwap(connIdle, connActive) {
			return
		}
		req.RemoteAddr = c.remote
		if !c.handle(req) {
			return
		}
		c.touch()
	}
}

// handle serves one request and reports whether the connection stays open.
func (c *conn) handle(req *http.Request) bool {
	c.e.requests.Add(1)
	ctx, cancel := context.WithCancelCause(c.ctx)
	defer cancel(nil)

	cur := &inflight{cancel: cancel}
	var body bodyReader
	switch {
	case req.Chunked:
		body = http.NewChunkedBody(c.buf, c.e.opts.Limits.MaxBodyBytes)
	case req.ContentLength > 0:
		body = http.NewFixedBody(c.buf, req.ContentLength)
	}
	var rb *requestBody
	if body != nil {
		rb = &requestBody{bodyReader: body, w: c.bw, expect: req.ExpectsContinue()}
		req.SetBody(rb)
	}
	c.current.Store(cur)
	defer c.current.Store(nil)
	// The reader may have failed before cur was published.
	if err := c.buf.readErr(); err != nil {
		c.onReadError(err)
	}

	resp := c.e.dispatcher.Dispatch(ctx, req)
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrClientGone) {
		c.log.Debug().Err(cause).Str("path", req.Path).Msg("client went away mid-request")
		// A half-closed client may still read the answer. Streams need a
		// live context, so they are dropped.
		if !resp.IsStream() {
			resp.Close = true
			_, _ = http.WriteResponse(context.WithoutCancel(ctx), c.bw, req, resp, c.e.writeOptions())
		}
		return false
	}
	if c.e.shuttingDown() || (rb != nil && rb.failed) {
		resp.Close = true
	}

	keep, err := http.WriteResponse(ctx, c.bw, req, resp, c.e.writeOptions())
	if err != nil {
		if !resp.Frozen() {
			// The stream failed before sending anything; answer with an
			// error response instead.
			c.log.Error().Err(err).Str("path", req.Path).Msg("stream failed")
			er := c.e.dispatcher.ErrorResponse(err)
			er.Close = true
			_, _ = http.WriteResponse(ctx, c.bw, req, er, c.e.writeOptions())
		} else {
			c.log.Debug().Err(err).Msg("write response")
		}
		return false
	}
	if !keep || rb == nil || rb.Done() {
		return keep
	}
	if rb.expect && !rb.sent {
		// The client may never send a body it was not asked for.
		return false
	}
	return c.drain(ctx, rb.bodyReader)
}

// drain discards the unread rest of a request body.
func (c *conn) drain(ctx context.Context, body bodyReader) bool {
	if fb, ok := body.(*http.FixedBody); ok && fb.Remaining() > maxDrain {
		return false
	}
	var scratch [4096]byte
	total := 0
	for !body.Done() {
		n, err := body.ReadContext(ctx, scratch[:])
		total += n
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil || total > maxDrain {
			return false
		}
	}
	return true
}

// reject answers a request head that could not be read, then closes.
func (c *conn) reject(err error) {
	status := 0
	switch {
	case errors.Is(err, http.ErrHeaderTooLarge):
		status = http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, http.ErrBodyTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, http.ErrVersionNotSupported):
		status = http.StatusHTTPVersionNotSupported
	case errors.Is(err, http.ErrMalformedRequest):
		status = http.StatusBadRequest
	case errors.Is(err, http.ErrClientTimeout):
		status = http.StatusRequestTimeout
	case errors.Is(err, io.EOF):
		// A head cut short by a half-close is malformed; a clean close
		// between requests is not.
		if len(c.buf.Buffered()) > 0 {
			status = http.StatusBadRequest
		}
	}
	if status == 0 {
		c.log.Debug().Err(err).Msg("connection closed")
		return
	}

	c.e.monitor.ProtocolError(status)
	c.log.Debug().Err(err).Int("status", status).Msg("rejected request")
	msg := ""
	if c.e.dispatcher.Verbose() {
		msg = err.Error()
	}
	resp := http.ErrorResponse(http.NewError(status, msg), nil, false)
	resp.Close = true
	if _, werr := http.WriteResponse(c.ctx, c.bw, nil, resp, c.e.writeOptions()); werr != nil {
		c.log.Debug().Err(werr).Msg("write rejection")
	}
}

// onReadError runs on the reader goroutine when the socket read fails.
// Any failure, EOF included, cancels the request in flight; bytes already
// received stay readable.
func (c *conn) onReadError(err error) {
	if cur := c.current.Load(); cur != nil {
		cur.cancel(errors.Mark(errors.Wrap(err, "read"), ErrClientGone))
	}
}

// closeIfIdle closes the connection when no request is in progress.
func (c *conn) closeIfIdle() bool {
	if c.state.CompareAndSwap(connIdle, connClosed) {
		c.close()
		return true
	}
	return false
}

func (c *conn) forceClose() {
	c.cancel(errForceClosed)
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(connClosed)
		c.cancel(nil)
		c.buf.close()
		if err := c.rwc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug().Err(err).Msg("close")
		}
		c.e.untrack(c)
		c.log.Debug().Msg("connection closed")
	})
}

// requestBody is the body handed to handlers. It sends 100 Continue
// before the first read when the client asked for it and remembers read
// failures, after which the connection cannot be reused.
type requestBody struct {
	bodyReader
	w      *bufio.Writer
	expect bool
	sent   bool
	failed bool
}

func (b *requestBody) ReadContext(ctx context.Context, p []byte) (int, error) {
	if b.expect && !b.sent {
		b.sent = true
		if err := http.WriteContinue(b.w); err != nil {
			b.failed = true
			return 0, errors.Wrap(err, "send 100 continue")
		}
	}
	n, err := b.bodyReader.ReadContext(ctx, p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.failed = true
	}
	return n, err
}

// deadlineWriter refreshes the write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}
