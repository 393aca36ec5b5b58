package core

import (
	"bufio"
	"context"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/middleware"
	"github.com/searchktools/cyclone/core/router"
)

type testServer struct {
	engine *Engine
	addr   string
}

func startServer(t *testing.T, opts Options, setup func(r *router.Router), mws ...middleware.Middleware) *testServer {
	t.Helper()
	r := router.New()
	setup(r)
	d := NewDispatcher(DispatcherOptions{Router: r, Middleware: mws})
	if opts.Limits.MaxHeaderBytes == 0 {
		opts.Limits = http.Limits{MaxHeaderBytes: 8 << 10, MaxBodyBytes: 1 << 20}
	}
	e := NewEngine(d, opts)

	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- e.Serve(ln) }()
	t.Cleanup(func() {
		e.Close()
		assert.ErrorIs(t, <-served, ErrServerClosed)
	})
	return &testServer{engine: e, addr: ln.Addr().String()}
}

func (s *testServer) dial(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return c, bufio.NewReader(c)
}

func readResponse(t *testing.T, br *bufio.Reader) (*nethttp.Response, string) {
	t.Helper()
	resp, err := nethttp.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func assertClosed(t *testing.T, br *bufio.Reader) {
	t.Helper()
	_, err := br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func hello(r *router.Router) {
	_ = r.GET("/hello", func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return http.Text(http.StatusOK, "hello"), nil
	})
	_ = r.POST("/echo", func(ctx context.Context, req *http.Request) (*http.Response, error) {
		b, err := req.Body(ctx)
		if err != nil {
			return nil, err
		}
		return http.Bytes(http.StatusOK, http.MIMETextPlain, b), nil
	})
	_ = r.GET("/users/<id:int>", func(ctx context.Context, req *http.Request) (*http.Response, error) {
		id, _ := req.Params.Int("id")
		return http.JSON(http.StatusOK, map[string]any{"id": id})
	})
}

func TestKeepAliveServesSequentialRequests(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	for i := 0; i < 2; i++ {
		_, err := io.WriteString(c, "GET /hello HTTP/1.1\r\nHost: test\r\n\r\n")
		require.NoError(t, err)
		resp, body := readResponse(t, br)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "hello", body)
		assert.False(t, resp.Close)
	}
	assert.Equal(t, 1, s.engine.ActiveConnections())
	assert.Equal(t, uint64(2), s.engine.Stats().Requests)
}

func TestMalformedRequestGetsOne400AndClose(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	_, err := io.WriteString(c, "GET /hello HTTP/1.1\r\nNoColonHere\r\n\r\nGET /hello HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	resp, _ := readResponse(t, br)
	assert.Equal(t, 400, resp.StatusCode)
	assert.True(t, resp.Close)
	assertClosed(t, br)
}

func TestBadQueryEscapeGets400(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	_, err := io.WriteString(c, "GET /hello?name=%zz HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	resp, _ := readResponse(t, br)
	assert.Equal(t, 400, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestHeaderTooLarge(t *testing.T) {
	s := startServer(t, Options{Limits: http.Limits{MaxHeaderBytes: 256, MaxBodyBytes: 1024}}, hello)
	c, br := s.dial(t)

	_, err := io.WriteString(c, "GET /hello HTTP/1.1\r\nX-Big: "+strings.Repeat("a", 512)+"\r\n\r\n")
	require.NoError(t, err)
	resp, _ := readResponse(t, br)
	assert.Equal(t, 431, resp.StatusCode)
	assertClosed(t, br)
}

func TestRoutingOutcomes(t *testing.T) {
	tag := func(ctx context.Context, req *http.Request, next middleware.Next) (*http.Response, error) {
		resp, err := next(ctx, req)
		var he *http.HTTPError
		if errors.As(err, &he) {
			return nil, he.WithHeader("X-Seen", "yes")
		}
		return resp, err
	}
	s := startServer(t, Options{}, hello, tag)
	c, br := s.dial(t)

	io.WriteString(c, "DELETE /hello HTTP/1.1\r\n\r\n")
	resp, _ := readResponse(t, br)
	assert.Equal(t, 405, resp.StatusCode)
	assert.Equal(t, "GET", resp.Header.Get("Allow"))
	assert.Equal(t, "yes", resp.Header.Get("X-Seen"))

	io.WriteString(c, "GET /nowhere HTTP/1.1\r\n\r\n")
	resp, _ = readResponse(t, br)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Seen"))

	io.WriteString(c, "GET /users/42 HTTP/1.1\r\n\r\n")
	resp, body := readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"id":42}`, body)
}

func TestRequestBodies(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	resp, body := readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello", body)

	io.WriteString(c, "POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n")
	resp, body = readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "abcde", body)
}

func TestUnreadBodyIsDrained(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "GET /hello HTTP/1.1\r\nContent-Length: 4\r\n\r\nbodyGET /hello HTTP/1.1\r\n\r\n")
	for i := 0; i < 2; i++ {
		resp, body := readResponse(t, br)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "hello", body)
	}
}

func TestExpectContinue(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "POST /echo HTTP/1.1\r\nContent-Length: 2\r\nExpect: 100-continue\r\n\r\n")
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 100 Continue\r\n", line)
	blank, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\r\n", blank)

	io.WriteString(c, "ok")
	resp, body := readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestHalfCloseStillGetsResponse(t *testing.T) {
	s := startServer(t, Options{}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "POST /echo HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")
	require.NoError(t, c.(*net.TCPConn).CloseWrite())
	resp, body := readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "abc", body)
	assertClosed(t, br)
}

func TestClientReadTimeout(t *testing.T) {
	s := startServer(t, Options{ReadTimeout: 50 * time.Millisecond}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "GET /hello HTTP/1.1\r\nHost: te")
	resp, _ := readResponse(t, br)
	assert.Equal(t, 408, resp.StatusCode)
	assertClosed(t, br)
}

func TestBodyReadTimeoutAnswers408(t *testing.T) {
	s := startServer(t, Options{ReadTimeout: 50 * time.Millisecond}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "POST /echo HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc")
	resp, _ := readResponse(t, br)
	assert.Equal(t, 408, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestIdleConnectionsAreReaped(t *testing.T) {
	s := startServer(t, Options{IdleTimeout: 100 * time.Millisecond}, hello)
	c, br := s.dial(t)

	io.WriteString(c, "GET /hello HTTP/1.1\r\n\r\n")
	readResponse(t, br)
	assertClosed(t, br)
	assert.Eventually(t, func() bool { return s.engine.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamingResponse(t *testing.T) {
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/stream", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return http.Stream(http.StatusOK, http.MIMETextPlain, func(ctx context.Context, w http.ChunkWriter) error {
				for _, part := range []string{"one ", "two ", "three"} {
					if _, err := io.WriteString(w, part); err != nil {
						return err
					}
				}
				return nil
			}), nil
		})
	})
	c, br := s.dial(t)

	io.WriteString(c, "GET /stream HTTP/1.1\r\n\r\n")
	resp, body := readResponse(t, br)
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "one two three", body)

	io.WriteString(c, "GET /stream HTTP/1.0\r\n\r\n")
	resp, body = readResponse(t, br)
	assert.True(t, resp.Close)
	assert.Equal(t, "one two three", body)
}

func TestFaultIsGeneric500(t *testing.T) {
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/panic", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			panic("secret internal state")
		})
	})
	c, br := s.dial(t)

	io.WriteString(c, "GET /panic HTTP/1.1\r\n\r\n")
	resp, body := readResponse(t, br)
	assert.Equal(t, 500, resp.StatusCode)
	assert.NotContains(t, body, "secret")
	assert.False(t, resp.Close)
}

func TestGracefulShutdownWaitsForInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/slow", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			close(entered)
			<-release
			return http.Text(http.StatusOK, "done"), nil
		})
	})
	c, br := s.dial(t)
	io.WriteString(c, "GET /slow HTTP/1.1\r\n\r\n")
	<-entered

	s.dial(t)
	assert.Eventually(t, func() bool { return s.engine.ActiveConnections() == 2 }, time.Second, 5*time.Millisecond)

	shut := make(chan error, 1)
	go func() { shut <- s.engine.Shutdown(context.Background()) }()
	assert.Eventually(t, func() bool { return s.engine.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	resp, body := readResponse(t, br)
	assert.Equal(t, "done", body)
	assert.True(t, resp.Close)
	require.NoError(t, <-shut)
}

func TestShutdownDeadlineForcesClose(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/stuck", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			close(entered)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		})
	})
	c, _ := s.dial(t)
	io.WriteString(c, "GET /stuck HTTP/1.1\r\n\r\n")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.engine.Shutdown(ctx), context.DeadlineExceeded)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("request context was not cancelled")
	}
}

func TestClientDisconnectCancelsRequest(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan error, 1)
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.POST("/wait", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			close(entered)
			<-ctx.Done()
			cancelled <- context.Cause(ctx)
			return nil, ctx.Err()
		})
	})
	c, _ := s.dial(t)
	io.WriteString(c, "POST /wait HTTP/1.1\r\nContent-Length: 100\r\n\r\npartial")
	<-entered
	c.Close()

	select {
	case cause := <-cancelled:
		assert.True(t, errors.Is(cause, ErrClientGone))
	case <-time.After(2 * time.Second):
		t.Fatal("request context was not cancelled")
	}
}

func TestClientCloseCancelsRequestWithoutBody(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan error, 1)
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/wait", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			close(entered)
			select {
			case <-ctx.Done():
				cancelled <- context.Cause(ctx)
			case <-time.After(3 * time.Second):
				cancelled <- nil
			}
			return nil, ctx.Err()
		})
	})
	c, _ := s.dial(t)
	io.WriteString(c, "GET /wait HTTP/1.1\r\n\r\n")
	<-entered
	c.Close()

	select {
	case cause := <-cancelled:
		require.Error(t, cause)
		assert.True(t, errors.Is(cause, ErrClientGone))
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestHalfClosedClientReadsAnswerOfCancelledRequest(t *testing.T) {
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/wait", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			<-ctx.Done()
			return http.Text(http.StatusOK, "bye"), nil
		})
	})
	c, br := s.dial(t)
	io.WriteString(c, "GET /wait HTTP/1.1\r\n\r\n")
	require.NoError(t, c.(*net.TCPConn).CloseWrite())

	resp, body := readResponse(t, br)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "bye", body)
	assert.True(t, resp.Close)
	assertClosed(t, br)
}

func TestZeroStatusIsWrittenAs200(t *testing.T) {
	s := startServer(t, Options{}, func(r *router.Router) {
		_ = r.GET("/bare", func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return &http.Response{Body: []byte("ok")}, nil
		})
	})
	c, br := s.dial(t)
	io.WriteString(c, "GET /bare HTTP/1.1\r\n\r\n")

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)
}
