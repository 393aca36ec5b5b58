package middleware

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/observability"
)

func run(t *testing.T, mw Middleware, req *http.Request, h http.Handler) (*http.Response, error) {
	t.Helper()
	return NewPipeline(mw).Execute(context.Background(), req, h)
}

func notFound() http.Handler {
	return http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, http.NewError(http.StatusNotFound, "")
	})
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		seen = RequestIDFrom(ctx)
		return http.NoContent(), nil
	})
	resp, err := run(t, RequestID(), newRequest(t, http.MethodGet, "/"), h)
	require.NoError(t, err)
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, resp.Header.Get(HeaderRequestID))
}

func TestRequestIDReusedOnError(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/")
	req.Header.Set(HeaderRequestID, "abc")
	_, err := run(t, RequestID(), req, notFound())

	var he *http.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "abc", he.Header.Get(HeaderRequestID))
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	req := newRequest(t, http.MethodGet, "/missing")

	_, err := run(t, Logger(log, nil), req, notFound())
	require.Error(t, err)
	line := buf.String()
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, `"status":404`)
	assert.Contains(t, line, `"path":"/missing"`)
}

func corsConfig() config.CORSConfig {
	return config.CORSConfig{
		AllowOrigins:  []string{"https://app.example"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        10 * time.Minute,
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	req := newRequest(t, http.MethodOptions, "/api")
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	called := false
	h := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		called = true
		return http.NoContent(), nil
	})
	resp, err := run(t, CORS(corsConfig()), req, h)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))
}

func TestCORSHeadersOnNotFound(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/nope")
	req.Header.Set("Origin", "https://app.example")

	_, err := run(t, CORS(corsConfig()), req, notFound())
	var he *http.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, "https://app.example", he.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", he.Header.Get("Vary"))
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/")
	req.Header.Set("Origin", "https://evil.example")
	resp, err := run(t, CORS(corsConfig()), req, textHandler("ok"))
	require.NoError(t, err)
	assert.False(t, resp.Header.Has("Access-Control-Allow-Origin"))
}

func TestSecurityKeepsHandlerHeaders(t *testing.T) {
	h := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		resp := http.Text(http.StatusOK, "ok")
		resp.Header.Set("X-Frame-Options", "SAMEORIGIN")
		return resp, nil
	})
	resp, err := run(t, Security(), newRequest(t, http.MethodGet, "/"), h)
	require.NoError(t, err)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	assert.False(t, resp.Header.Has("Strict-Transport-Security"))
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{Rate: 1, Burst: 2, IdleTTL: time.Minute})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	mw := l.Middleware()

	for i := 0; i < 2; i++ {
		_, err := run(t, mw, newRequest(t, http.MethodGet, "/"), textHandler("ok"))
		require.NoError(t, err)
	}
	_, err := run(t, mw, newRequest(t, http.MethodGet, "/"), textHandler("ok"))
	var he *http.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusTooManyRequests, he.Status)
	assert.Equal(t, "1", he.Header.Get("Retry-After"))

	now = now.Add(time.Second)
	_, err = run(t, mw, newRequest(t, http.MethodGet, "/"), textHandler("ok"))
	assert.NoError(t, err)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{Rate: 10, Burst: 10, IdleTTL: time.Minute})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestCompressionGzipsLargeBodies(t *testing.T) {
	mw, err := Compression(config.CompressionConfig{MinSize: 64, Level: 6, ContentTypes: []string{"text/plain"}})
	require.NoError(t, err)
	body := strings.Repeat("cyclone ", 100)

	req := newRequest(t, http.MethodGet, "/")
	req.Header.Set("Accept-Encoding", "br;q=1, gzip;q=0.5")
	resp, err := run(t, mw, req, textHandler(body))
	require.NoError(t, err)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", resp.Header.Get("Vary"))

	zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))
}

func TestCompressionSkips(t *testing.T) {
	mw, err := Compression(config.CompressionConfig{MinSize: 64, Level: 6, ContentTypes: []string{"text/plain"}})
	require.NoError(t, err)

	small := newRequest(t, http.MethodGet, "/")
	small.Header.Set("Accept-Encoding", "gzip")
	resp, err := run(t, mw, small, textHandler("tiny"))
	require.NoError(t, err)
	assert.False(t, resp.Header.Has("Content-Encoding"))

	refused := newRequest(t, http.MethodGet, "/")
	refused.Header.Set("Accept-Encoding", "gzip;q=0")
	resp, err = run(t, mw, refused, textHandler(strings.Repeat("x", 200)))
	require.NoError(t, err)
	assert.False(t, resp.Header.Has("Content-Encoding"))
}

func TestAcceptsGzip(t *testing.T) {
	assert.True(t, acceptsGzip([]string{"gzip"}))
	assert.True(t, acceptsGzip([]string{"deflate", "*"}))
	assert.False(t, acceptsGzip([]string{"gzip; q=0"}))
	assert.False(t, acceptsGzip(nil))
}

func TestAuth(t *testing.T) {
	mw := Auth(config.AuthConfig{Tokens: []string{"s3cret"}, ExcludePaths: []string{"/health"}, Realm: "api"})

	_, err := run(t, mw, newRequest(t, http.MethodGet, "/api/notes"), textHandler("ok"))
	var he *http.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusUnauthorized, he.Status)
	assert.Equal(t, `Bearer realm="api"`, he.Header.Get("WWW-Authenticate"))

	bad := newRequest(t, http.MethodGet, "/api/notes")
	bad.Header.Set("Authorization", "Bearer nope")
	_, err = run(t, mw, bad, textHandler("ok"))
	require.True(t, errors.As(err, &he))
	assert.Contains(t, he.Header.Get("WWW-Authenticate"), `error="invalid_token"`)

	good := newRequest(t, http.MethodGet, "/api/notes")
	good.Header.Set("Authorization", "bearer s3cret")
	resp, err := run(t, mw, good, textHandler("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp, err = run(t, mw, newRequest(t, http.MethodGet, "/health"), textHandler("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestMetricsRecordsRoute(t *testing.T) {
	m := observability.NewMonitor(prometheus.NewRegistry())
	req := newRequest(t, http.MethodGet, "/users/7")
	req.Route = "/users/<id:int>"

	_, err := run(t, Metrics(m, nil), req, textHandler("ok"))
	require.NoError(t, err)
	assert.Equal(t, observability.Snapshot{TotalRequests: 1}, m.Snapshot())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Middleware = []string{"request_id", "logger", "cors", "security", "rate_limit", "compression"}
	mws, err := FromConfig(cfg, Deps{Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Len(t, mws, 6)

	cfg.Middleware = []string{"metrics"}
	_, err = FromConfig(cfg, Deps{Log: zerolog.Nop()})
	assert.Error(t, err)

	cfg.Middleware = []string{"bogus"}
	_, err = FromConfig(cfg, Deps{})
	assert.Error(t, err)
}
