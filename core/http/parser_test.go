package http

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadSimple(t *testing.T) {
	raw := "GET /users/42?x=1&x=2&y=3 HTTP/1.1\r\nHost: example.com\r\nX-Multi: a\r\nx-multi: b\r\n\r\nrest"
	req, n, err := ParseHead([]byte(raw), Limits{})
	require.NoError(t, err)

	assert.Equal(t, len(raw)-len("rest"), n)
	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "/users/42", req.Path)
	assert.Equal(t, []string{"1", "2"}, req.Query["x"])
	assert.Equal(t, "3", req.Query.Get("y"))
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, []string{"a", "b"}, req.Header.Values("X-MULTI"))
	assert.Equal(t, int64(0), req.ContentLength)
	assert.True(t, req.KeepAlive())
}

func TestParseHeadIncomplete(t *testing.T) {
	for _, raw := range []string{"", "GET / HTTP/1.1\r\n", "GET / HTTP/1.1\r\nHost: a\r\n"} {
		_, _, err := ParseHead([]byte(raw), Limits{})
		assert.ErrorIs(t, err, ErrIncomplete, "input %q", raw)
	}
}

func TestParseHeadSkipsLeadingBlankLines(t *testing.T) {
	raw := "\r\n\r\nGET / HTTP/1.1\r\n\r\n"
	req, n, err := ParseHead([]byte(raw), Limits{})
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, "/", req.Path)
}

func TestParseHeadMalformed(t *testing.T) {
	cases := map[string]string{
		"no colon":         "GET / HTTP/1.1\r\nBadHeader\r\n\r\n",
		"bad request line": "GET /\r\n\r\n",
		"bad version":      "GET / HTTX/1.1\r\n\r\n",
		"space in name":    "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n",
		"folding":          "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n",
		"negative length":  "POST / HTTP/1.1\r\nContent-Length: -5\r\n\r\n",
		"conflicting CL":   "POST / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n",
		"CL and TE":        "POST / HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n",
		"unknown coding":   "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n",
		"asterisk GET":     "GET * HTTP/1.1\r\n\r\n",
		"double host":      "GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n",
		"bad query escape": "GET /search?q=%zz HTTP/1.1\r\n\r\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseHead([]byte(raw), Limits{})
			assert.True(t, errors.Is(err, ErrMalformedRequest), "got %v", err)
		})
	}
}

func TestParseHeadLimits(t *testing.T) {
	_, _, err := ParseHead([]byte("GET / HTTP/1.1\r\nX-Long: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Limits{MaxHeaderBytes: 32})
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	_, _, err = ParseHead([]byte("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n"), Limits{MaxBodyBytes: 10})
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	_, _, err = ParseHead([]byte("GET / HTTP/2.0\r\n\r\n"), Limits{})
	assert.ErrorIs(t, err, ErrVersionNotSupported)
}

func TestParseHeadFraming(t *testing.T) {
	req, _, err := ParseHead([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: Chunked\r\n\r\n"), Limits{})
	require.NoError(t, err)
	assert.True(t, req.Chunked)
	assert.Equal(t, int64(-1), req.ContentLength)

	req, _, err = ParseHead([]byte("POST / HTTP/1.1\r\nContent-Length: 7, 7\r\n\r\n"), Limits{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.ContentLength)
}

func TestParseHeadKeepAliveDefaults(t *testing.T) {
	req, _, err := ParseHead([]byte("GET / HTTP/1.0\r\n\r\n"), Limits{})
	require.NoError(t, err)
	assert.False(t, req.KeepAlive())

	req, _, err = ParseHead([]byte("GET / HTTP/1.0\r\nConnection: Keep-Alive\r\n\r\n"), Limits{})
	require.NoError(t, err)
	assert.True(t, req.KeepAlive())

	req, _, err = ParseHead([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n"), Limits{})
	require.NoError(t, err)
	assert.False(t, req.KeepAlive())
}

func TestReadHeadAcrossFragments(t *testing.T) {
	src := newMemSource("GE", "T /a HTTP/1.1\r", "\nHost: x\r\n", "\r\nbody")
	req, err := ReadHead(context.Background(), src, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "/a", req.Path)
	assert.Equal(t, "body", string(src.Buffered()))
}
