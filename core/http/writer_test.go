package http

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func write(t *testing.T, req *Request, resp *Response) (string, bool, error) {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	keep, err := WriteResponse(context.Background(), w, req, resp, WriteOptions{ServerName: "cyclone", Now: fixedNow})
	return buf.String(), keep, err
}

func mustRequest(t *testing.T, raw string) *Request {
	t.Helper()
	req, _, err := ParseHead([]byte(raw), Limits{})
	require.NoError(t, err)
	return req
}

func TestWriteFixedResponse(t *testing.T) {
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.1\r\n\r\n"), Text(200, "hi"))
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Length: 2\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Date: Fri, 02 Jan 2026 03:04:05 GMT\r\n"+
		"Server: cyclone\r\n"+
		"\r\nhi", out)
}

func TestWriteConnectionClose(t *testing.T) {
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n"), Text(200, "x"))
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Contains(t, out, "Connection: close\r\n")

	resp := Text(200, "x")
	resp.Close = true
	_, keep, err = write(t, mustRequest(t, "GET / HTTP/1.1\r\n\r\n"), resp)
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestWriteHTTP10KeepAlive(t *testing.T) {
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"), Text(200, "x"))
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Contains(t, out, "Connection: keep-alive\r\n")
}

func TestWriteHeadOmitsBody(t *testing.T) {
	out, keep, err := write(t, mustRequest(t, "HEAD / HTTP/1.1\r\n\r\n"), Text(200, "hello"))
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestWriteNoContentHasNoLength(t *testing.T) {
	out, _, err := write(t, mustRequest(t, "DELETE /x HTTP/1.1\r\n\r\n"), NoContent())
	require.NoError(t, err)
	assert.NotContains(t, out, "Content-Length")
}

func TestWriteChunkedStream(t *testing.T) {
	resp := Stream(200, MIMETextPlain, func(ctx context.Context, w ChunkWriter) error {
		if _, err := w.Write([]byte("hello ")); err != nil {
			return err
		}
		_, err := w.Write([]byte("world"))
		return err
	})
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.1\r\n\r\n"), resp)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Contains(t, out, "Transfer-Encoding: chunked\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n6\r\nhello \r\n5\r\nworld\r\n0\r\n\r\n"), out)
	assert.True(t, resp.Frozen())
	assert.ErrorIs(t, resp.SetHeader("X-Late", "1"), ErrHeadersFrozen)
}

func TestWriteStreamHTTP10ForcesClose(t *testing.T) {
	resp := Stream(200, "", func(ctx context.Context, w ChunkWriter) error {
		_, err := w.Write([]byte("data"))
		return err
	})
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"), resp)
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Contains(t, out, "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\ndata"))
}

func TestWriteStreamHeadersMutableUntilFirstChunk(t *testing.T) {
	var resp *Response
	resp = Stream(200, "", func(ctx context.Context, w ChunkWriter) error {
		if err := resp.SetHeader("X-Early", "yes"); err != nil {
			return err
		}
		_, err := w.Write([]byte("a"))
		if err != nil {
			return err
		}
		return resp.SetHeader("X-Late", "no")
	})
	out, _, err := write(t, mustRequest(t, "GET / HTTP/1.1\r\n\r\n"), resp)
	assert.ErrorIs(t, err, ErrHeadersFrozen)
	assert.Contains(t, out, "X-Early: yes\r\n")
	assert.NotContains(t, out, "X-Late")
}

func TestWriteStreamFailureBeforeHead(t *testing.T) {
	resp := Stream(200, "", func(ctx context.Context, w ChunkWriter) error {
		return errors.New("boom")
	})
	out, keep, err := write(t, mustRequest(t, "GET / HTTP/1.1\r\n\r\n"), resp)
	require.Error(t, err)
	assert.False(t, keep)
	assert.False(t, resp.Frozen())
	assert.Empty(t, out)
}
