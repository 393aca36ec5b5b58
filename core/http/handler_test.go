package http

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noteView struct{}

func (noteView) Get(ctx context.Context, req *Request) (*Response, error) {
	return Text(200, "get"), nil
}

func (noteView) Delete(ctx context.Context, req *Request) (*Response, error) {
	return NoContent(), nil
}

func TestAsView(t *testing.T) {
	v := AsView(noteView{})
	assert.Equal(t, []Method{MethodDelete, MethodGet}, v.Methods())

	req, err := NewRequest(MethodGet, "/", nil)
	require.NoError(t, err)
	resp, err := v.Serve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "get", string(resp.Body))

	req.Method = MethodPost
	_, err = v.Serve(context.Background(), req)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 405, he.Status)
	assert.Equal(t, "DELETE, GET", he.Header.Get("Allow"))
}

func TestRequireMethods(t *testing.T) {
	h := RequireMethods(HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return Text(200, "ok"), nil
	}), MethodPost)

	req, err := NewRequest(MethodGet, "/", nil)
	require.NoError(t, err)
	_, err = h.Serve(context.Background(), req)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "POST", he.Header.Get("Allow"))
}
