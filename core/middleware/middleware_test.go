package middleware

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/cyclone/core/http"
)

func newRequest(t *testing.T, method http.Method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	req.RemoteAddr = "10.0.0.1:5555"
	return req
}

func textHandler(body string) http.Handler {
	return http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return http.Text(http.StatusOK, body), nil
	})
}

func tracing(name string, log *[]string) Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		*log = append(*log, name+"-before")
		resp, err := next(ctx, req)
		*log = append(*log, name+"-after")
		return resp, err
	}
}

func TestPipelineOrder(t *testing.T) {
	var log []string
	p := NewPipeline(tracing("A", &log), tracing("B", &log))
	h := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		log = append(log, "H")
		return http.NoContent(), nil
	})

	resp, err := p.Execute(context.Background(), newRequest(t, http.MethodGet, "/"), h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, []string{"A-before", "B-before", "H", "B-after", "A-after"}, log)
}

func TestPipelineShortCircuit(t *testing.T) {
	var log []string
	deny := func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		log = append(log, "deny")
		return http.Text(http.StatusForbidden, "no"), nil
	}
	p := NewPipeline(tracing("A", &log), deny, tracing("C", &log))
	h := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		log = append(log, "H")
		return http.NoContent(), nil
	})

	resp, err := p.Execute(context.Background(), newRequest(t, http.MethodGet, "/"), h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, []string{"A-before", "deny", "A-after"}, log)
}

func TestPipelineReplacesResponse(t *testing.T) {
	replace := func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		if _, err := next(ctx, req); err != nil {
			return nil, err
		}
		return http.Text(http.StatusAccepted, "replaced"), nil
	}
	resp, err := NewPipeline(replace).Execute(context.Background(), newRequest(t, http.MethodGet, "/"), textHandler("orig"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(resp.Body))
}

func TestPipelineUseAfterCompilePanics(t *testing.T) {
	p := NewPipeline().Compile()
	assert.Panics(t, func() { p.Use(RequestID()) })
}

func TestRecovery(t *testing.T) {
	boom := http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		panic("boom")
	})
	next := Recovery(NewPipeline().Then(boom.Serve))

	resp, err := next(context.Background(), newRequest(t, http.MethodGet, "/"))
	assert.Nil(t, resp)
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, http.StatusInternalServerError, http.Classify(err, nil).Status)
}

func TestWrapWithoutMiddlewareReturnsHandler(t *testing.T) {
	h := textHandler("x")
	wrapped := Wrap(h)
	resp, err := wrapped.Serve(context.Background(), newRequest(t, http.MethodGet, "/"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(resp.Body))
}
