package http

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

func decodeErrorBody(t *testing.T, resp *Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	return body
}

func TestClassify(t *testing.T) {
	classes := []ErrorClass{{Target: errStoreDown, Status: 500, Name: "data access error"}}

	assert.Equal(t, 404, Classify(NewError(404, ""), nil).Status)
	assert.Equal(t, 418, Classify(errors.Wrap(NewError(418, "teapot"), "ctx"), nil).Status)
	assert.Equal(t, 504, Classify(errors.Wrap(ErrTimeout, "query"), nil).Status)
	assert.Equal(t, 504, Classify(context.DeadlineExceeded, nil).Status)
	assert.Equal(t, 408, Classify(ErrClientTimeout, nil).Status)
	assert.Equal(t, "data access error", Classify(errors.Wrap(errStoreDown, "get"), classes).Name)
	assert.Equal(t, Fault, Classify(errors.New("anything"), classes))
}

func TestErrorResponseGenericHidesDetails(t *testing.T) {
	resp := ErrorResponse(errors.New("secret internal id 1234"), nil, false)
	assert.Equal(t, 500, resp.Status)
	body := decodeErrorBody(t, resp)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Empty(t, body.Detail)
	assert.Empty(t, body.Trace)
	assert.NotContains(t, string(resp.Body), "1234")
}

func TestErrorResponseVerbose(t *testing.T) {
	resp := ErrorResponse(errors.New("secret internal id 1234"), nil, true)
	body := decodeErrorBody(t, resp)
	assert.Equal(t, "internal fault", body.Error)
	assert.Contains(t, body.Detail, "1234")
	assert.NotEmpty(t, body.Trace)
}

func TestErrorResponseIntentional(t *testing.T) {
	err := NewError(429, "slow down").WithHeader("Retry-After", "3")
	resp := ErrorResponse(err, nil, false)
	assert.Equal(t, 429, resp.Status)
	assert.Equal(t, "3", resp.Header.Get("Retry-After"))
	assert.Equal(t, "slow down", decodeErrorBody(t, resp).Error)
}
