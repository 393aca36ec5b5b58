package middleware

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/core/http"
)

// decorate applies fn to the headers of whatever the chain produced: the
// response, or the HTTPError that will become one. Other errors are left
// alone; their response is built at the pipeline boundary.
func decorate(resp *http.Response, err error, fn func(h http.Header)) (*http.Response, error) {
	if err != nil {
		var he *http.HTTPError
		if !errors.As(err, &he) {
			return resp, err
		}
		cp := *he
		cp.Header = he.Header.Clone()
		if cp.Header == nil {
			cp.Header = http.Header{}
		}
		fn(cp.Header)
		return resp, &cp
	}
	if resp == nil {
		return resp, nil
	}
	if resp.Frozen() {
		return resp, http.ErrHeadersFrozen
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	fn(resp.Header)
	return resp, nil
}

// statusOf reports the status the client will see for the outcome of next.
func statusOf(resp *http.Response, err error, classes []http.ErrorClass) int {
	switch {
	case err != nil:
		return http.Classify(err, classes).Status
	case resp == nil:
		return http.StatusInternalServerError
	case resp.Status == 0:
		return http.StatusOK
	}
	return resp.Status
}

// clientIP strips the port from a remote address.
func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

func setDefault(h http.Header, key, value string) {
	if !h.Has(key) {
		h.Set(key, value)
	}
}

func addVary(h http.Header, field string) {
	for _, v := range h.Values("Vary") {
		if v == field {
			return
		}
	}
	h.Add("Vary", field)
}

func seconds(n int) string { return strconv.Itoa(n) }
