package http

import (
	"bytes"
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/http/httpguts"
)

// Limits bounds what the parser accepts. Zero values disable a limit.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// ReadHead parses the next request head from src, filling it as needed.
// The head bytes are discarded from src; the body is left in place.
func ReadHead(ctx context.Context, src Source, lim Limits) (*Request, error) {
	for {
		req, n, err := ParseHead(src.Buffered(), lim)
		if err == nil {
			src.Discard(n)
			return req, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		if err := src.Fill(ctx); err != nil {
			return nil, err
		}
	}
}

// ParseHead parses a request line and header block from buf. It returns the
// request and the number of bytes consumed, or ErrIncomplete when buf does
// not yet hold a blank-line terminated head.
func ParseHead(buf []byte, lim Limits) (*Request, int, error) {
	start := 0
	for start < len(buf) && (buf[start] == '\r' || buf[start] == '\n') {
		start++
	}
	end := headEnd(buf[start:])
	if end < 0 {
		if lim.MaxHeaderBytes > 0 && len(buf)-start > lim.MaxHeaderBytes {
			return nil, 0, ErrHeaderTooLarge
		}
		return nil, 0, ErrIncomplete
	}
	if lim.MaxHeaderBytes > 0 && end > lim.MaxHeaderBytes {
		return nil, 0, ErrHeaderTooLarge
	}
	req, err := parseHead(buf[start:start+end], lim)
	if err != nil {
		return nil, 0, err
	}
	return req, start + end, nil
}

// headEnd returns the offset just past the blank line ending the head, or -1.
func headEnd(b []byte) int {
	i := 0
	for {
		j := bytes.IndexByte(b[i:], '\n')
		if j < 0 {
			return -1
		}
		line := b[i : i+j]
		i += j + 1
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			return i
		}
	}
}

func malformed(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedRequest)
}

func parseHead(head []byte, lim Limits) (*Request, error) {
	lines := strings.Split(string(head), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	// The split leaves the blank terminator and an empty tail.
	lines = lines[:len(lines)-2]

	req := &Request{Header: make(Header, len(lines))}
	if err := parseRequestLine(req, lines[0]); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line[0] == ' ' || line[0] == '\t' {
			return nil, malformed("obsolete header line folding")
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, malformed("header line without colon: %q", line)
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, malformed("invalid header name %q", name)
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, malformed("invalid value for header %q", name)
		}
		req.Header.Add(name, value)
	}

	if hosts := req.Header.Values("Host"); len(hosts) > 1 {
		return nil, malformed("multiple Host headers")
	} else if len(hosts) == 1 && req.Host == "" {
		req.Host = hosts[0]
	}

	if err := parseFraming(req, lim); err != nil {
		return nil, err
	}
	return req, nil
}

func parseRequestLine(req *Request, line string) error {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || strings.ContainsAny(target, " \t") || strings.Contains(proto, " ") {
		return malformed("malformed request line %q", line)
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return malformed("invalid method %q", method)
	}
	major, minor, ok := parseVersion(proto)
	if !ok {
		return malformed("malformed protocol version %q", proto)
	}
	if major != 1 {
		return ErrVersionNotSupported
	}
	if target == "" || (target == "*" && method != string(MethodOptions)) {
		return malformed("invalid request target %q", target)
	}

	req.Method = Method(method)
	req.Proto = proto
	req.ProtoMajor = major
	req.ProtoMinor = minor
	return req.setTarget(target)
}

func parseVersion(v string) (major, minor int, ok bool) {
	if len(v) != len("HTTP/1.1") || !strings.HasPrefix(v, "HTTP/") || v[6] != '.' {
		return 0, 0, false
	}
	if !isDigit(v[5]) || !isDigit(v[7]) {
		return 0, 0, false
	}
	return int(v[5] - '0'), int(v[7] - '0'), true
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func parseFraming(req *Request, lim Limits) error {
	te := req.Header.Values("Transfer-Encoding")
	cl := req.Header.Values("Content-Length")

	if len(te) > 0 {
		if len(cl) > 0 {
			return malformed("both Transfer-Encoding and Content-Length present")
		}
		if req.ProtoMinor == 0 {
			return malformed("Transfer-Encoding in HTTP/1.0 request")
		}
		codings := splitList(te)
		if len(codings) != 1 || !strings.EqualFold(codings[0], "chunked") {
			return malformed("unsupported transfer coding %q", strings.Join(te, ", "))
		}
		req.Chunked = true
		req.ContentLength = -1
		return nil
	}

	if len(cl) == 0 {
		req.ContentLength = 0
		return nil
	}
	values := splitList(cl)
	first := values[0]
	for _, v := range values[1:] {
		if v != first {
			return malformed("conflicting Content-Length values")
		}
	}
	n, ok := parseLength(first)
	if !ok {
		return malformed("invalid Content-Length %q", first)
	}
	if lim.MaxBodyBytes > 0 && n > lim.MaxBodyBytes {
		return ErrBodyTooLarge
	}
	req.ContentLength = n
	return nil
}

// parseLength accepts only unsigned decimal digits, rejecting signs.
func parseLength(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n, true
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}
