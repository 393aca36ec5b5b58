package middleware

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
)

// Compression gzips buffered response bodies of the configured content
// types when the client accepts gzip and the body is at least MinSize.
// Streaming bodies pass through untouched.
func Compression(cfg config.CompressionConfig) (Middleware, error) {
	if _, err := gzip.NewWriterLevel(nil, cfg.Level); err != nil {
		return nil, err
	}
	pool := sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(nil, cfg.Level)
		return w
	}}
	minSize := int(cfg.MinSize)

	compressible := func(ct string) bool {
		if len(cfg.ContentTypes) == 0 {
			return true
		}
		media := strings.TrimSpace(strings.ToLower(strings.SplitN(ct, ";", 2)[0]))
		for _, t := range cfg.ContentTypes {
			if media == t || (strings.HasSuffix(t, "/") && strings.HasPrefix(media, t)) {
				return true
			}
		}
		return false
	}

	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		resp, err := next(ctx, req)
		if err != nil || resp == nil || resp.IsStream() || resp.Frozen() {
			return resp, err
		}
		if resp.Header == nil || resp.Header.Has("Content-Encoding") || !compressible(resp.Header.Get("Content-Type")) {
			return resp, nil
		}
		addVary(resp.Header, "Accept-Encoding")
		if len(resp.Body) < minSize || !acceptsGzip(req.Header.Values("Accept-Encoding")) {
			return resp, nil
		}

		var buf bytes.Buffer
		zw := pool.Get().(*gzip.Writer)
		zw.Reset(&buf)
		_, err = zw.Write(resp.Body)
		if err == nil {
			err = zw.Close()
		}
		pool.Put(zw)
		if err != nil {
			return nil, err
		}
		if buf.Len() >= len(resp.Body) {
			return resp, nil
		}
		resp.Body = buf.Bytes()
		resp.Header.Set("Content-Encoding", "gzip")
		resp.Header.Del("Content-Length")
		return resp, nil
	}, nil
}

// acceptsGzip parses Accept-Encoding, honoring q=0 exclusions.
func acceptsGzip(values []string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			coding = strings.ToLower(strings.TrimSpace(coding))
			if coding != "gzip" && coding != "*" {
				continue
			}
			q := 1.0
			for _, p := range strings.Split(params, ";") {
				name, val, ok := strings.Cut(strings.TrimSpace(p), "=")
				if ok && strings.EqualFold(name, "q") {
					if f, err := strconv.ParseFloat(val, 64); err == nil {
						q = f
					}
				}
			}
			if q > 0 {
				return true
			}
		}
	}
	return false
}
