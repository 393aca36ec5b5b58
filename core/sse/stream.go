package sse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/cyclone/core/http"
)

// Stream builds a streaming response that writes every event received on
// events until the channel closes or the request ends. A comment line is
// sent after each keepalive interval without events.
func Stream(events <-chan *Event, keepalive time.Duration) *http.Response {
	resp := http.Stream(http.StatusOK, http.MIMEEventStream, func(ctx context.Context, w http.ChunkWriter) error {
		var tick <-chan time.Time
		if keepalive > 0 {
			t := time.NewTicker(keepalive)
			defer t.Stop()
			tick = t.C
		}
		// Send the head right away so clients see the stream open.
		if _, err := w.Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
					return err
				}
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if _, err := w.Write(FormatEvent(ev)); err != nil {
					return err
				}
			}
		}
	})
	resp.Header.Set("Cache-Control", "no-cache")
	resp.Header.Set("X-Accel-Buffering", "no")
	return resp
}

// Handler subscribes each request to b and streams its events.
func (b *Broker) Handler(keepalive time.Duration) http.Handler {
	return http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		c, err := b.Subscribe(uuid.NewString())
		if err != nil {
			return nil, http.NewError(http.StatusServiceUnavailable, err.Error())
		}
		resp := Stream(c.Events, keepalive)
		inner := resp.Stream
		resp.Stream = func(ctx context.Context, w http.ChunkWriter) error {
			defer b.Unsubscribe(c)
			return inner(ctx, w)
		}
		return resp, nil
	})
}
