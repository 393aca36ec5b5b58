package core

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/pools"
)

const (
	readChunk = 8192
	// compactAt is the consumed prefix size that triggers compaction.
	compactAt = 32 << 10
)

// recvBuffer is the growable receive buffer of one connection. A reader
// goroutine appends socket reads; the serving goroutine consumes them
// through http.Source. The reader pauses while more than max bytes are
// waiting, so a client cannot make the buffer grow without bound.
type recvBuffer struct {
	mu   sync.Mutex
	data []byte
	off  int
	err  error

	received int64 // bytes appended since the connection opened
	consumed int64 // bytes discarded since the connection opened
	seen     int64 // received as of the last Buffered call

	// idle disables the read timeout while waiting for the first byte of
	// a request; the idle reaper covers that phase.
	idle bool

	max         int
	readTimeout time.Duration
	pool        *pools.BytePool

	wake  chan struct{}
	space chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newRecvBuffer(max int, readTimeout time.Duration, pool *pools.BytePool) *recvBuffer {
	return &recvBuffer{
		max:         max,
		readTimeout: readTimeout,
		pool:        pool,
		wake:        make(chan struct{}, 1),
		space:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// readLoop copies r into the buffer until a read fails. onRead is called
// after every successful read, onErr once with the terminal error.
func (b *recvBuffer) readLoop(r io.Reader, onRead func(), onErr func(error)) {
	chunk := b.pool.Get(readChunk)
	defer b.pool.Put(chunk)
	for {
		if !b.waitSpace() {
			return
		}
		n, err := r.Read(chunk)
		b.mu.Lock()
		if n > 0 {
			b.data = append(b.data, chunk[:n]...)
			b.received += int64(n)
		}
		if err != nil {
			b.err = err
		}
		b.mu.Unlock()
		notify(b.wake)
		if n > 0 && onRead != nil {
			onRead()
		}
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
	}
}

func (b *recvBuffer) waitSpace() bool {
	for {
		b.mu.Lock()
		full := b.max > 0 && len(b.data)-b.off >= b.max
		b.mu.Unlock()
		if !full {
			return true
		}
		select {
		case <-b.space:
		case <-b.done:
			return false
		}
	}
}

// Buffered implements http.Source.
func (b *recvBuffer) Buffered() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = b.received
	return b.data[b.off:]
}

// Discard implements http.Source.
func (b *recvBuffer) Discard(n int) {
	b.mu.Lock()
	b.off += n
	b.consumed += int64(n)
	switch {
	case b.off >= len(b.data):
		b.data = b.data[:0]
		b.off = 0
	case b.off >= compactAt && b.off > len(b.data)/2:
		m := copy(b.data, b.data[b.off:])
		b.data = b.data[:m]
		b.off = 0
	}
	b.mu.Unlock()
	notify(b.space)
}

// Fill implements http.Source. It returns once bytes arrived that the last
// Buffered call did not report.
func (b *recvBuffer) Fill(ctx context.Context) error {
	var timeout <-chan time.Time
	for {
		b.mu.Lock()
		if b.received > b.seen {
			b.mu.Unlock()
			return nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return err
		}
		waitingForRequest := b.idle && len(b.data) == b.off
		b.mu.Unlock()

		if timeout == nil && !waitingForRequest && b.readTimeout > 0 {
			t := time.NewTimer(b.readTimeout)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timeout:
			return errors.WithStack(http.ErrClientTimeout)
		case <-b.done:
			return net.ErrClosed
		}
	}
}

func (b *recvBuffer) setIdle(idle bool) {
	b.mu.Lock()
	b.idle = idle
	b.mu.Unlock()
}

// counters returns the received and consumed totals.
func (b *recvBuffer) counters() (received, consumed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received, b.consumed
}

// readErr returns the error that stopped the reader, if any.
func (b *recvBuffer) readErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *recvBuffer) close() {
	b.once.Do(func() { close(b.done) })
}
