package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/observability"
	"github.com/searchktools/cyclone/core/pools"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("server closed")

// Options configures an Engine.
type Options struct {
	Limits http.Limits

	// ReadTimeout bounds the wait for the rest of a started request.
	ReadTimeout time.Duration
	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration
	// IdleTimeout closes keep-alive connections with no request.
	IdleTimeout time.Duration
	// MaxConnections caps concurrently open connections; 0 is unlimited.
	MaxConnections int

	ServerName string
	Log        zerolog.Logger
	Monitor    *observability.Monitor
}

// Engine accepts connections and serves each on its own goroutine.
type Engine struct {
	opts       Options
	dispatcher *Dispatcher
	log        zerolog.Logger
	monitor    *observability.Monitor
	bytePool   *pools.BytePool

	connections map[uint64]*conn
	connMu      sync.RWMutex
	nextID      atomic.Uint64

	mu       sync.Mutex
	listener net.Listener

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inShutdown atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup

	accepted atomic.Uint64
	requests atomic.Uint64
}

// NewEngine creates an engine serving requests through d.
func NewEngine(d *Dispatcher, opts Options) *Engine {
	e := &Engine{
		opts:        opts,
		dispatcher:  d,
		log:         opts.Log,
		monitor:     opts.Monitor,
		bytePool:    pools.NewBytePool(),
		connections: make(map[uint64]*conn, 1024),
		done:        make(chan struct{}),
	}
	e.baseCtx, e.cancelBase = context.WithCancel(context.Background())
	return e
}

func (e *Engine) writeOptions() http.WriteOptions {
	name := e.opts.ServerName
	if name == "" {
		name = DefaultServerName
	}
	return http.WriteOptions{ServerName: name}
}

func (e *Engine) shuttingDown() bool { return e.inShutdown.Load() }

// ListenAndServe listens on addr and serves until shutdown.
func (e *Engine) ListenAndServe(addr string) error {
	ln, err := Listen(context.Background(), addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Serve accepts connections on ln until Shutdown or Close. It always
// returns a non-nil error; after a shutdown that error is ErrServerClosed.
func (e *Engine) Serve(ln net.Listener) error {
	if e.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, e.opts.MaxConnections)
	}
	e.mu.Lock()
	if e.shuttingDown() {
		e.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	e.listener = ln
	e.mu.Unlock()
	defer ln.Close()

	e.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	if e.opts.IdleTimeout > 0 {
		e.wg.Add(1)
		go e.cleanupIdleConnections()
	}

	var backoff time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if e.shuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				e.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept")
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		backoff = 0

		if tc, ok := rwc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(30 * time.Second)
		}
		c := newConn(e, e.nextID.Add(1), rwc)
		if !e.track(c) {
			rwc.Close()
			continue
		}
		e.accepted.Add(1)
		e.monitor.ConnectionOpened()
		go c.serve()
	}
}

func (e *Engine) track(c *conn) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.shuttingDown() {
		return false
	}
	e.connections[c.id] = c
	return true
}

func (e *Engine) untrack(c *conn) {
	e.connMu.Lock()
	_, ok := e.connections[c.id]
	delete(e.connections, c.id)
	e.connMu.Unlock()
	if ok {
		e.monitor.ConnectionClosed()
	}
}

func (e *Engine) snapshot() []*conn {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	out := make([]*conn, 0, len(e.connections))
	for _, c := range e.connections {
		out = append(out, c)
	}
	return out
}

// cleanupIdleConnections periodically closes keep-alive connections that
// have been idle longer than IdleTimeout.
func (e *Engine) cleanupIdleConnections() {
	defer e.wg.Done()
	tick := min(time.Second, e.opts.IdleTimeout/2)
	ticker := time.NewTicker(max(tick, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case now := <-ticker.C:
			for _, c := range e.snapshot() {
				if c.state.Load() == connIdle && c.idleFor(now) > e.opts.IdleTimeout {
					c.closeIfIdle()
				}
			}
		}
	}
}

// ActiveConnections returns the number of open connections.
func (e *Engine) ActiveConnections() int {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return len(e.connections)
}

// Shutdown stops accepting, closes idle connections and waits for the
// in-flight exchanges to finish. When ctx ends first the remaining
// connections are force-closed, cancelling their requests, and ctx's error
// is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.beginShutdown()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, c := range e.snapshot() {
			c.closeIfIdle()
		}
		if e.ActiveConnections() == 0 {
			e.finish()
			return nil
		}
		select {
		case <-ctx.Done():
			e.log.Warn().Int("connections", e.ActiveConnections()).Msg("shutdown deadline reached, closing connections")
			e.closeAll()
			e.finish()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the engine immediately.
func (e *Engine) Close() error {
	e.beginShutdown()
	e.closeAll()
	e.finish()
	return nil
}

func (e *Engine) beginShutdown() {
	e.mu.Lock()
	e.inShutdown.Store(true)
	ln := e.listener
	e.mu.Unlock()
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			e.log.Debug().Err(err).Msg("close listener")
		}
	}
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *Engine) closeAll() {
	e.cancelBase()
	for _, c := range e.snapshot() {
		c.forceClose()
	}
}

func (e *Engine) finish() {
	e.wg.Wait()
}
