// Package app assembles the router, middleware and lifecycle hooks into a
// running server.
package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core"
	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/middleware"
	"github.com/searchktools/cyclone/core/observability"
	"github.com/searchktools/cyclone/core/router"
	"github.com/searchktools/cyclone/core/store"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitBind    = 2
	ExitStartup = 3
)

var (
	// ErrBind marks a failure to open the listener.
	ErrBind = errors.New("bind failed")
	// ErrStartup marks a failing startup hook.
	ErrStartup = errors.New("startup hook failed")
	// ErrAlreadyBuilt is returned when the application is modified or
	// built after it started serving.
	ErrAlreadyBuilt = errors.New("application already built")
)

// ExitCode maps the result of Run onto a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrBind):
		return ExitBind
	case errors.Is(err, ErrStartup):
		return ExitStartup
	default:
		return ExitFailure
	}
}

// Hook runs at a process boundary: once before the listener opens, or once
// after the server has drained.
type Hook func(ctx context.Context) error

// Application is the process-wide registry of routes, middleware and
// hooks. Everything is registered before Build; afterwards the dispatcher
// it produces is immutable.
type Application struct {
	cfg      *config.Config
	log      zerolog.Logger
	router   *router.Router
	registry *prometheus.Registry
	monitor  *observability.Monitor

	mu         sync.Mutex
	middleware []middleware.Middleware
	classes    []http.ErrorClass
	startup    []Hook
	shutdown   []Hook
	dispatcher *core.Dispatcher
	engine     *core.Engine
	addr       net.Addr
	ready      chan struct{}
}

// New creates an application. Store errors are mapped to statuses by
// default: not found 404, timeout 504, invalid record 400, any other data
// access failure 500.
func New(cfg *config.Config, log zerolog.Logger) *Application {
	reg := prometheus.NewRegistry()
	a := &Application{
		cfg:      cfg,
		log:      log,
		router:   router.New(),
		registry: reg,
		monitor:  observability.NewMonitor(reg),
		ready:    make(chan struct{}),
	}
	a.AddErrorClass(store.ErrNotFound, http.StatusNotFound, "not found")
	a.AddErrorClass(store.ErrTimeout, http.StatusGatewayTimeout, "timeout")
	a.AddErrorClass(store.ErrInvalidRecord, http.StatusBadRequest, "invalid record")
	a.AddErrorClass(store.ErrDataAccess, http.StatusInternalServerError, "data access")
	return a
}

// Config returns the settings the application was created with.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() zerolog.Logger { return a.log }

// Router returns the route table for registration.
func (a *Application) Router() *router.Router { return a.router }

// Monitor returns the Prometheus collectors shared by the engine and the
// metrics middleware.
func (a *Application) Monitor() *observability.Monitor { return a.monitor }

// Use appends middleware after the ones named in the configuration.
func (a *Application) Use(mws ...middleware.Middleware) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.middleware = append(a.middleware, mws...)
}

// AddErrorClass maps errors matching target onto status.
func (a *Application) AddErrorClass(target error, status int, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.classes = append(a.classes, http.ErrorClass{Target: target, Status: status, Name: name})
}

// OnStartup registers a hook run before the listener opens. A failing
// hook aborts the start.
func (a *Application) OnStartup(h Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.startup = append(a.startup, h)
}

// OnShutdown registers a hook run after the server drained. Hooks run in
// reverse registration order; failures are logged.
func (a *Application) OnShutdown(h Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBeOpen()
	a.shutdown = append(a.shutdown, h)
}

func (a *Application) mustBeOpen() {
	if a.dispatcher != nil {
		panic(ErrAlreadyBuilt)
	}
}

// Build mounts the metrics route, compiles the configured middleware and
// freezes everything into a Dispatcher.
func (a *Application) Build() (*core.Dispatcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dispatcher != nil {
		return nil, ErrAlreadyBuilt
	}

	if a.cfg.Metrics.Enabled {
		if err := a.router.GET(a.cfg.Metrics.Path, a.monitor.Handler().Serve, router.Name("metrics")); err != nil {
			return nil, errors.Wrap(err, "mount metrics route")
		}
	}

	mws, err := middleware.FromConfig(a.cfg, middleware.Deps{
		Log:     a.log,
		Monitor: a.monitor,
		Classes: a.classes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "configure middleware")
	}
	mws = append(mws, a.middleware...)

	a.dispatcher = core.NewDispatcher(core.DispatcherOptions{
		Router:     a.router,
		Middleware: mws,
		Classes:    a.classes,
		Verbose:    a.cfg.Server.Debug,
		Log:        a.log,
		Monitor:    a.monitor,
	})
	return a.dispatcher, nil
}

// Engine returns the running engine, or nil before Run has bound.
func (a *Application) Engine() *core.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Addr returns the bound address, or nil before Run has bound.
func (a *Application) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Ready is closed once the listener is bound.
func (a *Application) Ready() <-chan struct{} { return a.ready }

// Run executes the startup hooks, serves until ctx ends or SIGINT/SIGTERM
// arrives, then shuts down gracefully and executes the shutdown hooks. It
// returns nil after a graceful shutdown; ExitCode maps other results.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n := a.cfg.Server.Workers; n > 0 {
		prev := runtime.GOMAXPROCS(n)
		defer runtime.GOMAXPROCS(prev)
	}

	d, err := a.Build()
	if err != nil {
		return errors.Mark(err, ErrStartup)
	}

	for i, h := range a.startup {
		if err := h(ctx); err != nil {
			a.log.Error().Err(err).Int("hook", i).Msg("startup hook failed")
			return errors.Mark(errors.Wrapf(err, "startup hook %d", i), ErrStartup)
		}
	}
	// Startup succeeded, so whatever happens next the shutdown hooks run.
	defer a.runShutdownHooks()

	ln, err := core.Listen(ctx, a.cfg.Addr())
	if err != nil {
		a.log.Error().Err(err).Str("addr", a.cfg.Addr()).Msg("bind failed")
		return errors.Mark(err, ErrBind)
	}

	engine := core.NewEngine(d, core.Options{
		Limits: http.Limits{
			MaxHeaderBytes: int(a.cfg.Server.MaxHeaderSize),
			MaxBodyBytes:   int64(a.cfg.Server.MaxBodySize),
		},
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		IdleTimeout:    a.cfg.Server.IdleTimeout,
		MaxConnections: a.cfg.Server.MaxConnections,
		ServerName:     a.cfg.Server.Name,
		Log:            a.log,
		Monitor:        a.monitor,
	})
	a.mu.Lock()
	a.engine = engine
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	a.log.Info().
		Str("addr", ln.Addr().String()).
		Int("workers", runtime.GOMAXPROCS(0)).
		Bool("debug", a.cfg.Server.Debug).
		Str("version", core.Version).
		Msg("cyclone starting")

	serveErr := make(chan error, 1)
	go func() { serveErr <- engine.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, core.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info().Dur("timeout", a.cfg.Server.ShutdownTimeout).Msg("shutting down")
	shutdownCtx := context.Background()
	if t := a.cfg.Server.ShutdownTimeout; t > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, t)
		defer cancel()
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("shutdown incomplete, connections were closed")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, core.ErrServerClosed) {
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}

func (a *Application) runShutdownHooks() {
	ctx := context.Background()
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.log.Error().Err(err).Int("hook", i).Msg("shutdown hook failed")
		}
	}
}
