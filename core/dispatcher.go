package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/middleware"
	"github.com/searchktools/cyclone/core/observability"
	"github.com/searchktools/cyclone/core/router"
)

// State is the position of one request in the dispatch state machine.
type State int

// States in transition order. An exchange only ever moves forward.
const (
	StateReceived State = iota
	StateRouted
	StateMiddlewareEnter
	StateHandlerExecuting
	StateMiddlewareExit
	StateFailed
	StateComplete
)

var stateNames = [...]string{
	StateReceived:         "RECEIVED",
	StateRouted:           "ROUTED",
	StateMiddlewareEnter:  "MIDDLEWARE_ENTER",
	StateHandlerExecuting: "HANDLER_EXECUTING",
	StateMiddlewareExit:   "MIDDLEWARE_EXIT",
	StateFailed:           "FAILED",
	StateComplete:         "COMPLETE",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Exchange is one request's trip through the dispatcher.
type Exchange struct {
	Request  *http.Request
	Response *http.Response
	// Err is the failure that produced an error response, if any.
	Err error

	handler http.Handler

	mu    sync.Mutex
	state State
	hook  func(x *Exchange, from, to State)
}

// State returns the current state.
func (x *Exchange) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// advance moves the exchange to a later state. Moves to the current or an
// earlier state are ignored.
func (x *Exchange) advance(to State) {
	x.mu.Lock()
	from := x.state
	if to <= from {
		x.mu.Unlock()
		return
	}
	x.state = to
	x.mu.Unlock()
	if x.hook != nil {
		x.hook(x, from, to)
	}
}

type exchangeKey struct{}

// ExchangeFrom returns the exchange carried by a request context.
func ExchangeFrom(ctx context.Context) (*Exchange, bool) {
	x, ok := ctx.Value(exchangeKey{}).(*Exchange)
	return x, ok
}

// ErrNoResponse is reported when a handler returns neither a response
// nor an error.
var ErrNoResponse = errors.New("handler returned no response")

// ErrInvalidStatus is the fault for a response status outside 100-599.
var ErrInvalidStatus = errors.New("invalid response status")

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Router     *router.Router
	Middleware []middleware.Middleware
	// Classes map application errors onto statuses, after the built-in ones.
	Classes []http.ErrorClass
	// Verbose exposes failure classes and details in error bodies.
	Verbose bool
	Log     zerolog.Logger
	Monitor *observability.Monitor
	// OnTransition observes every state change.
	OnTransition func(x *Exchange, from, to State)
}

// Dispatcher routes a parsed request through the middleware pipeline and
// always produces a response. It is immutable and safe for concurrent use.
type Dispatcher struct {
	router  *router.Router
	chain   middleware.Next
	classes []http.ErrorClass
	verbose bool
	log     zerolog.Logger
	monitor *observability.Monitor
	hook    func(x *Exchange, from, to State)
}

// NewDispatcher builds the router and compiles the pipeline.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	r := opts.Router
	if r == nil {
		r = router.New()
	}
	d := &Dispatcher{
		router:  r.Build(),
		classes: append([]http.ErrorClass(nil), opts.Classes...),
		verbose: opts.Verbose,
		log:     opts.Log,
		monitor: opts.Monitor,
		hook:    opts.OnTransition,
	}
	p := middleware.NewPipeline(opts.Middleware...).Compile()
	d.chain = middleware.Recovery(p.Then(d.invoke))
	return d
}

// Router returns the routing table.
func (d *Dispatcher) Router() *router.Router { return d.router }

// Classes returns the application error classes.
func (d *Dispatcher) Classes() []http.ErrorClass { return d.classes }

// Verbose reports whether error bodies carry details.
func (d *Dispatcher) Verbose() bool { return d.verbose }

// Dispatch runs req to completion and returns its response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *http.Request) *http.Response {
	x := &Exchange{Request: req, hook: d.hook}
	if d.hook != nil {
		d.hook(x, StateReceived, StateReceived)
	}

	res := d.router.Match(req.Method, req.Path)
	switch res.Status() {
	case http.StatusOK:
		req.Params = res.Params
		req.Route = res.Route.Pattern
		x.handler = res.Route.Handler
	case http.StatusMethodNotAllowed:
		x.handler = methodNotAllowed(res.Allowed)
	default:
		x.handler = notFound
	}
	x.advance(StateRouted)

	ctx = context.WithValue(ctx, exchangeKey{}, x)
	x.advance(StateMiddlewareEnter)
	resp, err := d.chain(ctx, req)
	x.advance(StateMiddlewareExit)

	if err == nil {
		err = checkResponse(resp)
	}
	if err != nil {
		resp = d.fail(ctx, x, err)
	}
	x.Response = resp
	x.advance(StateComplete)
	return resp
}

// ErrorResponse converts err the way the pipeline boundary does.
func (d *Dispatcher) ErrorResponse(err error) *http.Response {
	return http.ErrorResponse(err, d.classes, d.verbose)
}

func (d *Dispatcher) fail(ctx context.Context, x *Exchange, err error) *http.Response {
	x.Err = err
	var he *http.HTTPError
	if errors.As(err, &he) {
		// Intentional responses are not failures.
		return d.ErrorResponse(err)
	}

	x.advance(StateFailed)
	class := http.Classify(err, d.classes)
	d.monitor.Failure(class.Name)

	ev := d.log.Warn()
	if class.Status >= http.StatusInternalServerError {
		ev = d.log.Error()
	}
	ev = ev.Err(err).
		Str("class", class.Name).
		Int("status", class.Status).
		Str("method", string(x.Request.Method)).
		Str("path", x.Request.Path)
	if id := middleware.RequestIDFrom(ctx); id != "" {
		ev = ev.Str("request_id", id)
	}
	if class.Status == http.StatusInternalServerError {
		ev = ev.Str("trace", fmt.Sprintf("%+v", err))
	}
	ev.Msg("request failed")

	return d.ErrorResponse(err)
}

// invoke is the innermost link of the pipeline.
func (d *Dispatcher) invoke(ctx context.Context, req *http.Request) (*http.Response, error) {
	x, ok := ExchangeFrom(ctx)
	if !ok {
		return nil, errors.AssertionFailedf("dispatch context lost its exchange")
	}
	x.advance(StateHandlerExecuting)
	resp, err := x.handler.Serve(ctx, req)
	x.advance(StateMiddlewareExit)
	if err == nil {
		err = checkResponse(resp)
	}
	return resp, err
}

// checkResponse defaults a zero status to 200 and rejects statuses
// outside the valid range.
func checkResponse(resp *http.Response) error {
	switch {
	case resp == nil:
		return errors.WithStack(ErrNoResponse)
	case resp.Status == 0:
		resp.Status = http.StatusOK
	case resp.Status < 100 || resp.Status > 599:
		return errors.Wrapf(ErrInvalidStatus, "status %d", resp.Status)
	}
	return nil
}

var notFound = http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
	return nil, http.NewError(http.StatusNotFound, "")
})

func methodNotAllowed(allowed []http.Method) http.Handler {
	return http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, http.MethodNotAllowed(allowed)
	})
}
