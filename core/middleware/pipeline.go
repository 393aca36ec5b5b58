package middleware

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/core/http"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context, req *http.Request) (*http.Response, error)

// Middleware wraps the remainder of the chain. It may act before and after
// calling next, or return without calling next to short-circuit.
type Middleware func(ctx context.Context, req *http.Request, next Next) (*http.Response, error)

// Pipeline is an ordered middleware chain. The first middleware added is
// the outermost: it sees the request first and the response last.
type Pipeline struct {
	handlers []Middleware
	compiled bool
}

// NewPipeline creates a pipeline from mws in order.
func NewPipeline(mws ...Middleware) *Pipeline {
	p := &Pipeline{handlers: make([]Middleware, 0, 16)}
	return p.Use(mws...)
}

// Use appends middleware. It panics once the pipeline was compiled, since
// the order is fixed for the lifetime of the application.
func (p *Pipeline) Use(mws ...Middleware) *Pipeline {
	if p.compiled {
		panic("middleware: Use after Compile")
	}
	p.handlers = append(p.handlers, mws...)
	return p
}

// Len returns the number of middleware.
func (p *Pipeline) Len() int { return len(p.handlers) }

// Compile freezes the chain and returns a copy of it sized exactly.
func (p *Pipeline) Compile() *Pipeline {
	if p.compiled {
		return p
	}
	compiled := make([]Middleware, len(p.handlers))
	copy(compiled, p.handlers)
	p.handlers = compiled
	p.compiled = true
	return p
}

// Then composes the chain around final. Each middleware is bound once, so
// the returned Next can be shared by concurrent requests.
func (p *Pipeline) Then(final Next) Next {
	next := final
	for i := len(p.handlers) - 1; i >= 0; i-- {
		next = bind(p.handlers[i], next)
	}
	return next
}

// Execute runs req through the chain ending in h.
func (p *Pipeline) Execute(ctx context.Context, req *http.Request, h http.Handler) (*http.Response, error) {
	return p.Then(h.Serve)(ctx, req)
}

func bind(mw Middleware, next Next) Next {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return mw(ctx, req, next)
	}
}

// Chain is a convenience for wrapping a single handler, used for
// route and group level middleware.
func Chain(mws ...Middleware) *Pipeline {
	return NewPipeline(mws...)
}

// Wrap returns h wrapped by mws, outermost first.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	if len(mws) == 0 {
		return h
	}
	return http.HandlerFunc(Chain(mws...).Then(h.Serve))
}

// PanicError carries a value recovered from a panicking link.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovery turns panics raised anywhere inside next into errors. It is the
// outermost boundary of every chain, so a fault never escapes the pipeline.
func Recovery(next Next) Next {
	return func(ctx context.Context, req *http.Request) (resp *http.Response, err error) {
		defer func() {
			if v := recover(); v != nil {
				resp = nil
				err = errors.WithStack(&PanicError{Value: v})
			}
		}()
		return next(ctx, req)
	}
}
