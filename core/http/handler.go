package http

import (
	"context"
	"sort"
	"strings"
)

// Handler produces a Response for a Request, possibly suspending on ctx.
type Handler interface {
	Serve(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Per-method view interfaces. A view implements any subset of them.
type (
	Getter interface {
		Get(ctx context.Context, req *Request) (*Response, error)
	}
	Poster interface {
		Post(ctx context.Context, req *Request) (*Response, error)
	}
	Putter interface {
		Put(ctx context.Context, req *Request) (*Response, error)
	}
	Patcher interface {
		Patch(ctx context.Context, req *Request) (*Response, error)
	}
	Deleter interface {
		Delete(ctx context.Context, req *Request) (*Response, error)
	}
	Optioner interface {
		Options(ctx context.Context, req *Request) (*Response, error)
	}
)

// View dispatches to the method-specific handler of a class-style value.
type View struct {
	handlers map[Method]HandlerFunc
}

// AsView adapts v, which implements one or more of the per-method view
// interfaces, into a Handler. Requests for an unimplemented method get 405.
func AsView(v any) *View {
	view := &View{handlers: map[Method]HandlerFunc{}}
	if g, ok := v.(Getter); ok {
		view.handlers[MethodGet] = g.Get
	}
	if p, ok := v.(Poster); ok {
		view.handlers[MethodPost] = p.Post
	}
	if p, ok := v.(Putter); ok {
		view.handlers[MethodPut] = p.Put
	}
	if p, ok := v.(Patcher); ok {
		view.handlers[MethodPatch] = p.Patch
	}
	if d, ok := v.(Deleter); ok {
		view.handlers[MethodDelete] = d.Delete
	}
	if o, ok := v.(Optioner); ok {
		view.handlers[MethodOptions] = o.Options
	}
	return view
}

// Methods returns the implemented methods in sorted order.
func (v *View) Methods() []Method {
	out := make([]Method, 0, len(v.handlers))
	for m := range v.handlers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serve implements Handler.
func (v *View) Serve(ctx context.Context, req *Request) (*Response, error) {
	if h, ok := v.handlers[req.Method]; ok {
		return h(ctx, req)
	}
	return nil, MethodNotAllowed(v.Methods())
}

// MethodNotAllowed builds the 405 error carrying the Allow header.
func MethodNotAllowed(allowed []Method) *HTTPError {
	names := make([]string, len(allowed))
	for i, m := range allowed {
		names[i] = string(m)
	}
	return NewError(StatusMethodNotAllowed, "").WithHeader("Allow", strings.Join(names, ", "))
}

// RequireMethods wraps h so that only the listed methods reach it.
func RequireMethods(h Handler, methods ...Method) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		for _, m := range methods {
			if req.Method == m {
				return h.Serve(ctx, req)
			}
		}
		return nil, MethodNotAllowed(methods)
	})
}
