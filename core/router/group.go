package router

import (
	"strings"

	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/middleware"
)

// Group registers routes under a common prefix and middleware. Grouping
// only composes patterns and handlers at registration time.
type Group struct {
	r      *Router
	prefix string
	mws    []middleware.Middleware
}

// Option configures a single route.
type Option func(*routeOptions)

type routeOptions struct {
	name string
	mws  []middleware.Middleware
}

// Name names the route for reverse URL building.
func Name(name string) Option {
	return func(o *routeOptions) { o.name = name }
}

// With adds middleware that runs only for this route, inside any group
// middleware.
func With(mws ...middleware.Middleware) Option {
	return func(o *routeOptions) { o.mws = append(o.mws, mws...) }
}

// Group creates a nested group. Its middleware runs inside the parent's.
func (g *Group) Group(prefix string, mws ...middleware.Middleware) *Group {
	return &Group{
		r:      g.r,
		prefix: join(g.prefix, prefix),
		mws:    append(append([]middleware.Middleware(nil), g.mws...), mws...),
	}
}

// Use adds middleware to routes registered on g afterwards.
func (g *Group) Use(mws ...middleware.Middleware) {
	g.mws = append(g.mws, mws...)
}

// Handle registers h for methods on pattern.
func (g *Group) Handle(methods []http.Method, pattern string, h http.Handler, opts ...Option) error {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}
	mws := append(append([]middleware.Middleware(nil), g.mws...), o.mws...)
	return g.r.add(methods, join(g.prefix, pattern), middleware.Wrap(h, mws...), o.name)
}

// View registers a class-style value for every method it implements.
func (g *Group) View(pattern string, v any, opts ...Option) error {
	view := http.AsView(v)
	return g.Handle(view.Methods(), pattern, view, opts...)
}

// Include copies every route of other under prefix, keeping names.
func (g *Group) Include(prefix string, other *Router) error {
	sub := g.Group(prefix)
	for _, route := range other.routes {
		var opts []Option
		if route.Name != "" {
			opts = append(opts, Name(route.Name))
		}
		if err := sub.Handle(route.Methods, route.Pattern, route.Handler, opts...); err != nil {
			return err
		}
	}
	return nil
}

// GET registers h for GET requests on pattern.
func (g *Group) GET(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodGet}, pattern, h, opts...)
}

// HEAD registers h for HEAD requests on pattern.
func (g *Group) HEAD(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodHead}, pattern, h, opts...)
}

// POST registers h for POST requests on pattern.
func (g *Group) POST(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodPost}, pattern, h, opts...)
}

// PUT registers h for PUT requests on pattern.
func (g *Group) PUT(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodPut}, pattern, h, opts...)
}

// PATCH registers h for PATCH requests on pattern.
func (g *Group) PATCH(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodPatch}, pattern, h, opts...)
}

// DELETE registers h for DELETE requests on pattern.
func (g *Group) DELETE(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodDelete}, pattern, h, opts...)
}

// OPTIONS registers h for OPTIONS requests on pattern.
func (g *Group) OPTIONS(pattern string, h http.HandlerFunc, opts ...Option) error {
	return g.Handle([]http.Method{http.MethodOptions}, pattern, h, opts...)
}

// Router methods register on the root group.

// Group creates a group under prefix.
func (r *Router) Group(prefix string, mws ...middleware.Middleware) *Group {
	return r.root.Group(prefix, mws...)
}

// Use adds middleware to routes registered on the root afterwards.
func (r *Router) Use(mws ...middleware.Middleware) { r.root.Use(mws...) }

// Handle registers h for methods on pattern.
func (r *Router) Handle(methods []http.Method, pattern string, h http.Handler, opts ...Option) error {
	return r.root.Handle(methods, pattern, h, opts...)
}

// View registers a class-style value for every method it implements.
func (r *Router) View(pattern string, v any, opts ...Option) error {
	return r.root.View(pattern, v, opts...)
}

// Include copies every route of other under prefix.
func (r *Router) Include(prefix string, other *Router) error {
	return r.root.Include(prefix, other)
}

// GET registers h for GET requests on pattern.
func (r *Router) GET(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.GET(pattern, h, opts...)
}

// HEAD registers h for HEAD requests on pattern.
func (r *Router) HEAD(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.HEAD(pattern, h, opts...)
}

// POST registers h for POST requests on pattern.
func (r *Router) POST(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.POST(pattern, h, opts...)
}

// PUT registers h for PUT requests on pattern.
func (r *Router) PUT(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.PUT(pattern, h, opts...)
}

// PATCH registers h for PATCH requests on pattern.
func (r *Router) PATCH(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.PATCH(pattern, h, opts...)
}

// DELETE registers h for DELETE requests on pattern.
func (r *Router) DELETE(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.DELETE(pattern, h, opts...)
}

// OPTIONS registers h for OPTIONS requests on pattern.
func (r *Router) OPTIONS(pattern string, h http.HandlerFunc, opts ...Option) error {
	return r.root.OPTIONS(pattern, h, opts...)
}

func join(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	return strings.TrimSuffix(prefix, "/") + pattern
}
