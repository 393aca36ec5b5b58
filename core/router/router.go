package router

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/core/http"
)

var (
	// ErrDuplicateRoute is returned when a method is registered twice for
	// structurally identical patterns.
	ErrDuplicateRoute = errors.New("duplicate route")
	// ErrRouterBuilt is returned when routes are added after Build.
	ErrRouterBuilt = errors.New("router already built")
)

// Route binds a pattern and method set to a handler.
type Route struct {
	Name    string
	Pattern string
	Methods []http.Method
	Handler http.Handler

	pat   *pattern
	order int
}

// Allows reports whether the route accepts method.
func (r *Route) Allows(m http.Method) bool {
	for _, x := range r.Methods {
		if x == m {
			return true
		}
	}
	return false
}

// Result is the outcome of a match.
type Result struct {
	Route  *Route
	Params http.Params
	// Allowed lists the methods registered for the matched shape when the
	// request method was not among them.
	Allowed []http.Method
}

// Status returns 200, 404 or 405.
func (r Result) Status() int {
	switch {
	case r.Route != nil:
		return http.StatusOK
	case len(r.Allowed) > 0:
		return http.StatusMethodNotAllowed
	}
	return http.StatusNotFound
}

// Router matches (method, path) pairs against compiled patterns. Routes are
// grouped by segment count; patterns ending in a path converter are kept
// apart since they match any length beyond their fixed prefix. Once built,
// a Router is read-only and safe for concurrent use.
type Router struct {
	root *Group

	routes []*Route
	exact  map[int][]*Route
	tails  []*Route
	names  map[string]*Route
	built  bool
}

// New creates an empty router.
func New() *Router {
	r := &Router{
		exact: make(map[int][]*Route),
		names: make(map[string]*Route),
	}
	r.root = &Group{r: r}
	return r
}

// Build freezes the route table.
func (r *Router) Build() *Router {
	r.built = true
	return r
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []*Route {
	return append([]*Route(nil), r.routes...)
}

func (r *Router) add(methods []http.Method, raw string, h http.Handler, name string) error {
	if r.built {
		return ErrRouterBuilt
	}
	if len(methods) == 0 {
		return errors.Newf("route %q: no methods", raw)
	}
	pat, err := parsePattern(raw)
	if err != nil {
		return err
	}

	shape := pat.shape()
	for _, existing := range r.routes {
		if existing.pat.shape() != shape {
			continue
		}
		for _, m := range methods {
			if existing.Allows(m) {
				return errors.Wrapf(ErrDuplicateRoute, "%s %s conflicts with %s", m, raw, existing.Pattern)
			}
		}
	}
	if name != "" {
		if _, ok := r.names[name]; ok {
			return errors.Wrapf(ErrDuplicateRoute, "route name %q", name)
		}
	}

	route := &Route{
		Name:    name,
		Pattern: raw,
		Methods: append([]http.Method(nil), methods...),
		Handler: h,
		pat:     pat,
		order:   len(r.routes),
	}
	r.routes = append(r.routes, route)
	if name != "" {
		r.names[name] = route
	}
	if pat.tail {
		r.tails = insertSorted(r.tails, route)
	} else {
		n := len(pat.segs)
		r.exact[n] = insertSorted(r.exact[n], route)
	}
	return nil
}

// before orders routes by specificity, then registration order.
func before(a, b *Route) bool {
	if moreSpecific(a.pat, b.pat) {
		return true
	}
	if moreSpecific(b.pat, a.pat) {
		return false
	}
	return a.order < b.order
}

func insertSorted(list []*Route, route *Route) []*Route {
	i := sort.Search(len(list), func(i int) bool { return before(route, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = route
	return list
}

// splitPath decodes each segment of an escaped path separately, so an
// escaped slash never creates a segment boundary.
func splitPath(path string) ([]string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		d, err := url.PathUnescape(p)
		if err != nil {
			return nil, false
		}
		parts[i] = d
	}
	return parts, true
}

// Match resolves method and path. The first candidate, in specificity
// order, that matches both wins. If only other methods match, Allowed holds
// their sorted union.
func (r *Router) Match(method http.Method, path string) Result {
	segs, ok := splitPath(path)
	if !ok {
		return Result{}
	}

	var allowed map[http.Method]bool
	try := func(route *Route) (Result, bool) {
		params, ok := route.pat.match(segs)
		if !ok {
			return Result{}, false
		}
		if route.Allows(method) {
			return Result{Route: route, Params: params}, true
		}
		if allowed == nil {
			allowed = map[http.Method]bool{}
		}
		for _, m := range route.Methods {
			allowed[m] = true
		}
		return Result{}, false
	}

	// Merge the exact-length list with eligible tail routes, both already
	// in specificity order.
	exact := r.exact[len(segs)]
	tails := r.tails
	for len(exact) > 0 || len(tails) > 0 {
		var next *Route
		switch {
		case len(tails) == 0:
			next, exact = exact[0], exact[1:]
		case len(exact) == 0:
			next, tails = tails[0], tails[1:]
		case before(tails[0], exact[0]):
			next, tails = tails[0], tails[1:]
		default:
			next, exact = exact[0], exact[1:]
		}
		if next.pat.tail && next.pat.fixed() >= len(segs) {
			continue
		}
		if res, ok := try(next); ok {
			return res
		}
	}

	if len(allowed) == 0 {
		return Result{}
	}
	res := Result{Allowed: make([]http.Method, 0, len(allowed))}
	for m := range allowed {
		res.Allowed = append(res.Allowed, m)
	}
	sort.Slice(res.Allowed, func(i, j int) bool { return res.Allowed[i] < res.Allowed[j] })
	return res
}

// Lookup returns the named route.
func (r *Router) Lookup(name string) (*Route, bool) {
	route, ok := r.names[name]
	return route, ok
}

// URL builds the path of the named route from params.
func (r *Router) URL(name string, params map[string]any) (string, error) {
	route, ok := r.names[name]
	if !ok {
		return "", errors.Newf("no route named %q", name)
	}
	var b strings.Builder
	for _, s := range route.pat.segs {
		b.WriteByte('/')
		if s.conv == nil {
			b.WriteString(url.PathEscape(s.literal))
			continue
		}
		v, ok := params[s.name]
		if !ok {
			return "", errors.Newf("route %q: missing parameter %q", name, s.name)
		}
		seg, ok := s.conv.format(v)
		if !ok {
			return "", errors.Newf("route %q: parameter %q: %v is not a valid %s", name, s.name, v, s.conv.name)
		}
		b.WriteString(seg)
	}
	return b.String(), nil
}
