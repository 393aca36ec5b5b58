package router

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/core/http"
)

// ErrInvalidPattern is returned for patterns that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid route pattern")

type segment struct {
	literal string
	name    string
	conv    *converter
}

func (s segment) weight() int {
	if s.conv == nil {
		return weightLiteral
	}
	return s.conv.weight
}

// pattern is a compiled route pattern.
type pattern struct {
	raw    string
	segs   []segment
	tail   bool // last segment uses the path converter
	params int
}

func invalid(p, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidPattern, "%q: "+format, append([]any{p}, args...)...)
}

func parsePattern(p string) (*pattern, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, invalid(p, "must start with /")
	}
	parts := strings.Split(p[1:], "/")
	pat := &pattern{raw: p, segs: make([]segment, 0, len(parts))}
	seen := map[string]bool{}

	for i, part := range parts {
		if !strings.HasPrefix(part, "<") {
			if strings.ContainsAny(part, "<>") {
				return nil, invalid(p, "stray angle bracket in %q", part)
			}
			lit, err := url.PathUnescape(part)
			if err != nil {
				return nil, invalid(p, "bad escape in %q", part)
			}
			pat.segs = append(pat.segs, segment{literal: lit})
			continue
		}

		if !strings.HasSuffix(part, ">") {
			return nil, invalid(p, "unterminated placeholder %q", part)
		}
		name, typ, ok := strings.Cut(part[1:len(part)-1], ":")
		if !ok {
			typ = "str"
		}
		if !validName(name) {
			return nil, invalid(p, "bad placeholder name %q", name)
		}
		if seen[name] {
			return nil, invalid(p, "duplicate placeholder %q", name)
		}
		seen[name] = true
		conv, ok := converters[typ]
		if !ok {
			return nil, invalid(p, "unknown converter %q", typ)
		}
		if conv.name == "path" {
			if i != len(parts)-1 {
				return nil, invalid(p, "path converter must be the final segment")
			}
			pat.tail = true
		}
		pat.segs = append(pat.segs, segment{name: name, conv: conv})
		pat.params++
	}
	return pat, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// shape is the structural identity of a pattern: placeholder names are
// dropped since they only affect extraction.
func (p *pattern) shape() string {
	var b strings.Builder
	for _, s := range p.segs {
		b.WriteByte('/')
		if s.conv == nil {
			b.WriteString(url.PathEscape(s.literal))
			continue
		}
		b.WriteString("<:")
		b.WriteString(s.conv.name)
		b.WriteByte('>')
	}
	return b.String()
}

// fixed returns the number of segments before a trailing path converter.
func (p *pattern) fixed() int {
	if p.tail {
		return len(p.segs) - 1
	}
	return len(p.segs)
}

// match tests decoded path segments against the pattern.
func (p *pattern) match(segs []string) (http.Params, bool) {
	if p.tail {
		if len(segs) < len(p.segs) {
			return nil, false
		}
	} else if len(segs) != len(p.segs) {
		return nil, false
	}

	var params http.Params
	for i, s := range p.segs {
		if s.conv == nil {
			if segs[i] != s.literal {
				return nil, false
			}
			continue
		}
		raw := segs[i]
		if s.conv.name == "path" {
			raw = strings.Join(segs[i:], "/")
		}
		v, ok := s.conv.match(raw)
		if !ok {
			return nil, false
		}
		if params == nil {
			params = make(http.Params, p.params)
		}
		params[s.name] = v
	}
	return params, true
}

// moreSpecific orders patterns for matching. Segments are compared left to
// right: a literal outranks a typed placeholder, which outranks str, which
// outranks path. A longer fixed prefix wins over a trailing path.
func moreSpecific(a, b *pattern) bool {
	n := min(len(a.segs), len(b.segs))
	for i := 0; i < n; i++ {
		wa, wb := a.segs[i].weight(), b.segs[i].weight()
		if wa != wb {
			return wa < wb
		}
	}
	if len(a.segs) != len(b.segs) {
		return len(a.segs) > len(b.segs)
	}
	return a.params < b.params
}
