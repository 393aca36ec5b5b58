package router

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Specificity weights. Lower is more specific.
const (
	weightLiteral = 0
	weightTyped   = 1
	weightStr     = 2
	weightPath    = 3
)

// converter turns a raw path segment into a typed parameter value.
type converter struct {
	name   string
	weight int
	match  func(seg string) (any, bool)
	format func(v any) (string, bool)
}

var converters = map[string]*converter{
	"int":   {name: "int", weight: weightTyped, match: matchInt, format: formatInt},
	"float": {name: "float", weight: weightTyped, match: matchFloat, format: formatFloat},
	"uuid":  {name: "uuid", weight: weightTyped, match: matchUUID, format: formatUUID},
	"str":   {name: "str", weight: weightStr, match: matchStr, format: formatStr},
	"path":  {name: "path", weight: weightPath, match: matchStr, format: formatPath},
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func matchInt(seg string) (any, bool) {
	if !digits(strings.TrimPrefix(seg, "-")) {
		return nil, false
	}
	n, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

func matchFloat(seg string) (any, bool) {
	whole, frac, hasFrac := strings.Cut(strings.TrimPrefix(seg, "-"), ".")
	if !digits(whole) || (hasFrac && !digits(frac)) {
		return nil, false
	}
	f, err := strconv.ParseFloat(seg, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

func matchUUID(seg string) (any, bool) {
	if len(seg) != 36 {
		return nil, false
	}
	id, err := uuid.Parse(seg)
	if err != nil {
		return nil, false
	}
	return id, true
}

func matchStr(seg string) (any, bool) {
	return seg, seg != ""
}

func formatInt(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	}
	return "", false
}

func formatFloat(v any) (string, bool) {
	var s string
	switch f := v.(type) {
	case float64:
		s = strconv.FormatFloat(f, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(f), 'f', -1, 32)
	default:
		return formatInt(v)
	}
	_, ok := matchFloat(s)
	return s, ok
}

func formatUUID(v any) (string, bool) {
	switch id := v.(type) {
	case uuid.UUID:
		return id.String(), true
	case string:
		if _, ok := matchUUID(id); ok {
			return strings.ToLower(id), true
		}
	}
	return "", false
}

func formatStr(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return url.PathEscape(s), true
}

func formatPath(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/"), true
}
