package http

import (
	"github.com/google/uuid"
)

// Params holds route parameters extracted by the router, already converted
// to their typed values (int64, float64, string or uuid.UUID).
type Params map[string]any

// Int returns the int64 parameter name.
func (p Params) Int(name string) (int64, bool) {
	v, ok := p[name].(int64)
	return v, ok
}

// Float returns the float64 parameter name.
func (p Params) Float(name string) (float64, bool) {
	v, ok := p[name].(float64)
	return v, ok
}

// String returns the string parameter name. Both str and path
// converters produce strings.
func (p Params) String(name string) (string, bool) {
	v, ok := p[name].(string)
	return v, ok
}

// UUID returns the uuid parameter name.
func (p Params) UUID(name string) (uuid.UUID, bool) {
	v, ok := p[name].(uuid.UUID)
	return v, ok
}
