// Package store is the persistence collaborator used by request handlers.
// Records are schemaless field maps grouped by kind; every operation may
// block and may fail with ErrDataAccess.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/cyclone/config"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDataAccess marks every failure of the underlying storage.
	ErrDataAccess = errors.New("data access error")
	// ErrTimeout marks an operation that exceeded the store deadline.
	ErrTimeout = errors.New("store timeout")
	// ErrInvalidRecord is returned for records that cannot be stored.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is one stored entity.
type Record struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Fields  map[string]any `json:"fields"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// Filter selects records whose fields equal every given value. The keys
// "id", "kind", "created" and "updated" address the record metadata.
type Filter map[string]any

// Order sorts query results by one field.
type Order struct {
	Field string
	Desc  bool
}

// Store is the data-access interface.
type Store interface {
	Create(ctx context.Context, kind string, fields map[string]any) (*Record, error)
	// Get returns the first record matching filter, or ErrNotFound.
	Get(ctx context.Context, kind string, filter Filter) (*Record, error)
	// Query returns matching records sorted by order, at most limit of
	// them when limit > 0. Without an order records come back in creation
	// order.
	Query(ctx context.Context, kind string, filter Filter, order []Order, limit int) ([]*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, rec *Record) error
	Close() error
}

// Open creates the store selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case "", "memory":
		s = NewMemory()
	case "pebble":
		s, err = OpenPebble(cfg.Path)
	case "badger":
		s, err = OpenBadger(cfg.Path)
	default:
		return nil, errors.Newf("unknown store type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		s = WithTimeout(s, cfg.Timeout)
	}
	return s, nil
}

func dataAccess(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrDataAccess)
}
