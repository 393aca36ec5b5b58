package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// errKeyMissing is returned by backends for absent keys.
var errKeyMissing = errors.New("key missing")

// kvBackend is an ordered key-value engine.
type kvBackend interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Scan calls fn for every value under prefix in key order.
	Scan(prefix []byte, fn func(value []byte) error) error
	Close() error
}

// kvStore implements Store on top of a kvBackend. Keys are kind, a NUL
// separator and a time-ordered UUID, so key order is creation order.
type kvStore struct {
	kv  kvBackend
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func newKVStore(kv kvBackend) *kvStore {
	return &kvStore{kv: kv, now: time.Now}
}

func recordKey(kind, id string) []byte {
	return []byte(kind + "\x00" + id)
}

func kindPrefix(kind string) []byte {
	return []byte(kind + "\x00")
}

func checkKind(kind string) error {
	if kind == "" || strings.IndexByte(kind, 0) >= 0 {
		return errors.Mark(errors.Newf("invalid kind %q", kind), ErrInvalidRecord)
	}
	return nil
}

func (s *kvStore) Create(ctx context.Context, kind string, fields map[string]any) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	norm, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, dataAccess(err, "generate id")
	}
	now := s.now().UTC()
	rec := &Record{Kind: kind, ID: id.String(), Fields: norm, Created: now, Updated: now}
	if err := s.put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *kvStore) Get(ctx context.Context, kind string, filter Filter) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if id, ok := filter["id"].(string); ok && len(filter) == 1 {
		b, err := s.kv.Get(recordKey(kind, id))
		if errors.Is(err, errKeyMissing) {
			return nil, errors.Wrapf(ErrNotFound, "%s %s", kind, id)
		}
		if err != nil {
			return nil, dataAccess(err, "get")
		}
		return decodeRecord(b)
	}
	recs, err := s.Query(ctx, kind, filter, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s", kind)
	}
	return recs[0], nil
}

func (s *kvStore) Query(ctx context.Context, kind string, filter Filter, order []Order, limit int) ([]*Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	want := make(map[string]any, len(filter))
	for k, v := range filter {
		want[k] = normalize(v)
	}

	// Without an order the scan is already sorted, so the limit can stop it.
	early := len(order) == 0 && limit > 0
	stop := errors.New("stop")
	var out []*Record
	err := s.kv.Scan(kindPrefix(kind), func(value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decodeRecord(value)
		if err != nil {
			return err
		}
		if !matches(rec, want) {
			return nil
		}
		out = append(out, rec)
		if early && len(out) == limit {
			return stop
		}
		return nil
	})
	switch {
	case errors.Is(err, stop):
	case err != nil && ctx.Err() != nil:
		return nil, err
	case errors.Is(err, ErrDataAccess):
		return nil, err
	case err != nil:
		return nil, dataAccess(err, "query")
	}

	if len(order) > 0 {
		slices.SortStableFunc(out, func(a, b *Record) int {
			for _, o := range order {
				c := compareValues(fieldValue(a, o.Field), fieldValue(b, o.Field))
				if o.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *kvStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return errors.Mark(errors.New("save: record has no id"), ErrInvalidRecord)
	}
	if err := checkKind(rec.Kind); err != nil {
		return err
	}
	norm, err := normalizeFields(rec.Fields)
	if err != nil {
		return err
	}
	rec.Fields = norm
	rec.Updated = s.now().UTC()
	if rec.Created.IsZero() {
		rec.Created = rec.Updated
	}
	return s.put(rec)
}

func (s *kvStore) Delete(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return errors.Mark(errors.New("delete: record has no id"), ErrInvalidRecord)
	}
	key := recordKey(rec.Kind, rec.ID)
	if _, err := s.kv.Get(key); err != nil {
		if errors.Is(err, errKeyMissing) {
			return errors.Wrapf(ErrNotFound, "%s %s", rec.Kind, rec.ID)
		}
		return dataAccess(err, "delete")
	}
	if err := s.kv.Delete(key); err != nil {
		return dataAccess(err, "delete")
	}
	return nil
}

func (s *kvStore) Close() error {
	s.closeOnce.Do(func() {
		if err := s.kv.Close(); err != nil {
			s.closeErr = dataAccess(err, "close")
		}
	})
	return s.closeErr
}

func (s *kvStore) put(rec *Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Set(recordKey(rec.Kind, rec.ID), b); err != nil {
		return dataAccess(err, "put")
	}
	return nil
}

func fieldValue(rec *Record, name string) any {
	switch name {
	case "id":
		return rec.ID
	case "kind":
		return rec.Kind
	case "created":
		return rec.Created
	case "updated":
		return rec.Updated
	}
	return rec.Fields[name]
}

func matches(rec *Record, want map[string]any) bool {
	for k, v := range want {
		if compareValues(fieldValue(rec, k), v) != 0 {
			return false
		}
	}
	return true
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 5
}

// compareValues orders stored values: nil, then bools, numbers, strings,
// times, and anything else by its printed form.
func compareValues(a, b any) int {
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
