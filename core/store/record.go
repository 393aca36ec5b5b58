package store

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// encodeRecord serializes rec as a protobuf Struct.
func encodeRecord(rec *Record) ([]byte, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	s, err := structpb.NewStruct(map[string]any{
		"kind":    rec.Kind,
		"id":      rec.ID,
		"created": rec.Created.UTC().Format(time.RFC3339Nano),
		"updated": rec.Updated.UTC().Format(time.RFC3339Nano),
		"fields":  fields,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode record"), ErrInvalidRecord)
	}
	return proto.Marshal(s)
}

func decodeRecord(b []byte) (*Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, dataAccess(err, "decode record")
	}
	m := s.AsMap()
	rec := &Record{Fields: map[string]any{}}
	rec.Kind, _ = m["kind"].(string)
	rec.ID, _ = m["id"].(string)
	if f, ok := m["fields"].(map[string]any); ok {
		rec.Fields = f
	}
	var err error
	if rec.Created, err = parseTime(m["created"]); err != nil {
		return nil, err
	}
	if rec.Updated, err = parseTime(m["updated"]); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseTime(v any) (time.Time, error) {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, dataAccess(err, "decode record time")
	}
	return t, nil
}

// normalize converts v to the shape it takes after a round trip through
// storage, so filters written with Go ints match stored numbers.
func normalize(v any) any {
	if _, ok := v.(time.Time); ok {
		return v
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		return v
	}
	return pv.AsInterface()
}

// normalizeFields validates fields and returns their stored shape.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "record fields"), ErrInvalidRecord)
	}
	return s.AsMap(), nil
}
