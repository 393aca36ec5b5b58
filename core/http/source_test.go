package http

import (
	"context"
	"io"
)

// memSource feeds pre-split fragments, one per Fill.
type memSource struct {
	data   []byte
	chunks [][]byte
}

func newMemSource(fragments ...string) *memSource {
	s := &memSource{}
	for _, f := range fragments {
		s.chunks = append(s.chunks, []byte(f))
	}
	return s
}

func (s *memSource) Buffered() []byte { return s.data }

func (s *memSource) Discard(n int) { s.data = s.data[n:] }

func (s *memSource) Fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.chunks) == 0 {
		return io.EOF
	}
	s.data = append(s.data, s.chunks[0]...)
	s.chunks = s.chunks[1:]
	return nil
}
