package http

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// maxLineLength bounds chunk-size and trailer lines.
const maxLineLength = 4096

// Source is the buffered inbound byte stream of a connection.
type Source interface {
	// Buffered returns the unconsumed bytes. The slice is only valid until
	// the next Discard or Fill.
	Buffered() []byte
	// Discard consumes n buffered bytes.
	Discard(n int)
	// Fill blocks until more bytes are buffered, the stream ends (io.EOF),
	// the read deadline passes (ErrClientTimeout) or ctx is done.
	Fill(ctx context.Context) error
}

// BodySource supplies the bytes of one request body.
type BodySource interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// FixedBody reads a Content-Length delimited body from a Source.
type FixedBody struct {
	src  Source
	left int64
}

// NewFixedBody returns a body of exactly n bytes.
func NewFixedBody(src Source, n int64) *FixedBody {
	return &FixedBody{src: src, left: n}
}

// ReadContext implements BodySource.
func (b *FixedBody) ReadContext(ctx context.Context, p []byte) (int, error) {
	if b.left == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	for len(b.src.Buffered()) == 0 {
		if err := b.src.Fill(ctx); err != nil {
			return 0, truncated(err)
		}
	}
	buf := b.src.Buffered()
	if int64(len(buf)) > b.left {
		buf = buf[:b.left]
	}
	n := copy(p, buf)
	b.src.Discard(n)
	b.left -= int64(n)
	return n, nil
}

// Remaining returns the number of body bytes not yet read.
func (b *FixedBody) Remaining() int64 { return b.left }

// Done reports whether the whole body was consumed.
func (b *FixedBody) Done() bool { return b.left == 0 }

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataEnd
	chunkTrailer
	chunkDone
)

// ChunkedBody decodes a chunked transfer-coded body from a Source.
type ChunkedBody struct {
	src   Source
	max   int64
	total int64
	left  int64
	state chunkState
}

// NewChunkedBody returns a chunked body limited to max decoded bytes
// (0 means unlimited).
func NewChunkedBody(src Source, max int64) *ChunkedBody {
	return &ChunkedBody{src: src, max: max}
}

// ReadContext implements BodySource.
func (b *ChunkedBody) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 && b.state != chunkDone {
		return 0, nil
	}
	for {
		switch b.state {
		case chunkSize:
			line, err := b.readLine(ctx)
			if err != nil {
				return 0, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return 0, err
			}
			if size == 0 {
				b.state = chunkTrailer
				continue
			}
			if b.max > 0 && b.total+size > b.max {
				return 0, ErrBodyTooLarge
			}
			b.left = size
			b.state = chunkData

		case chunkData:
			for len(b.src.Buffered()) == 0 {
				if err := b.src.Fill(ctx); err != nil {
					return 0, truncated(err)
				}
			}
			buf := b.src.Buffered()
			if int64(len(buf)) > b.left {
				buf = buf[:b.left]
			}
			n := copy(p, buf)
			b.src.Discard(n)
			b.left -= int64(n)
			b.total += int64(n)
			if b.left == 0 {
				b.state = chunkDataEnd
			}
			return n, nil

		case chunkDataEnd:
			line, err := b.readLine(ctx)
			if err != nil {
				return 0, err
			}
			if line != "" {
				return 0, errors.Mark(errors.New("missing CRLF after chunk data"), ErrMalformedRequest)
			}
			b.state = chunkSize

		case chunkTrailer:
			line, err := b.readLine(ctx)
			if err != nil {
				return 0, err
			}
			if line == "" {
				b.state = chunkDone
			}

		case chunkDone:
			return 0, io.EOF
		}
	}
}

// Done reports whether the terminating chunk and trailer were consumed.
func (b *ChunkedBody) Done() bool { return b.state == chunkDone }

func (b *ChunkedBody) readLine(ctx context.Context) (string, error) {
	for {
		buf := b.src.Buffered()
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line := string(bytes.TrimSuffix(buf[:i], []byte{'\r'}))
			b.src.Discard(i + 1)
			return line, nil
		}
		if len(buf) >= maxLineLength {
			return "", errors.Mark(errors.New("chunk line too long"), ErrMalformedRequest)
		}
		if err := b.src.Fill(ctx); err != nil {
			return "", truncated(err)
		}
	}
}

func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return 0, errors.Mark(errors.New("empty chunk size"), ErrMalformedRequest)
	}
	if len(line) >= 16 {
		return 0, errors.Mark(errors.New("chunk length too large"), ErrMalformedRequest)
	}
	var n int64
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case '0' <= c && c <= '9':
			c -= '0'
		case 'a' <= c && c <= 'f':
			c = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			c = c - 'A' + 10
		default:
			return 0, errors.Mark(errors.Newf("invalid byte %q in chunk length", line[i]), ErrMalformedRequest)
		}
		n = n<<4 | int64(c)
	}
	return n, nil
}

// truncated maps an end of stream inside a body to a malformed request.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.Mark(io.ErrUnexpectedEOF, ErrMalformedRequest)
	}
	return err
}
