package sink

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case CompressionNone, CompressionGzip:
		return c, nil
	default:
		return "", fmt.Errorf("%w %q, expected %q or %q", ErrUnknownCompression, s, CompressionNone, CompressionGzip)
	}
}

// Compress wraps inner so that every delivered chunk is encoded with kind.
// With CompressionNone inner is returned as is.
func Compress(inner Sink, kind Compression) (Sink, error) {
	switch kind {
	case CompressionNone:
		return inner, nil
	case CompressionGzip:
		zw, err := gzip.NewWriterLevel(nil, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		return &gzipSink{inner: inner, zw: zw}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCompression, kind)
	}
}

// gzipSink compresses each chunk as a complete gzip stream, so any delivered
// message can be decompressed on its own.
type gzipSink struct {
	inner Sink

	mu  sync.Mutex
	zw  *gzip.Writer
	buf bytes.Buffer
}

// Deliver reports len(chunk) on success whatever the size of the compressed
// payload handed to the inner sink.
func (s *gzipSink) Deliver(ctx context.Context, chunk []byte) (int, error) {
	payload, err := s.encode(chunk)
	if err != nil {
		return 0, fmt.Errorf("could not compress chunk: %w", err)
	}
	if _, err := s.inner.Deliver(ctx, payload); err != nil {
		return 0, err
	}
	return len(chunk), nil
}

func (s *gzipSink) encode(chunk []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	s.zw.Reset(&s.buf)
	if _, err := s.zw.Write(chunk); err != nil {
		return nil, err
	}
	if err := s.zw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.buf.Bytes()...), nil
}

func (s *gzipSink) Close() error {
	return s.inner.Close()
}
