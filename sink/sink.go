// Package sink delivers chunks of tailed bytes to an output: the console, a
// redis publish channel or a websocket endpoint.
package sink

import (
	"context"
	"errors"
	"io"
	"os"
)

var (
	ErrUnknownScheme      = errors.New("unknown output scheme")
	ErrMissingChannel     = errors.New("missing redis channel: the output url path must name the channel")
	ErrUnknownCompression = errors.New("unknown compression")
	// ErrConnRefused wraps every failure to reach a network backend.
	ErrConnRefused = errors.New("connection refused")
)

// Sink accepts chunks of bytes. A nil error means the whole chunk was
// consumed and n equals len(chunk); partial deliveries are never reported.
type Sink interface {
	Deliver(ctx context.Context, chunk []byte) (n int, err error)
	Close() error
}

// stdout is where the console sink writes to.
var stdout io.Writer = os.Stdout

// Console writes chunks verbatim.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Deliver(_ context.Context, chunk []byte) (int, error) {
	return c.out.Write(chunk)
}

func (c *Console) Close() error {
	return nil
}
