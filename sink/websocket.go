package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seedtray/tail/pool"
)

const (
	wsIdleTimeout = 20 * time.Minute
	pingWait      = 10 * time.Second
)

// wsConn is a client connection whose incoming frames are read and dropped,
// so pongs and close frames are handled by the websocket library.
type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

func dialWebSocket(ctx context.Context, dialer *websocket.Dialer, url string) (*wsConn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &wsConn{conn: conn, done: make(chan struct{})}
	go c.discardReads()
	return c, nil
}

func (c *wsConn) discardReads() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWait))
}

func (c *wsConn) close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// WebSocket sends every chunk as one binary frame.
//
// A connection is pinged before each reuse. A failed send does not drop the
// connection: the next borrow's ping finds out whether it is still alive.
type WebSocket struct {
	url    string
	pool   *pool.Pool[*wsConn]
	logger *zap.Logger
}

func NewWebSocket(url string, logger *zap.Logger) (*WebSocket, error) {
	return newWebSocket(url, websocket.DefaultDialer, wsIdleTimeout, logger)
}

func newWebSocket(url string, dialer *websocket.Dialer, idle time.Duration, logger *zap.Logger) (*WebSocket, error) {
	connect := func(ctx context.Context) (*wsConn, error) {
		c, err := dialWebSocket(ctx, dialer, url)
		if err != nil {
			return nil, err
		}
		logger.Debug("connected to websocket", zap.String("url", url))
		return c, nil
	}

	p, err := pool.New(1, connect,
		pool.WithHealthCheck(func(_ context.Context, c *wsConn) error {
			return c.ping()
		}),
		pool.WithCloser(func(c *wsConn) error {
			logger.Debug("closing websocket connection", zap.String("url", url))
			return c.close()
		}),
		pool.WithIdleTimeout[*wsConn](idle),
	)
	if err != nil {
		return nil, err
	}
	return &WebSocket{url: url, pool: p, logger: logger}, nil
}

func (w *WebSocket) Deliver(ctx context.Context, chunk []byte) (int, error) {
	res, err := w.pool.Borrow(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: websocket %s: %w", ErrConnRefused, w.url, err)
	}
	defer res.Vacay()

	if err := res.Value().conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return 0, fmt.Errorf("websocket send: %w", err)
	}
	return len(chunk), nil
}

func (w *WebSocket) Close() error {
	return w.pool.Close()
}
