package sink

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

type opener func(u *url.URL, logger *zap.Logger) (Sink, error)

var openers = map[string]opener{
	"redis": openRedis,
	"ws":    openWebSocket,
	"wss":   openWebSocket,
}

// Open builds the sink selected by the scheme of rawURL and wraps it with
// compression. The console sink is never compressed.
func Open(rawURL string, compression Compression, logger *zap.Logger) (Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid output url %q: %w", rawURL, err)
	}

	if u.Scheme == "console" {
		return NewConsole(stdout), nil
	}

	open, ok := openers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w %q in %q", ErrUnknownScheme, u.Scheme, rawURL)
	}
	s, err := open(u, logger)
	if err != nil {
		return nil, err
	}

	wrapped, err := Compress(s, compression)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return wrapped, nil
}

func openRedis(u *url.URL, logger *zap.Logger) (Sink, error) {
	cfg, err := ParseRedisURL(u)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing to redis", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	return NewRedis(cfg, logger.Named("redis"))
}

func openWebSocket(u *url.URL, logger *zap.Logger) (Sink, error) {
	logger.Info("publishing to websocket", zap.String("url", u.Redacted()))
	return NewWebSocket(u.String(), logger.Named("websocket"))
}
