package sink

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seedtray/tail/pool"
)

const (
	defaultRedisHost = "localhost"
	defaultRedisPort = "6379"
	redisIdleTimeout = 5 * time.Minute
)

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Channel  string
	// IdleTimeout closes the pooled connection after it stays unused.
	IdleTimeout time.Duration
}

// ParseRedisURL reads redis://[user:password@]host[:port]/channel.
func ParseRedisURL(u *url.URL) (RedisConfig, error) {
	channel := strings.TrimPrefix(u.Path, "/")
	if channel == "" {
		return RedisConfig{}, fmt.Errorf("%w (got %q)", ErrMissingChannel, u.Redacted())
	}

	host := u.Hostname()
	if host == "" {
		host = defaultRedisHost
	}
	port := u.Port()
	if port == "" {
		port = defaultRedisPort
	}

	cfg := RedisConfig{
		Addr:        net.JoinHostPort(host, port),
		Channel:     channel,
		IdleTimeout: redisIdleTimeout,
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// Redis publishes every chunk as one message on a channel.
type Redis struct {
	channel string
	addr    string
	pool    *pool.Pool[*redis.Client]
	logger  *zap.Logger
}

func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	connect := func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			PoolSize: 1,
			// failed publishes are retried by the caller
			MaxRetries: -1,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Debug("connected to redis", zap.String("addr", cfg.Addr))
		return client, nil
	}

	p, err := pool.New(1, connect,
		pool.WithCloser(func(c *redis.Client) error {
			logger.Debug("closing redis connection", zap.String("addr", cfg.Addr))
			return c.Close()
		}),
		pool.WithIdleTimeout[*redis.Client](cfg.IdleTimeout),
	)
	if err != nil {
		return nil, err
	}

	return &Redis{
		channel: cfg.Channel,
		addr:    cfg.Addr,
		pool:    p,
		logger:  logger,
	}, nil
}

// Deliver publishes chunk. On a failed publish the connection is dropped and
// the next call reconnects.
func (r *Redis) Deliver(ctx context.Context, chunk []byte) (int, error) {
	res, err := r.pool.Borrow(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: redis %s: %w", ErrConnRefused, r.addr, err)
	}
	if err := res.Value().Publish(ctx, r.channel, chunk).Err(); err != nil {
		_ = res.Close()
		return 0, fmt.Errorf("%w: publish to redis channel %q: %w", ErrConnRefused, r.channel, err)
	}
	res.Vacay()
	return len(chunk), nil
}

func (r *Redis) Close() error {
	return r.pool.Close()
}
