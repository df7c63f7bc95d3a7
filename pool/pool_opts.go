package pool

import (
	"errors"
	"time"
)

type Opt[T any] func(p *Pool[T]) error

// WithHealthCheck validates connected resources on every borrow.
func WithHealthCheck[T any](fn CheckFunc[T]) Opt[T] {
	return func(p *Pool[T]) error {
		p.check = fn
		return nil
	}
}

func WithCloser[T any](fn CloseFunc[T]) Opt[T] {
	return func(p *Pool[T]) error {
		if fn == nil {
			return errors.New("nil close function")
		}
		p.destroy = fn
		return nil
	}
}

// WithIdleTimeout closes resources that stay unborrowed for d. Zero keeps
// them forever.
func WithIdleTimeout[T any](d time.Duration) Opt[T] {
	return func(p *Pool[T]) error {
		if d < 0 {
			return errors.New("negative idle timeout")
		}
		p.idleTimeout = d
		return nil
	}
}
