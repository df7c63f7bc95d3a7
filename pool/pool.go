// Package pool holds reusable, lazily created connections to a delivery backend.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Borrow once Close has been called.
var ErrPoolClosed = errors.New("pool closed")

// ConnectFunc creates a new resource. It is called on the first borrow after
// the pool starts or after the previous resource was discarded.
type ConnectFunc[T any] func(context.Context) (T, error)

// CheckFunc validates an already connected resource before it is handed out.
type CheckFunc[T any] func(context.Context, T) error

// CloseFunc tears down a resource that is discarded or reclaimed.
type CloseFunc[T any] func(T) error

// Pool is a fixed size resource pool. Resources are connected lazily,
// health-checked on every borrow when a CheckFunc is set and closed after
// staying idle longer than the idle timeout.
//
// At most size resources are borrowed at any time; Borrow blocks until one
// is returned.
type Pool[T any] struct {
	closeCtx  context.Context
	closeFunc context.CancelFunc

	connect     ConnectFunc[T]
	check       CheckFunc[T]
	destroy     CloseFunc[T]
	idleTimeout time.Duration

	// hot holds connected resources, cold holds empty slots.
	// Together with borrowed resources they always account for size slots.
	hot  chan *Resource[T]
	cold chan *Resource[T]

	mu     sync.Mutex
	closed bool
	reaper sync.WaitGroup
}

// New returns a pool of the given size that connects resources with connect.
func New[T any](size int, connect ConnectFunc[T], opts ...Opt[T]) (*Pool[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	if connect == nil {
		return nil, errors.New("pool requires a connect function")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		closeCtx:  ctx,
		closeFunc: cancel,
		connect:   connect,
		destroy: func(_ T) error {
			return nil
		},
		hot:  make(chan *Resource[T], size),
		cold: make(chan *Resource[T], size),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			cancel()
			return nil, fmt.Errorf("cannot apply option to pool: %w", err)
		}
	}

	for i := 0; i < size; i++ {
		p.cold <- &Resource[T]{pool: p}
	}

	if p.idleTimeout > 0 {
		p.reaper.Add(1)
		go p.reap()
	}
	return p, nil
}

// Borrow withdraws a resource from the pool, connecting it if needed.
// The resource must be handed back exactly once with Vacay or Close.
//
// A connected resource is validated first; if validation fails the resource
// is discarded and the error is returned, so the next Borrow reconnects.
func (p *Pool[T]) Borrow(ctx context.Context) (*Resource[T], error) {
	// prefer connected resources
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeCtx.Done():
		return nil, ErrPoolClosed
	case res := <-p.hot:
		return p.validate(ctx, res)
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeCtx.Done():
		return nil, ErrPoolClosed
	case res := <-p.hot:
		return p.validate(ctx, res)
	case res := <-p.cold:
		val, err := p.connect(ctx)
		if err != nil {
			p.cold <- res
			return nil, err
		}
		res.value = &val
		return res, nil
	}
}

func (p *Pool[T]) validate(ctx context.Context, res *Resource[T]) (*Resource[T], error) {
	if p.check == nil {
		return res, nil
	}
	if err := p.check(ctx, res.Value()); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return res, nil
}

func (p *Pool[T]) reap() {
	defer p.reaper.Done()

	interval := p.idleTimeout / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCtx.Done():
			return
		case now := <-ticker.C:
			p.reclaimIdle(now)
		}
	}
}

// reclaimIdle closes connected resources that were not borrowed for longer
// than the idle timeout.
func (p *Pool[T]) reclaimIdle(now time.Time) {
	for i := len(p.hot); i > 0; i-- {
		select {
		case res := <-p.hot:
			if now.Sub(res.idleSince) >= p.idleTimeout {
				_ = res.Close()
				continue
			}
			p.hot <- res
		default:
			return
		}
	}
}

// Close closes every idle resource and stops the pool. Resources borrowed at
// this point are closed when they are handed back.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.closeFunc()
	p.mu.Unlock()

	p.reaper.Wait()

	var errs []error
	for {
		select {
		case res := <-p.hot:
			if err := res.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// Resource is a pooled value borrowed from a Pool.
type Resource[T any] struct {
	value     *T
	pool      *Pool[T]
	idleSince time.Time
}

// Value returns the underlying connection.
func (r *Resource[T]) Value() T {
	return *r.value
}

// Vacay returns the resource to the pool for reuse.
func (r *Resource[T]) Vacay() {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()

	if r.pool.closed {
		_ = r.discard()
		return
	}
	r.idleSince = time.Now()
	r.pool.hot <- r
}

// Close discards the resource. The pool connects a new one on the next borrow.
func (r *Resource[T]) Close() error {
	return r.discard()
}

func (r *Resource[T]) discard() error {
	var err error
	if r.value != nil {
		err = r.pool.destroy(*r.value)
		r.value = nil
	}
	r.pool.cold <- r
	return err
}
