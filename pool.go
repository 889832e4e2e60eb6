package redline

import (
	"context"
	"errors"
	"fmt"

	pool "github.com/jolestar/go-commons-pool/v2"

	"github.com/mediocregopher/redline/resp"
)

// Pool maintains ready blocking connections to a single address. Unlike a
// bare Conn it is safe for concurrent use: each dispatch borrows a connection
// exclusively for its duration.
//
// The pool does not reconnect on its own; a connection that fails is simply
// destroyed, and the next borrow dials a fresh one.
type Pool struct {
	network, addr string
	p             *pool.ObjectPool
}

type connFactory struct {
	network, addr string
	opts          []ConnOpt[*resp.Reply]
}

var _ pool.PooledObjectFactory = (*connFactory)(nil)

func (f *connFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	c, err := Dial(ctx, f.network, f.addr, f.opts...)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(c), nil
}

func (f *connFactory) DestroyObject(_ context.Context, obj *pool.PooledObject) error {
	c, ok := obj.Object.(*Conn[*resp.Reply])
	if !ok {
		return errors.New("redline: pooled object is not a connection")
	}
	if err := c.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (f *connFactory) ValidateObject(ctx context.Context, obj *pool.PooledObject) bool {
	c, ok := obj.Object.(*Conn[*resp.Reply])
	if !ok {
		return false
	}
	r, err := c.Do(ctx, "PING")
	return err == nil && r.Type == resp.TypeStatus
}

func (f *connFactory) ActivateObject(context.Context, *pool.PooledObject) error {
	return nil
}

func (f *connFactory) PassivateObject(context.Context, *pool.PooledObject) error {
	return nil
}

// NewPool creates a pool of up to size blocking connections to addr.
// Connections are dialed lazily. opts are applied to every connection;
// WithNonBlocking must not be among them.
func NewPool(ctx context.Context, network, addr string, size int, opts ...ConnOpt[*resp.Reply]) *Pool {
	cfg := pool.NewDefaultPoolConfig()
	cfg.MaxTotal = size
	cfg.MaxIdle = size
	cfg.TestOnBorrow = true
	return &Pool{
		network: network,
		addr:    addr,
		p: pool.NewObjectPool(ctx, &connFactory{
			network: network,
			addr:    addr,
			opts:    opts,
		}, cfg),
	}
}

// Get borrows a connection from the pool. It must be handed back with Put, or
// with Discard if it failed.
func (p *Pool) Get(ctx context.Context) (*Conn[*resp.Reply], error) {
	obj, err := p.p.BorrowObject(ctx)
	if err != nil {
		return nil, fmt.Errorf("redline: borrowing connection: %w", err)
	}
	c, ok := obj.(*Conn[*resp.Reply])
	if !ok {
		return nil, errors.New("redline: pooled object is not a connection")
	}
	return c, nil
}

// Put returns a healthy borrowed connection to the pool.
func (p *Pool) Put(ctx context.Context, c *Conn[*resp.Reply]) error {
	return p.p.ReturnObject(ctx, c)
}

// Discard removes a failed borrowed connection from the pool, closing it.
func (p *Pool) Discard(ctx context.Context, c *Conn[*resp.Reply]) error {
	return p.p.InvalidateObject(ctx, c)
}

// Do borrows a connection, dispatches one command on it and returns the
// decoded reply. Socket and protocol failures destroy the connection;
// server error replies do not, they come back as values.
func (p *Pool) Do(ctx context.Context, args ...interface{}) (*resp.Reply, error) {
	c, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Do(ctx, args...)
	if err != nil {
		_ = p.Discard(ctx, c)
		return nil, err
	}
	if err := p.Put(ctx, c); err != nil {
		return nil, err
	}
	return r, nil
}

// Addr returns the address the pool connects to.
func (p *Pool) Addr() string {
	return p.addr
}

// Close closes the pool and every idle connection in it. Borrowed
// connections are destroyed as they are returned.
func (p *Pool) Close(ctx context.Context) {
	p.p.Close(ctx)
}
