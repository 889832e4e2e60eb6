package redline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/mediocregopher/redline/resp"
)

// size of the scratch buffer used for a single socket read.
const readChunkSize = 4096

var (
	// ErrClosed is returned by operations on a Conn which has been closed.
	ErrClosed = errors.New("redline: connection closed")

	// ErrPeerClosed is returned when a read on a connection believed open
	// reports end of stream; the server went away.
	ErrPeerClosed = errors.New("redline: peer closed connection")

	// ErrCallbackStarved is returned by ProcessCallbacks when a reply
	// completes with no queued callback to receive it. That means a command
	// was written to the server without going through Issue, or the queue and
	// the reply stream have drifted apart; either way the pipeline ordering
	// guarantee is gone and the connection should be torn down.
	ErrCallbackStarved = errors.New("redline: reply completed with no queued callback")

	// ErrBlockingRequired is returned when a blocking-only operation is
	// invoked on a non-blocking Conn.
	ErrBlockingRequired = errors.New("redline: operation requires a blocking connection")

	// ErrNonBlockingRequired is returned when a non-blocking-only operation
	// is invoked on a blocking Conn.
	ErrNonBlockingRequired = errors.New("redline: operation requires a non-blocking connection")
)

// Callback receives one decoded reply on a non-blocking Conn. Callbacks for a
// Conn are invoked strictly in the order their commands were issued. Any
// private data a callback needs should be captured in its closure.
//
// A Callback must not retain the reply's backing arrays past its return if
// the Conn's Builder reuses them (the default Builder does not).
type Callback[T any] func(c *Conn[T], reply T)

// Hook is invoked on non-reply connection events; see the With*Hook options.
type Hook[T any] func(c *Conn[T])

// Conn wraps a single network connection with an output buffer, an
// incremental reply reader and, in non-blocking mode, a FIFO of pending
// callbacks.
//
// A Conn has exactly one sequential owner: either one goroutine drives it
// end-to-end, or an external event loop calls into it on socket readiness.
// It performs no internal locking; concurrent use requires synchronization
// the caller provides. A *Pool is the usual way to get that.
type Conn[T any] struct {
	nc     net.Conn
	reader *resp.Reader[T]

	wbuf  []byte        // bytes pending transmission
	rbuf  []byte        // scratch for socket reads
	queue []Callback[T] // pending callbacks, issue order; non-blocking only

	// err records the most recent protocol, socket or usage failure. It is
	// cleared when the next dispatch starts.
	err error

	blocking  bool
	connected bool

	log zerolog.Logger

	onDisconnect Hook[T]
	onCommand    Hook[T]
	onFree       Hook[T]
}

// ConnOpt configures a Conn at construction.
type ConnOpt[T any] func(*Conn[T])

// WithNonBlocking puts the Conn in non-blocking mode: commands are issued
// with callbacks and the caller pumps WriteBuffered / ReadBuffered /
// ProcessCallbacks itself.
func WithNonBlocking[T any]() ConnOpt[T] {
	return func(c *Conn[T]) {
		c.blocking = false
	}
}

// WithLogger sets the logger used for connection lifecycle and failure
// events. The default discards everything.
func WithLogger[T any](l zerolog.Logger) ConnOpt[T] {
	return func(c *Conn[T]) {
		c.log = l
	}
}

// WithDisconnectHook registers h to run exactly once at the start of
// teardown, before any owned resource is released.
func WithDisconnectHook[T any](h Hook[T]) ConnOpt[T] {
	return func(c *Conn[T]) {
		c.onDisconnect = h
	}
}

// WithCommandHook registers h to run every time a command's bytes have been
// appended to the output buffer, before any write is attempted.
func WithCommandHook[T any](h Hook[T]) ConnOpt[T] {
	return func(c *Conn[T]) {
		c.onCommand = h
	}
}

// WithTeardownHook registers h to run during Close after the disconnect hook,
// still before any owned resource is released. It exists for collaborators
// whose lifetime is tied to the Conn's.
func WithTeardownHook[T any](h Hook[T]) ConnOpt[T] {
	return func(c *Conn[T]) {
		c.onFree = h
	}
}

// NewConn wraps an existing net.Conn, decoding replies into *resp.Reply. The
// Conn is blocking unless WithNonBlocking is given. The Read and Write
// methods of the original net.Conn should not be used after this call.
func NewConn(nc net.Conn, opts ...ConnOpt[*resp.Reply]) *Conn[*resp.Reply] {
	return NewConnWith[*resp.Reply](nc, resp.ReplyBuilder{}, opts...)
}

// NewConnWith is NewConn with a caller-supplied reply construction strategy,
// fixed for the life of the Conn.
func NewConnWith[T any](nc net.Conn, b resp.Builder[T], opts ...ConnOpt[T]) *Conn[T] {
	c := &Conn[T]{
		nc:        nc,
		reader:    resp.NewReaderWith[T](b),
		blocking:  true,
		connected: true,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NetConn returns the underlying network connection as-is. Read, Write and
// Close should not be called on it.
func (c *Conn[T]) NetConn() net.Conn {
	return c.nc
}

// Err returns the recorded failure from the most recent operation, if any.
// Failures inside ProcessCallbacks are recorded here rather than interrupting
// a callback already in flight.
func (c *Conn[T]) Err() error {
	return c.err
}

// PendingCallbacks returns how many issued commands are still waiting for
// their replies. Always zero on a blocking Conn.
func (c *Conn[T]) PendingCallbacks() int {
	return len(c.queue)
}

// Issue appends an already-encoded command to the output buffer. On a
// non-blocking Conn cb is enqueued in the same call, before any write is
// attempted, which is what pins callback order to issue order. A nil cb
// still occupies a queue slot; its reply is decoded and discarded.
//
// On a blocking Conn cb must be nil; the reply is retrieved with NextReply.
func (c *Conn[T]) Issue(cmd []byte, cb Callback[T]) error {
	if !c.connected {
		return ErrClosed
	}
	if c.blocking && cb != nil {
		return ErrNonBlockingRequired
	}
	c.err = nil
	c.wbuf = append(c.wbuf, cmd...)
	if !c.blocking {
		c.queue = append(c.queue, cb)
	}
	if c.onCommand != nil {
		c.onCommand(c)
	}
	return nil
}

// Do formats args as one command, dispatches it and suspends until its reply
// has been decoded. Blocking connections only.
func (c *Conn[T]) Do(ctx context.Context, args ...interface{}) (T, error) {
	var zero T
	if !c.blocking {
		return zero, ErrBlockingRequired
	}
	cmd, err := FormatCommand(args...)
	if err != nil {
		return zero, err
	}
	if err := c.Issue(cmd, nil); err != nil {
		return zero, err
	}
	return c.NextReply(ctx)
}

// DoAsync formats args as one command and issues it with cb registered to
// receive the reply. Nothing is written to the socket yet. Non-blocking
// connections only.
func (c *Conn[T]) DoAsync(cb Callback[T], args ...interface{}) error {
	if c.blocking {
		return ErrNonBlockingRequired
	}
	cmd, err := FormatCommand(args...)
	if err != nil {
		return err
	}
	return c.Issue(cmd, cb)
}

// WriteBuffered makes one attempt to move the output buffer to the socket.
// The socket may accept fewer bytes than offered; the remainder stays
// buffered for a later attempt. done reports whether the buffer is fully
// drained. On a non-blocking Conn a timeout from the socket is not an
// error, just "try again when writable".
func (c *Conn[T]) WriteBuffered() (done bool, err error) {
	if !c.connected {
		return false, ErrClosed
	}
	if len(c.wbuf) == 0 {
		return true, nil
	}
	n, err := c.nc.Write(c.wbuf)
	if n > 0 {
		c.wbuf = c.wbuf[:copy(c.wbuf, c.wbuf[n:])]
	}
	if err != nil {
		var netErr net.Error
		if !c.blocking && errors.As(err, &netErr) && netErr.Timeout() {
			return len(c.wbuf) == 0, nil
		}
		c.err = fmt.Errorf("redline: write: %w", err)
		c.log.Debug().Err(err).Msg("write failed")
		return false, c.err
	}
	return len(c.wbuf) == 0, nil
}

// ReadBuffered makes one attempt to pull available bytes from the socket
// and feed them to the reply reader. End of stream on a connection believed
// open means the peer closed it, which is a socket error rather than "no
// data yet". On a non-blocking Conn a timeout from the socket is not an
// error.
func (c *Conn[T]) ReadBuffered() error {
	if !c.connected {
		return ErrClosed
	}
	if c.rbuf == nil {
		c.rbuf = make([]byte, readChunkSize)
	}
	n, err := c.nc.Read(c.rbuf)
	if n > 0 {
		c.reader.Feed(c.rbuf[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.err = ErrPeerClosed
			c.log.Debug().Msg("peer closed connection")
			return c.err
		}
		var netErr net.Error
		if !c.blocking && errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		c.err = fmt.Errorf("redline: read: %w", err)
		c.log.Debug().Err(err).Msg("read failed")
		return c.err
	}
	return nil
}

// NextReply flushes any buffered output, then reads from the socket until
// one complete reply has been decoded and returns it. Blocking connections
// only; this is the one operation in the package that may suspend the
// calling goroutine, and it suspends only in the socket read. The context
// deadline, if any, is applied to the socket.
func (c *Conn[T]) NextReply(ctx context.Context) (T, error) {
	var zero T
	if !c.blocking {
		return zero, ErrBlockingRequired
	}
	if !c.connected {
		return zero, ErrClosed
	}
	if err := c.applyDeadline(ctx); err != nil {
		return zero, err
	}
	if err := c.flush(); err != nil {
		return zero, err
	}
	for {
		v, ok, err := c.reader.Next()
		if err != nil {
			c.err = err
			c.log.Error().Err(err).Msg("protocol error, connection is unusable")
			return zero, err
		}
		if ok {
			return v, nil
		}
		if err := c.ReadBuffered(); err != nil {
			// distinguishing a deadline on the socket from the context
			// expiring is a race not worth exposing; report the context form
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return zero, context.DeadlineExceeded
			}
			return zero, err
		}
	}
}

// ProcessCallbacks drains every reply already decodable from fed bytes,
// invoking the oldest pending callback for each, in issue order. It stops
// when the reader needs more bytes, returning nil, or when the callback
// queue underruns, which is a fatal usage error. Non-blocking connections
// only; never suspends, never reads the socket.
func (c *Conn[T]) ProcessCallbacks() error {
	if c.blocking {
		return ErrNonBlockingRequired
	}
	if !c.connected {
		return ErrClosed
	}
	for {
		v, ok, err := c.reader.Next()
		if err != nil {
			c.err = err
			c.log.Error().Err(err).Msg("protocol error, connection is unusable")
			return err
		}
		if !ok {
			return nil
		}
		if len(c.queue) == 0 {
			c.err = ErrCallbackStarved
			c.log.Error().Msg("reply completed with no queued callback")
			return c.err
		}
		cb := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if cb != nil {
			cb(c, v)
		}
	}
}

// flush loops until the output buffer is fully drained or the socket fails.
func (c *Conn[T]) flush() error {
	for {
		done, err := c.WriteBuffered()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (c *Conn[T]) applyDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return fmt.Errorf("redline: setting deadline to %v: %w", deadline, err)
	}
	return nil
}

// Close tears the connection down. The disconnect hook runs first, exactly
// once, then the teardown hook, then the output buffer, callback queue and
// reader state are all released together and the socket is closed.
// Callbacks still pending at that point are dropped, never invoked. A second
// Close returns ErrClosed.
func (c *Conn[T]) Close() error {
	if !c.connected {
		return ErrClosed
	}
	c.connected = false
	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
	if c.onFree != nil {
		c.onFree(c)
	}
	dropped := len(c.queue)
	c.wbuf = nil
	c.rbuf = nil
	c.queue = nil
	c.reader = nil
	c.log.Debug().Int("dropped_callbacks", dropped).Msg("connection closed")
	if err := c.nc.Close(); err != nil {
		return fmt.Errorf("redline: close: %w", err)
	}
	return nil
}
