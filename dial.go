package redline

import (
	"context"
	"net"
	"time"

	"github.com/mediocregopher/redline/resp"
)

// Dial connects to addr and wraps the resulting connection with NewConn.
// Connection timeout is controlled through ctx. Keepalive is enabled on TCP
// connections with a slightly aggressive default.
func Dial(ctx context.Context, network, addr string, opts ...ConnOpt[*resp.Reply]) (*Conn[*resp.Reply], error) {
	nc, err := dialNetConn(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, opts...), nil
}

// DialWith is Dial with a caller-supplied reply construction strategy.
func DialWith[T any](ctx context.Context, network, addr string, b resp.Builder[T], opts ...ConnOpt[T]) (*Conn[T], error) {
	nc, err := dialNetConn(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewConnWith[T](nc, b, opts...), nil
}

func dialNetConn(ctx context.Context, network, addr string) (net.Conn, error) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	// If the conn is a net.TCPConn (or some wrapper for it) and so can have
	// keepalive enabled, do so.
	type keepaliveConn interface {
		SetKeepAlive(bool) error
		SetKeepAlivePeriod(time.Duration) error
	}

	if kaConn, ok := nc.(keepaliveConn); ok {
		if err = kaConn.SetKeepAlive(true); err != nil {
			nc.Close()
			return nil, err
		} else if err = kaConn.SetKeepAlivePeriod(10 * time.Second); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return nc, nil
}
