package redline

import (
	"bytes"
	"context"
	"io"
	"net"
	. "testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediocregopher/redline/resp"
)

// scriptConn is an in-memory net.Conn standing in for the server side:
// whatever the test stuffs into rbuf is what the "server" sent, and wbuf
// collects what the client wrote. maxWrite simulates a socket accepting
// fewer bytes than offered.
type scriptConn struct {
	net.Conn // always nil; embedded for the methods we don't implement

	rbuf     bytes.Buffer
	wbuf     bytes.Buffer
	readErr  error
	maxWrite int
	closed   bool
}

func (s *scriptConn) Read(p []byte) (int, error) {
	if s.rbuf.Len() == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, io.EOF
	}
	return s.rbuf.Read(p)
}

func (s *scriptConn) Write(p []byte) (int, error) {
	if s.maxWrite > 0 && len(p) > s.maxWrite {
		p = p[:s.maxWrite]
	}
	return s.wbuf.Write(p)
}

func (s *scriptConn) Close() error {
	s.closed = true
	return nil
}

func (s *scriptConn) SetDeadline(time.Time) error { return nil }

func testCtx(t *T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnBlockingDo(t *T) {
	sc := new(scriptConn)
	sc.rbuf.WriteString("+PONG\r\n")
	c := NewConn(sc)

	r, err := c.Do(testCtx(t), "PING")
	require.Nil(t, err)
	assert.Equal(t, resp.TypeStatus, r.Type)
	assert.Equal(t, []byte("PONG"), r.Str)
	assert.Equal(t, "*1\r\n$4\r\nPING\r\n", sc.wbuf.String())
}

func TestConnBlockingDoFormatsArgs(t *T) {
	sc := new(scriptConn)
	sc.rbuf.WriteString(":1\r\n")
	c := NewConn(sc)

	_, err := c.Do(testCtx(t), "SET", "foo", 42)
	require.Nil(t, err)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$2\r\n42\r\n", sc.wbuf.String())
}

// three commands issued before any reply bytes arrive, all three replies fed
// in one chunk: callbacks fire in issue order with the matching values.
func TestConnPipelineOrder(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	var got []string
	cb := func(tag string) Callback[*resp.Reply] {
		return func(_ *Conn[*resp.Reply], r *resp.Reply) {
			got = append(got, tag+"="+r.String())
		}
	}

	require.Nil(t, c.DoAsync(cb("a"), "GET", "a"))
	require.Nil(t, c.DoAsync(cb("b"), "GET", "b"))
	require.Nil(t, c.DoAsync(cb("c"), "GET", "c"))
	assert.Equal(t, 3, c.PendingCallbacks())

	for {
		done, err := c.WriteBuffered()
		require.Nil(t, err)
		if done {
			break
		}
	}
	assert.Equal(t,
		"*2\r\n$3\r\nGET\r\n$1\r\na\r\n*2\r\n$3\r\nGET\r\n$1\r\nb\r\n*2\r\n$3\r\nGET\r\n$1\r\nc\r\n",
		sc.wbuf.String())

	sc.rbuf.WriteString("$1\r\nA\r\n:2\r\n+THREE\r\n")
	require.Nil(t, c.ReadBuffered())
	require.Nil(t, c.ProcessCallbacks())

	assert.Equal(t, []string{`a="A"`, `b=2`, `c=+THREE`}, got)
	assert.Zero(t, c.PendingCallbacks())
}

// replies split across reads still pair up with callbacks in order.
func TestConnPipelineChunkedReplies(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	var got []int64
	cb := func(_ *Conn[*resp.Reply], r *resp.Reply) { got = append(got, r.Int) }
	require.Nil(t, c.DoAsync(cb, "INCR", "x"))
	require.Nil(t, c.DoAsync(cb, "INCR", "x"))

	_, err := c.WriteBuffered()
	require.Nil(t, err)

	whole := ":1\r\n:2\r\n"
	for i := 0; i < len(whole); i++ {
		sc.rbuf.WriteByte(whole[i])
		require.Nil(t, c.ReadBuffered())
		require.Nil(t, c.ProcessCallbacks())
	}
	assert.Equal(t, []int64{1, 2}, got)
}

func TestConnCallbackStarved(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	sc.rbuf.WriteString("+OK\r\n")
	require.Nil(t, c.ReadBuffered())

	err := c.ProcessCallbacks()
	require.ErrorIs(t, err, ErrCallbackStarved)
	assert.ErrorIs(t, c.Err(), ErrCallbackStarved)
}

func TestConnNilCallbackDiscardsReply(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	require.Nil(t, c.DoAsync(nil, "SET", "foo", "bar"))
	_, err := c.WriteBuffered()
	require.Nil(t, err)

	sc.rbuf.WriteString("+OK\r\n")
	require.Nil(t, c.ReadBuffered())
	require.Nil(t, c.ProcessCallbacks())
	assert.Zero(t, c.PendingCallbacks())
}

func TestConnShortWrites(t *T) {
	sc := &scriptConn{maxWrite: 3}
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	require.Nil(t, c.Issue([]byte("+fake command bytes\r\n"), nil))

	var rounds int
	for {
		done, err := c.WriteBuffered()
		require.Nil(t, err)
		rounds++
		if done {
			break
		}
	}
	assert.Greater(t, rounds, 1)
	assert.Equal(t, "+fake command bytes\r\n", sc.wbuf.String())
}

func TestConnPeerClosed(t *T) {
	sc := new(scriptConn) // empty rbuf reads as EOF
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	err := c.ReadBuffered()
	require.ErrorIs(t, err, ErrPeerClosed)
	assert.ErrorIs(t, c.Err(), ErrPeerClosed)
}

func TestConnProtocolErrorSurfaced(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	require.Nil(t, c.DoAsync(nil, "PING"))
	sc.rbuf.WriteString("^nonsense\r\n")
	require.Nil(t, c.ReadBuffered())

	err := c.ProcessCallbacks()
	var pe *resp.ProtocolError
	require.ErrorAs(t, err, &pe)

	// the parser never recovers, and the conn keeps surfacing it
	assert.Equal(t, err, c.ProcessCallbacks())
}

func TestConnBlockingBulkReply(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc)

	sc.rbuf.WriteString("$10\r\n0123456789\r\n")

	require.Nil(t, c.Issue([]byte("*1\r\n$4\r\nPING\r\n"), nil))
	r, err := c.NextReply(testCtx(t))
	require.Nil(t, err)
	assert.Equal(t, []byte("0123456789"), r.Str)
}

func TestConnModeGuards(t *T) {
	blocking := NewConn(new(scriptConn))
	assert.ErrorIs(t, blocking.ProcessCallbacks(), ErrNonBlockingRequired)
	assert.ErrorIs(t, blocking.Issue([]byte(":1\r\n"), func(*Conn[*resp.Reply], *resp.Reply) {}), ErrNonBlockingRequired)
	assert.ErrorIs(t, blocking.DoAsync(nil, "PING"), ErrNonBlockingRequired)

	nonBlocking := NewConn(new(scriptConn), WithNonBlocking[*resp.Reply]())
	_, err := nonBlocking.NextReply(testCtx(t))
	assert.ErrorIs(t, err, ErrBlockingRequired)
	_, err = nonBlocking.Do(testCtx(t), "PING")
	assert.ErrorIs(t, err, ErrBlockingRequired)
}

func TestConnErrSlotClearedOnIssue(t *T) {
	sc := new(scriptConn)
	c := NewConn(sc, WithNonBlocking[*resp.Reply]())

	require.ErrorIs(t, c.ReadBuffered(), ErrPeerClosed)
	require.NotNil(t, c.Err())

	require.Nil(t, c.Issue([]byte(":0\r\n"), nil))
	assert.Nil(t, c.Err())
}

func TestConnHooks(t *T) {
	sc := new(scriptConn)

	var events []string
	c := NewConn(sc,
		WithNonBlocking[*resp.Reply](),
		WithCommandHook[*resp.Reply](func(c *Conn[*resp.Reply]) {
			// runs after append, before any write
			events = append(events, "command")
			assert.Zero(t, sc.wbuf.Len())
		}),
		WithDisconnectHook[*resp.Reply](func(c *Conn[*resp.Reply]) {
			events = append(events, "disconnect")
		}),
		WithTeardownHook[*resp.Reply](func(c *Conn[*resp.Reply]) {
			events = append(events, "teardown")
		}),
	)

	require.Nil(t, c.DoAsync(func(*Conn[*resp.Reply], *resp.Reply) {
		events = append(events, "callback")
	}, "PING"))

	require.Nil(t, c.Close())
	assert.True(t, sc.closed)

	// the pending callback is dropped at teardown, never invoked; disconnect
	// runs before teardown
	assert.Equal(t, []string{"command", "disconnect", "teardown"}, events)

	// second close
	assert.ErrorIs(t, c.Close(), ErrClosed)
	assert.ErrorIs(t, c.ReadBuffered(), ErrClosed)
	_, err := c.WriteBuffered()
	assert.ErrorIs(t, err, ErrClosed)
}
