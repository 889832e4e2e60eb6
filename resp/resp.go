// Package resp implements the value model and incremental decoder for the
// redis line protocol (RESP). The Reader in this package is push-driven: raw
// bytes are fed into it in whatever sized chunks they arrive in, and complete
// replies are pulled out as they become available. It never performs I/O
// itself.
package resp

import "strconv"

// Type identifies which variant of the reply grammar a decoded value holds.
type Type int

// The possible reply variants.
const (
	TypeStatus Type = iota + 1
	TypeError
	TypeInteger
	TypeNil
	TypeBulkString
	TypeArray
)

func (t Type) String() string {
	switch t {
	case TypeStatus:
		return "status"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeNil:
		return "nil"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	}
	return "invalid"
}

// Reply is the default decode target, one decoded unit of server response
// data. Which fields are meaningful depends on Type. An array reply owns its
// elements; a Reply is never observable in a partially constructed state.
type Reply struct {
	Type Type

	// Str holds the payload for TypeStatus, TypeError and TypeBulkString. It
	// is binary safe and may contain embedded zero bytes.
	Str []byte

	// Int holds the value for TypeInteger.
	Int int64

	// Elems holds the elements for TypeArray. A nil array on the wire decodes
	// as TypeNil, not as an empty Elems.
	Elems []*Reply
}

// IsNil returns true if the reply is the explicit absent value, which the
// server uses for both missing bulk strings and absent arrays.
func (r *Reply) IsNil() bool {
	return r.Type == TypeNil
}

// String renders the reply compactly on a single line. It is intended for
// logs and test failures, not for round-tripping.
func (r *Reply) String() string {
	if r == nil {
		return "<nil>"
	}
	switch r.Type {
	case TypeStatus:
		return "+" + string(r.Str)
	case TypeError:
		return "-" + string(r.Str)
	case TypeInteger:
		return strconv.FormatInt(r.Int, 10)
	case TypeNil:
		return "(nil)"
	case TypeBulkString:
		return strconv.Quote(string(r.Str))
	case TypeArray:
		s := "["
		for i, e := range r.Elems {
			if i > 0 {
				s += " "
			}
			s += e.String()
		}
		return s + "]"
	}
	return "<invalid>"
}

// ProtocolError is returned when the accumulated byte stream violates the
// reply grammar. Once a Reader has returned a ProtocolError the stream
// position can no longer be trusted and the Reader is permanently failed;
// every subsequent call returns the same error.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "resp: protocol error: " + e.Reason
}

// Task describes where the value currently being constructed will live. It is
// handed to every Builder call so the builder can attach children to their
// enclosing aggregate.
type Task[T any] struct {
	// Type of the value being constructed.
	Type Type

	// Parent is the enclosing aggregate, meaningful only when Depth > 0.
	Parent T

	// Idx is the element slot in Parent that the new value occupies.
	Idx int

	// Depth is the nesting depth; 0 means the value is a top-level reply.
	Depth int
}

// Builder is the reply construction strategy invoked by the Reader at each
// successful decode step. Supplying a custom Builder lets a host decode
// directly into its own value representation without touching the decoder.
//
// CreateString is used for status, error and bulk-string values alike; the
// task's Type field discriminates. The byte slice passed to it is only valid
// for the duration of the call and must be copied if retained.
//
// Free releases a value the Reader is discarding, which only happens to an
// aggregate under construction when the stream turns out to be malformed.
type Builder[T any] interface {
	CreateString(t Task[T], b []byte) T
	CreateArray(t Task[T], n int) T
	CreateInteger(t Task[T], n int64) T
	CreateNil(t Task[T]) T
	Free(v T)
}

// ReplyBuilder is the default Builder, producing *Reply trees.
type ReplyBuilder struct{}

var _ Builder[*Reply] = ReplyBuilder{}

// CreateString implements Builder.
func (ReplyBuilder) CreateString(t Task[*Reply], b []byte) *Reply {
	// the reader's buffer gets reused, so the payload must be copied out. The
	// copy is never nil: an empty bulk string is still a present value.
	str := make([]byte, len(b))
	copy(str, b)
	return attach(t, &Reply{Type: t.Type, Str: str})
}

// CreateArray implements Builder.
func (ReplyBuilder) CreateArray(t Task[*Reply], n int) *Reply {
	return attach(t, &Reply{Type: TypeArray, Elems: make([]*Reply, n)})
}

// CreateInteger implements Builder.
func (ReplyBuilder) CreateInteger(t Task[*Reply], n int64) *Reply {
	return attach(t, &Reply{Type: TypeInteger, Int: n})
}

// CreateNil implements Builder.
func (ReplyBuilder) CreateNil(t Task[*Reply]) *Reply {
	return attach(t, &Reply{Type: TypeNil})
}

// Free implements Builder. Reply trees are garbage collected, so there is
// nothing to do.
func (ReplyBuilder) Free(*Reply) {}

func attach(t Task[*Reply], r *Reply) *Reply {
	if t.Depth > 0 {
		t.Parent.Elems[t.Idx] = r
	}
	return r
}
