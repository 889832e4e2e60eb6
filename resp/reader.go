package resp

import (
	"bytes"
	"fmt"

	"github.com/mediocregopher/redline/internal/bytesutil"
)

// once the consumed prefix of the accumulation buffer grows past this many
// bytes it gets sliced off, so a long-lived Reader doesn't hold on to old
// reply data forever.
const compactAfter = 1024

// upper bounds on the length prefixes a server may declare. A well-behaved
// server stays far under both (bulk payloads top out at 512MB); a prefix
// beyond them is stream corruption, and must never reach an index or
// allocation computation.
const (
	maxBulkLen  = 512 * 1024 * 1024
	maxArrayLen = 1024 * 1024
)

// frame is one pending aggregate under construction. Frames form an explicit
// stack rather than a pointer-linked chain, keeping ownership acyclic.
type frame[T any] struct {
	val T   // aggregate under construction
	n   int // elements expected
	idx int // next element slot to fill
}

// Reader incrementally decodes replies from bytes fed to it in arbitrary
// sized chunks. It tolerates partial data: a reply split across any number of
// Feed calls decodes to exactly the same value as the same bytes fed at once.
// Aggregate nesting is tracked on an explicit frame stack, so decode depth is
// bounded by memory rather than by the call stack.
//
// A Reader is not safe for concurrent use.
type Reader[T any] struct {
	b     Builder[T]
	buf   []byte
	pos   int
	stack []frame[T]
	err   error
}

// NewReaderWith returns a Reader that constructs values using the given
// Builder.
func NewReaderWith[T any](b Builder[T]) *Reader[T] {
	return &Reader[T]{b: b}
}

// NewReader returns a Reader producing *Reply values.
func NewReader() *Reader[*Reply] {
	return NewReaderWith[*Reply](ReplyBuilder{})
}

// Feed appends p to the accumulation buffer. It performs no parsing. Feeding
// a permanently failed Reader is a no-op.
func (r *Reader[T]) Feed(p []byte) {
	if r.err != nil {
		return
	}
	if r.pos > 0 && (r.pos == len(r.buf) || r.pos >= compactAfter) {
		r.buf = append(r.buf[:0], r.buf[r.pos:]...)
		r.pos = 0
	}
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of accumulated bytes not yet consumed.
func (r *Reader[T]) Buffered() int {
	return len(r.buf) - r.pos
}

// Next attempts to decode one complete reply from the accumulated bytes.
//
// On completion it returns (value, true, nil), with the consumed prefix
// removed; trailing bytes, such as the start of the next pipelined reply, are
// preserved for the next call. If the buffered bytes don't yet form a
// complete reply it returns (zero, false, nil) and the caller should Feed
// more and retry; no decode state is lost between such calls. If the bytes
// violate the grammar it returns a *ProtocolError, and returns that same
// error on every call from then on.
func (r *Reader[T]) Next() (T, bool, error) {
	var zero T
	if r.err != nil {
		return zero, false, r.err
	}
	for {
		v, st := r.step()
		switch st {
		case stepIncomplete:
			return zero, false, nil
		case stepError:
			return zero, false, r.err
		case stepValue:
			r.compact()
			return v, true, nil
		}
		// stepMore: progress was made but the top-level reply isn't complete
	}
}

type stepResult int

const (
	stepMore stepResult = iota
	stepValue
	stepIncomplete
	stepError
)

// step decodes one grammar unit at the cursor. It either consumes the whole
// unit and advances the frame stack, or (when the unit isn't fully buffered
// yet) leaves the cursor and stack completely untouched so the same state
// resumes after the next Feed.
func (r *Reader[T]) step() (T, stepResult) {
	var zero T

	i := bytes.IndexByte(r.buf[r.pos:], '\n')
	if i < 0 {
		return zero, stepIncomplete
	}
	if i < 1 || r.buf[r.pos+i-1] != '\r' {
		return r.fail("line missing CR before LF")
	}
	line := r.buf[r.pos : r.pos+i-1]
	rest := r.pos + i + 1

	if len(line) == 0 {
		return r.fail("empty reply line")
	}

	task := r.task()
	switch line[0] {
	case '+':
		task.Type = TypeStatus
		v := r.b.CreateString(task, line[1:])
		r.pos = rest
		return r.complete(v)

	case '-':
		task.Type = TypeError
		v := r.b.CreateString(task, line[1:])
		r.pos = rest
		return r.complete(v)

	case ':':
		n, err := bytesutil.ParseInt(line[1:])
		if err != nil {
			return r.fail(fmt.Sprintf("malformed integer %q", line[1:]))
		}
		task.Type = TypeInteger
		v := r.b.CreateInteger(task, n)
		r.pos = rest
		return r.complete(v)

	case '$':
		n, err := bytesutil.ParseInt(line[1:])
		if err != nil {
			return r.fail(fmt.Sprintf("malformed bulk length %q", line[1:]))
		}
		if n == -1 {
			task.Type = TypeNil
			v := r.b.CreateNil(task)
			r.pos = rest
			return r.complete(v)
		}
		if n < 0 {
			return r.fail(fmt.Sprintf("negative bulk length %d", n))
		}
		if n > maxBulkLen {
			return r.fail(fmt.Sprintf("bulk length %d exceeds maximum", n))
		}
		end := rest + int(n) + 2
		if end > len(r.buf) {
			// the common partial case: the declared payload hasn't fully
			// arrived. Nothing is consumed, not even the header line.
			return zero, stepIncomplete
		}
		if r.buf[end-2] != '\r' || r.buf[end-1] != '\n' {
			return r.fail("bulk payload missing terminator")
		}
		task.Type = TypeBulkString
		v := r.b.CreateString(task, r.buf[rest:end-2])
		r.pos = end
		return r.complete(v)

	case '*':
		n, err := bytesutil.ParseInt(line[1:])
		if err != nil {
			return r.fail(fmt.Sprintf("malformed array count %q", line[1:]))
		}
		if n == -1 {
			task.Type = TypeNil
			v := r.b.CreateNil(task)
			r.pos = rest
			return r.complete(v)
		}
		if n < 0 {
			return r.fail(fmt.Sprintf("negative array count %d", n))
		}
		if n > maxArrayLen {
			return r.fail(fmt.Sprintf("array count %d exceeds maximum", n))
		}
		task.Type = TypeArray
		v := r.b.CreateArray(task, int(n))
		r.pos = rest
		if n == 0 {
			return r.complete(v)
		}
		r.stack = append(r.stack, frame[T]{val: v, n: int(n)})
		return zero, stepMore

	default:
		return r.fail(fmt.Sprintf("unknown reply sigil %q", line[0]))
	}
}

// task captures the construction context for the value about to be decoded:
// the aggregate it belongs to and the slot it will occupy.
func (r *Reader[T]) task() Task[T] {
	t := Task[T]{Depth: len(r.stack)}
	if len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		t.Parent = top.val
		t.Idx = top.idx
	}
	return t
}

// complete records that one value finished at the current stack position. It
// promotes filled frames upward: each aggregate that just received its last
// element is popped and counted as a completed element of its own parent. If
// the stack empties, v (or the outermost popped aggregate) is the final
// top-level reply.
func (r *Reader[T]) complete(v T) (T, stepResult) {
	var zero T
	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		top.idx++
		if top.idx < top.n {
			return zero, stepMore
		}
		v = top.val
		r.stack = r.stack[:len(r.stack)-1]
	}
	return v, stepValue
}

// fail transitions the Reader to its permanently failed state and releases
// whatever aggregate was under construction. Freeing the outermost frame is
// enough: an aggregate owns its elements.
func (r *Reader[T]) fail(reason string) (T, stepResult) {
	var zero T
	r.err = &ProtocolError{Reason: reason}
	if len(r.stack) > 0 {
		r.b.Free(r.stack[0].val)
		r.stack = nil
	}
	r.buf, r.pos = nil, 0
	return zero, stepError
}

func (r *Reader[T]) compact() {
	if r.pos == len(r.buf) {
		r.buf = r.buf[:0]
		r.pos = 0
	} else if r.pos >= compactAfter {
		r.buf = append(r.buf[:0], r.buf[r.pos:]...)
		r.pos = 0
	}
}
