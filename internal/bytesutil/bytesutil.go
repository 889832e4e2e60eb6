// Package bytesutil provides small helpers for working with raw byte slices
// that come up when encoding and decoding the redis line protocol.
package bytesutil

import (
	"errors"
	"fmt"
	"math"
)

// AnyIntToInt64 converts a value of any of Go's integer types (signed and
// unsigned) into a signed int64.
//
// If m is not of one of Go's built in integer types the call will panic.
func AnyIntToInt64(m interface{}) int64 {
	switch mt := m.(type) {
	case int:
		return int64(mt)
	case int8:
		return int64(mt)
	case int16:
		return int64(mt)
	case int32:
		return int64(mt)
	case int64:
		return mt
	case uint:
		return int64(mt)
	case uint8:
		return int64(mt)
	case uint16:
		return int64(mt)
	case uint32:
		return int64(mt)
	case uint64:
		return int64(mt)
	}
	panic(fmt.Sprintf("anyIntToInt64 got bad arg: %#v", m))
}

// ParseInt is a specialized version of strconv.ParseInt that parses a base-10
// encoded signed integer from a []byte.
//
// This can be used to avoid allocating a string, since strconv.ParseInt only
// takes a string.
func ParseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty slice given to parseInt")
	}

	var neg bool
	if b[0] == '-' || b[0] == '+' {
		neg = b[0] == '-'
		b = b[1:]
	}

	n, err := ParseUint(b)
	if err != nil {
		return 0, err
	} else if n > math.MaxInt64 {
		return 0, fmt.Errorf("value in parseInt overflows int64")
	}

	if neg {
		return -int64(n), nil
	}

	return int64(n), nil
}

// ParseUint is a specialized version of strconv.ParseUint that parses a
// base-10 encoded integer from a []byte.
//
// This can be used to avoid allocating a string, since strconv.ParseUint only
// takes a string.
func ParseUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty slice given to parseUint")
	}

	var n uint64

	for i, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character %c at position %d in parseUint", c, i)
		}

		d := uint64(c - '0')
		if n > math.MaxUint64/10 || n*10 > math.MaxUint64-d {
			return 0, fmt.Errorf("value in parseUint overflows uint64")
		}
		n = n*10 + d
	}

	return n, nil
}
