package redline

import (
	"fmt"
	"strconv"

	"github.com/mediocregopher/redline/internal/bytesutil"
)

// FormatCommand encodes args as one command in the generic wire format: an
// array of bulk strings, one per argument. The first argument is
// conventionally the command name, but FormatCommand doesn't care.
//
// Supported argument types are string, []byte, all of Go's integer types,
// float32/float64, bool (encoded as 1/0) and nil (encoded as an empty
// string). Anything else is an error.
func FormatCommand(args ...interface{}) ([]byte, error) {
	return AppendCommand(nil, args...)
}

// AppendCommand is like FormatCommand but appends the encoded command to buf,
// allowing callers to reuse one buffer across many commands.
func AppendCommand(buf []byte, args ...interface{}) ([]byte, error) {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range args {
		b, err := argBytes(arg)
		if err != nil {
			return nil, err
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(b)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, b...)
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

func argBytes(arg interface{}) ([]byte, error) {
	switch at := arg.(type) {
	case string:
		return []byte(at), nil
	case []byte:
		return at, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return strconv.AppendInt(nil, bytesutil.AnyIntToInt64(arg), 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(at), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, at, 'f', -1, 64), nil
	case bool:
		if at {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("redline: cannot encode %T as a command argument", arg)
	}
}
