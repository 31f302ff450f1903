package redis

import (
	"strconv"

	"github.com/joomcode/errorx"
)

// AppendRequest appends request to byte slice as RESP request (ie as array of strings).
//
// It could fail if some request value is not nil, integer, float, string or byte slice.
// In case of error it still returns modified buffer, but truncated to original size, it could be used save reallocation.
//
// Note: command could contain single space. In that case, it will be split and last part will be prepended to arguments.
func AppendRequest(buf []byte, req Request) ([]byte, *errorx.Error) {
	oldSize := len(buf)
	space := -1
	for i, c := range []byte(req.Cmd) {
		if c == ' ' {
			space = i
			break
		}
	}
	if space == -1 {
		buf = appendHead(buf, '*', int64(len(req.Args)+1))
		buf = appendHead(buf, '$', int64(len(req.Cmd)))
		buf = append(buf, req.Cmd...)
		buf = append(buf, '\r', '\n')
	} else {
		buf = appendHead(buf, '*', int64(len(req.Args)+2))
		buf = appendHead(buf, '$', int64(space))
		buf = append(buf, req.Cmd[:space]...)
		buf = append(buf, '\r', '\n')
		buf = appendHead(buf, '$', int64(len(req.Cmd)-space-1))
		buf = append(buf, req.Cmd[space+1:]...)
		buf = append(buf, '\r', '\n')
	}
	for i, val := range req.Args {
		switch v := val.(type) {
		case string:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case []byte:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case int:
			buf = appendBulkInt(buf, int64(v))
		case uint:
			buf = appendBulkUint(buf, uint64(v))
		case int64:
			buf = appendBulkInt(buf, v)
		case uint64:
			buf = appendBulkUint(buf, v)
		case int32:
			buf = appendBulkInt(buf, int64(v))
		case uint32:
			buf = appendBulkInt(buf, int64(v))
		case int8:
			buf = appendBulkInt(buf, int64(v))
		case uint8:
			buf = appendBulkInt(buf, int64(v))
		case int16:
			buf = appendBulkInt(buf, int64(v))
		case uint16:
			buf = appendBulkInt(buf, int64(v))
		case bool:
			if v {
				buf = append(buf, "$1\r\n1"...)
			} else {
				buf = append(buf, "$1\r\n0"...)
			}
		case float32:
			str := strconv.FormatFloat(float64(v), 'f', -1, 32)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case float64:
			str := strconv.FormatFloat(v, 'f', -1, 64)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case nil:
			buf = append(buf, "$0\r\n"...)
		default:
			return buf[:oldSize], ErrArgumentType.NewWithNoMessage().
				WithProperty(EKVal, val).
				WithProperty(EKArgPos, i).
				WithProperty(EKRequest, req)
		}
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

func appendHead(b []byte, t byte, i int64) []byte {
	b = append(b, t)
	b = strconv.AppendInt(b, i, 10)
	return append(b, '\r', '\n')
}

func appendBulkInt(b []byte, i int64) []byte {
	var digits [20]byte
	d := strconv.AppendInt(digits[:0], i, 10)
	b = appendHead(b, '$', int64(len(d)))
	return append(b, d...)
}

func appendBulkUint(b []byte, i uint64) []byte {
	var digits [20]byte
	d := strconv.AppendUint(digits[:0], i, 10)
	b = appendHead(b, '$', int64(len(d)))
	return append(b, d...)
}
