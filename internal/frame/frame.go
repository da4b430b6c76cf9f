// Package frame implements the wire framing that layers many logical
// channels onto one duplex byte transport: an ASCII decimal channel id, a
// newline, and an opaque payload body. Channel id 0 carries control JSON.
package frame

import (
	"bytes"
	"errors"
	"strconv"
)

// ChannelID identifies a logical channel on one gateway connection.
// 0 is reserved for control commands.
type ChannelID uint32

// ErrProtocol is returned by Decode/ParseControl for any malformed input;
// callers must fail-close the owning transport or channel with
// problem.ProtocolError on this error.
var ErrProtocol = errors.New("protocol-error")

// Encode prepends the ASCII decimal channel id and a newline to payload.
func Encode(channel ChannelID, payload []byte) []byte {
	prefix := strconv.FormatUint(uint64(channel), 10)
	out := make([]byte, 0, len(prefix)+1+len(payload))
	out = append(out, prefix...)
	out = append(out, '\n')
	out = append(out, payload...)
	return out
}

// Decode locates the first newline in msg, parses the prefix as a
// non-negative decimal channel id fitting in 32 bits, and returns the
// channel id and the remaining bytes as payload.
//
// Only the first newline is treated as the separator: a payload containing
// further newlines is returned unmodified past that point.
func Decode(msg []byte) (ChannelID, []byte, error) {
	idx := bytes.IndexByte(msg, '\n')
	if idx < 0 {
		return 0, nil, ErrProtocol
	}
	prefix := msg[:idx]
	if len(prefix) == 0 {
		return 0, nil, ErrProtocol
	}
	n, err := strconv.ParseUint(string(prefix), 10, 32)
	if err != nil {
		return 0, nil, ErrProtocol
	}
	return ChannelID(n), msg[idx+1:], nil
}
