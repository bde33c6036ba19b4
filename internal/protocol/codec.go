package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ByteOrder is the byte order of every multi-byte field in the segment.
var ByteOrder = binary.LittleEndian

// EncodeU32 encodes a u32 payload (exposure time, control ack sequence).
func EncodeU32(v uint32) []byte {
	b := make([]byte, 4)
	ByteOrder.PutUint32(b, v)
	return b
}

// EncodeI32 encodes a signed 32-bit payload.
func EncodeI32(v int32) []byte {
	return EncodeU32(uint32(v))
}

// EncodeI32Pair encodes two consecutive signed 32-bit values.
func EncodeI32Pair(a, b int32) []byte {
	out := make([]byte, 8)
	ByteOrder.PutUint32(out[0:4], uint32(a))
	ByteOrder.PutUint32(out[4:8], uint32(b))
	return out
}

// EncodeF64 encodes an IEEE-754 double payload.
func EncodeF64(v float64) []byte {
	b := make([]byte, 8)
	ByteOrder.PutUint64(b, math.Float64bits(v))
	return b
}

// EncodeBool encodes a one-byte boolean payload.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// EncodeCameraName encodes the SelectCamera payload: a u32 length that
// counts the terminating NUL, then the name and the NUL.
func EncodeCameraName(name string) ([]byte, error) {
	length := len(name) + 1
	if 4+length > PayloadCapacity {
		return nil, fmt.Errorf("camera name too long: %d bytes", len(name))
	}
	b := make([]byte, 4+length)
	ByteOrder.PutUint32(b[0:4], uint32(length))
	copy(b[4:], name)
	return b, nil
}

// DecodeCameraName is the inverse of EncodeCameraName.
func DecodeCameraName(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("%w: camera payload %d bytes", ErrMalformedResponse, len(payload))
	}
	length := int(ByteOrder.Uint32(payload[0:4]))
	if length == 0 || 4+length > len(payload) {
		return "", fmt.Errorf("%w: camera name length %d", ErrMalformedResponse, length)
	}
	name := payload[4 : 4+length]
	if name[length-1] == 0 {
		name = name[:length-1]
	}
	return string(name), nil
}

// EncodeString encodes a u16 length-prefixed ASCII string, the response
// format of GetVersion.
func EncodeString(s string) []byte {
	b := make([]byte, 2+len(s))
	ByteOrder.PutUint16(b[0:2], uint16(len(s)))
	copy(b[2:], s)
	return b
}

// DecodeString decodes a u16 length-prefixed string. A zero length or one
// that does not fit the request slot is malformed.
func DecodeString(resp []byte) (string, error) {
	if len(resp) < 2 {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedResponse, len(resp))
	}
	length := int(ByteOrder.Uint16(resp[0:2]))
	if length == 0 || length >= RequestSlotSize || 2+length > len(resp) {
		return "", fmt.Errorf("%w: string length %d", ErrMalformedResponse, length)
	}
	return string(resp[2 : 2+length]), nil
}

// DecodeStatus returns the status byte of a CheckStatus response.
func DecodeStatus(resp []byte) (uint8, error) {
	if len(resp) < 1 {
		return 0, fmt.Errorf("%w: empty status", ErrMalformedResponse)
	}
	return resp[0], nil
}
