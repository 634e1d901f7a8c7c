// Package wire implements the fixed-encoding binary primitives the core
// message/connection-header/peer-protocol codecs are all built from (§4.1
// of the core spec). Every numeric is little-endian; strings and
// variable-length arrays carry a u32 length prefix; fixed-length arrays
// carry none and must match their declared length exactly.
//
// Deserialization advances a caller-owned cursor so nested calls can
// accumulate an offset across a whole message the way the core spec
// requires ("callers pass the cursor by reference").
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrShortBuffer is returned when a buffer doesn't hold enough bytes for
// the value being decoded.
var ErrShortBuffer = errors.New("wire: buffer too short")

// ErrArrayLength is returned by PutFixedArray-style encoders when the
// supplied slice length doesn't match the schema's declared fixed length.
var ErrArrayLength = errors.New("wire: fixed array length mismatch")

func need(buf []byte, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, offset, len(buf))
	}
	return nil
}

// --- fixed-width primitives ---

func PutI8(buf []byte, v int8) []byte  { return append(buf, byte(v)) }
func PutU8(buf []byte, v uint8) []byte { return append(buf, v) }

func PutBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func PutI16(buf []byte, v int16) []byte { return PutU16(buf, uint16(v)) }
func PutU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutI32(buf []byte, v int32) []byte { return PutU32(buf, uint32(v)) }
func PutU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutI64(buf []byte, v int64) []byte { return PutU64(buf, uint64(v)) }
func PutU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutF32(buf []byte, v float32) []byte { return PutU32(buf, math.Float32bits(v)) }
func PutF64(buf []byte, v float64) []byte { return PutU64(buf, math.Float64bits(v)) }

// PutTime encodes a ROS-style time/duration value as two u32 fields, secs
// then nsecs.
func PutTime(buf []byte, secs, nsecs uint32) []byte {
	buf = PutU32(buf, secs)
	buf = PutU32(buf, nsecs)
	return buf
}

// PutDuration encodes a time.Duration using the same two-u32 layout as
// PutTime.
func PutDuration(buf []byte, d time.Duration) []byte {
	secs := uint32(d / time.Second)
	nsecs := uint32(d % time.Second)
	return PutTime(buf, secs, nsecs)
}

func GetI8(buf []byte, offset *int) (int8, error) {
	v, err := GetU8(buf, offset)
	return int8(v), err
}

func GetU8(buf []byte, offset *int) (uint8, error) {
	if err := need(buf, *offset, 1); err != nil {
		return 0, err
	}
	v := buf[*offset]
	*offset++
	return v, nil
}

func GetBool(buf []byte, offset *int) (bool, error) {
	v, err := GetU8(buf, offset)
	return v != 0, err
}

func GetI16(buf []byte, offset *int) (int16, error) {
	v, err := GetU16(buf, offset)
	return int16(v), err
}

func GetU16(buf []byte, offset *int) (uint16, error) {
	if err := need(buf, *offset, 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(buf[*offset:])
	*offset += 2
	return v, nil
}

func GetI32(buf []byte, offset *int) (int32, error) {
	v, err := GetU32(buf, offset)
	return int32(v), err
}

func GetU32(buf []byte, offset *int) (uint32, error) {
	if err := need(buf, *offset, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf[*offset:])
	*offset += 4
	return v, nil
}

func GetI64(buf []byte, offset *int) (int64, error) {
	v, err := GetU64(buf, offset)
	return int64(v), err
}

func GetU64(buf []byte, offset *int) (uint64, error) {
	if err := need(buf, *offset, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(buf[*offset:])
	*offset += 8
	return v, nil
}

func GetF32(buf []byte, offset *int) (float32, error) {
	v, err := GetU32(buf, offset)
	return math.Float32frombits(v), err
}

func GetF64(buf []byte, offset *int) (float64, error) {
	v, err := GetU64(buf, offset)
	return math.Float64frombits(v), err
}

// GetTime decodes a two-u32 (secs, nsecs) time/duration value.
func GetTime(buf []byte, offset *int) (secs, nsecs uint32, err error) {
	secs, err = GetU32(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	nsecs, err = GetU32(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	return secs, nsecs, nil
}

func GetDuration(buf []byte, offset *int) (time.Duration, error) {
	secs, nsecs, err := GetTime(buf, offset)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond, nil
}

// --- strings ---

// PutString appends a u32 length prefix followed by the raw bytes of s.
func PutString(buf []byte, s string) []byte {
	buf = PutU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// GetString decodes a length-prefixed string starting at *offset.
func GetString(buf []byte, offset *int) (string, error) {
	n, err := GetU32(buf, offset)
	if err != nil {
		return "", err
	}
	if err := need(buf, *offset, int(n)); err != nil {
		return "", err
	}
	s := string(buf[*offset : *offset+int(n)])
	*offset += int(n)
	return s, nil
}

// StringSize returns the on-wire size of s including its length prefix.
func StringSize(s string) int { return 4 + len(s) }

// --- byte arrays (uint8[]) ---

// PutBytes appends a u32 length prefix followed by a bulk copy of b. Used
// for uint8[] (variable length); for a fixed-length uint8[N] field use
// PutFixedBytes instead, which omits the prefix.
func PutBytes(buf []byte, b []byte) []byte {
	buf = PutU32(buf, uint32(len(b)))
	return append(buf, b...)
}

// GetBytes decodes a length-prefixed byte array.
func GetBytes(buf []byte, offset *int) ([]byte, error) {
	n, err := GetU32(buf, offset)
	if err != nil {
		return nil, err
	}
	if err := need(buf, *offset, int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[*offset:*offset+int(n)])
	*offset += int(n)
	return out, nil
}

// PutFixedBytes appends exactly n bytes with no length prefix. It returns
// ErrArrayLength if len(b) != n, per §4.1's "runtime must reject
// serialization when the supplied array length does not equal the
// declared fixed length".
func PutFixedBytes(buf []byte, b []byte, n int) ([]byte, error) {
	if len(b) != n {
		return buf, fmt.Errorf("%w: got %d, want %d", ErrArrayLength, len(b), n)
	}
	return append(buf, b...), nil
}

// GetFixedBytes decodes exactly n bytes with no length prefix.
func GetFixedBytes(buf []byte, offset *int, n int) ([]byte, error) {
	if err := need(buf, *offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[*offset:*offset+n])
	*offset += n
	return out, nil
}

// --- generic arrays ---

// PutArrayLen appends the u32 length prefix for a variable-length array;
// callers then serialize each element with the element's own codec.
func PutArrayLen(buf []byte, n int) []byte { return PutU32(buf, uint32(n)) }

// GetArrayLen decodes the u32 length prefix of a variable-length array.
func GetArrayLen(buf []byte, offset *int) (int, error) {
	n, err := GetU32(buf, offset)
	return int(n), err
}

// CheckFixedArrayLen validates that n (the length of a fixed-size array
// field's backing slice) matches want, the schema's declared length,
// before any element is serialized.
func CheckFixedArrayLen(n, want int) error {
	if n != want {
		return fmt.Errorf("%w: got %d, want %d", ErrArrayLength, n, want)
	}
	return nil
}
