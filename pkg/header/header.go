// Package header implements the connection header codec exchanged at the
// start of every peer connection (§4.2 of the core spec): a u32-length-
// prefixed block of u32-length-prefixed "key=value" ASCII strings.
//
// Unknown keys are parsed and carried but never rejected — callers that
// care about a particular key look it up; everything else round-trips
// through Fields untouched.
package header

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/goros/rosnode/pkg/wire"
)

// Well-known header keys (§4.2).
const (
	KeyCallerID          = "callerid"
	KeyMD5Sum            = "md5sum"
	KeyTopic             = "topic"
	KeyService           = "service"
	KeyType              = "type"
	KeyLatching          = "latching"
	KeyPersistent        = "persistent"
	KeyTCPNoDelay        = "tcp_nodelay"
	KeyMessageDefinition = "message_definition"
	KeyError             = "error"
)

// AnyType is the wildcard value a generic probe may send for KeyType; it
// is accepted in place of an exact datatype match (§4.2).
const AnyType = "*"

// Header is an ordered key-value map decoded from or destined for a
// connection header block. Field order is preserved on Encode because a
// handful of implementations (and golden test fixtures) are sensitive to
// it; Fields is otherwise looked up by key.
type Header struct {
	keys   []string
	values map[string]string
}

// New creates an empty Header.
func New() *Header {
	return &Header{values: make(map[string]string)}
}

// Set assigns key=value, appending key to the encode order the first time
// it is seen.
func (h *Header) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, exists := h.values[key]; !exists {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key and whether it was present.
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// GetDefault returns the value for key, or def if absent.
func (h *Header) GetDefault(key, def string) string {
	if v, ok := h.values[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// Keys returns the set keys in the order they were first assigned.
func (h *Header) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Encode serializes the header as a u32-length-prefixed block of
// u32-length-prefixed "key=value" strings.
func (h *Header) Encode() []byte {
	var body []byte
	for _, k := range h.keys {
		entry := k + "=" + h.values[k]
		body = wire.PutString(body, entry)
	}
	out := wire.PutU32(nil, uint32(len(body)))
	return append(out, body...)
}

// Decode parses a header block from buf starting at *offset, which is
// advanced past the block on success.
func Decode(buf []byte, offset *int) (*Header, error) {
	blockLen, err := wire.GetU32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("header: reading block length: %w", err)
	}
	end := *offset + int(blockLen)
	if end > len(buf) {
		return nil, fmt.Errorf("header: block length %d exceeds buffer", blockLen)
	}

	h := New()
	for *offset < end {
		entry, err := wire.GetString(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("header: reading entry: %w", err)
		}
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("header: malformed entry %q, missing '='", entry)
		}
		h.Set(k, v)
	}
	if *offset != end {
		return nil, fmt.Errorf("header: entries overran declared block length")
	}
	return h, nil
}

// RequireAll returns an error naming the first missing key if any of keys
// is absent from h.
func (h *Header) RequireAll(keys ...string) error {
	for _, k := range keys {
		if !h.Has(k) {
			return fmt.Errorf("header: missing required field %q", k)
		}
	}
	return nil
}

// MD5Matches reports whether the peer's md5 is compatible with ours: equal,
// or either side sent the wildcard "*" (§4.2).
func MD5Matches(ours, theirs string) bool {
	return ours == theirs || ours == AnyType || theirs == AnyType
}

// TypeMatches reports whether the peer's declared type is compatible with
// ours: equal, or either side sent the wildcard "*" (§4.2, "used by
// generic probes").
func TypeMatches(ours, theirs string) bool {
	return ours == theirs || ours == AnyType || theirs == AnyType
}

// ErrorHeader builds a single-field header carrying an error message, sent
// in place of a normal response header when validation fails.
func ErrorHeader(msg string) *Header {
	h := New()
	h.Set(KeyError, msg)
	return h
}

// WriteHeader encodes and writes h directly to w (no peer-protocol framing:
// the connection header is its own self-length-prefixed block, sent before
// any peer.WriteFrame traffic on the same connection).
func WriteHeader(w io.Writer, h *Header) error {
	if _, err := w.Write(h.Encode()); err != nil {
		return fmt.Errorf("header: writing: %w", err)
	}
	return nil
}

// ReadHeader reads one connection header directly from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("header: reading block length: %w", err)
	}
	blockLen := binary.LittleEndian.Uint32(lenBuf[:])
	full := make([]byte, 4+int(blockLen))
	copy(full, lenBuf[:])
	if _, err := io.ReadFull(r, full[4:]); err != nil {
		return nil, fmt.Errorf("header: reading block body: %w", err)
	}
	offset := 0
	return Decode(full, &offset)
}
