// Package peer implements the framing used on every TCP connection after
// the connection header handshake (§4.5 of the core spec): each
// subsequent frame is a u32 little-endian length followed by that many
// bytes. It also implements the service success/failure tag that frames a
// service response (§4.5, §4.8, §4.9).
package peer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to protect against a corrupt or
// hostile length prefix forcing an unbounded allocation. 64MiB comfortably
// covers any message this middleware is expected to carry.
const MaxFrameSize = 64 << 20

// FrameReader reads successive length-prefixed frames from a stream. It
// stops at a partial tail until more bytes arrive, matching §4.5's "emits
// one payload per complete frame and stops at partial tails".
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for frame-at-a-time reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Reader exposes the underlying buffered reader so callers can switch
// framing modes mid-stream (e.g. a service client reading a connection
// header, then switching to ReadServiceResponse for the remainder of the
// connection) without losing any bytes already buffered.
func (fr *FrameReader) Reader() io.Reader { return fr.r }

// ReadFrame blocks until one full frame is available and returns its
// payload. It returns io.EOF (or an unwrapped net error) when the
// underlying stream ends.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("peer: frame length %d exceeds maximum %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("peer: reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes a single u32-length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("peer: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("peer: writing frame payload: %w", err)
	}
	return nil
}

// ServiceResponse is the success-tagged envelope a service server writes
// back for each request (§4.5, §4.8): one byte (1 success, 0 failure)
// followed by a u32 length and then either the serialized response or a
// human-readable error string.
type ServiceResponse struct {
	Success bool
	Body    []byte // serialized response on success, UTF-8 error text on failure
}

// WriteServiceResponse writes the success byte + length + body framing a
// service server sends after handling a request.
func WriteServiceResponse(w io.Writer, resp ServiceResponse) error {
	var tag [1]byte
	if resp.Success {
		tag[0] = 1
	}
	if _, err := w.Write(tag[:]); err != nil {
		return fmt.Errorf("peer: writing service response tag: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(resp.Body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("peer: writing service response length: %w", err)
	}
	if _, err := w.Write(resp.Body); err != nil {
		return fmt.Errorf("peer: writing service response body: %w", err)
	}
	return nil
}

// ReadServiceResponse reads one service response frame (used by service
// clients awaiting a reply).
func ReadServiceResponse(r io.Reader) (ServiceResponse, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return ServiceResponse{}, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ServiceResponse{}, fmt.Errorf("peer: reading service response length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return ServiceResponse{}, fmt.Errorf("peer: service response length %d exceeds maximum %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return ServiceResponse{}, fmt.Errorf("peer: reading service response body: %w", err)
	}
	return ServiceResponse{Success: tag[0] == 1, Body: body}, nil
}
