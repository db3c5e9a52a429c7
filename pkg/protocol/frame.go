package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// DefaultMaxFrameSize caps the body length accepted by ReadFrame (16 MB)
	DefaultMaxFrameSize = 16 * 1024 * 1024

	// HeaderSize is the length prefix size in bytes
	HeaderSize = 4
)

var (
	// ErrConnectionClosed means the peer went away before a full frame arrived.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrProtocol means the byte stream no longer carries valid frames.
	ErrProtocol = errors.New("protocol error")
	// ErrFrameTooLarge is a protocol error for a length prefix above the limit.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds maximum size", ErrProtocol)
)

// EncodeFrame marshals v to JSON and prepends the 4-byte big-endian body length.
func EncodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if uint64(len(body)) > math.MaxUint32 {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// WriteFrame encodes v and writes the whole frame with a single Write call,
// so a writer that serializes Write calls never interleaves two frames.
func WriteFrame(w io.Writer, v any) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame blocks until one complete frame has been read and returns its
// body. The body is guaranteed to be a JSON object.
//
// Any read failure, including a short read inside the body, is reported as
// ErrConnectionClosed wrapping the underlying error. A body that is not a JSON
// object is ErrProtocol. maxSize of 0 disables the size check.
func ReadFrame(r io.Reader, maxSize uint32) (json.RawMessage, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && length > maxSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	if !isJSONObject(body) {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrProtocol)
	}
	return body, nil
}

// DecodeFrame is ReadFrame over an in-memory frame, decoded into a generic map.
func DecodeFrame(data []byte) (map[string]any, error) {
	body, err := ReadFrame(bytes.NewReader(data), 0)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return m, nil
}

func isJSONObject(body []byte) bool {
	if !json.Valid(body) {
		return false
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
