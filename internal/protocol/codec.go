// Package protocol implements the length-prefixed frame message format.
//
// Each message is four fields, in order, with no delimiter beyond the
// explicit lengths:
//
//	int32  nameLength   (big-endian)
//	bytes  name         (exactly nameLength bytes, no NUL terminator)
//	int64  payloadSize  (big-endian)
//	bytes  payload      (exactly payloadSize bytes)
//
// Integers are network byte order on both ends. Messages repeat on a
// connection; end of stream before a name length field is the clean end
// of the message sequence.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/iris/internal/core"
)

const (
	// NameLengthFieldSize is the wire size of the name length field.
	NameLengthFieldSize = 4
	// PayloadSizeFieldSize is the wire size of the payload size field.
	PayloadSizeFieldSize = 8

	// DefaultMaxNameLength bounds the declared name length.
	DefaultMaxNameLength = 255
	// DefaultMaxPayloadBytes bounds the declared payload size.
	DefaultMaxPayloadBytes = 256 << 20
	// DefaultChunkSize is the receive/write granularity for payloads.
	DefaultChunkSize = 4096
)

// Limits bounds the sizes a peer may declare. The receiver rejects an
// oversized declaration before attempting the read.
type Limits struct {
	MaxNameLength   int
	MaxPayloadBytes int64
}

// WithDefaults fills zero fields with the package defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxNameLength <= 0 {
		l.MaxNameLength = DefaultMaxNameLength
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return l
}

// CheckName validates a name length against the limits.
func (l Limits) CheckName(n int) error {
	if n <= 0 {
		if n < 0 {
			return core.ErrNegativeLength
		}
		return core.ErrEmptyName
	}
	if n > l.MaxNameLength {
		return fmt.Errorf("%w: declared %d, limit %d", core.ErrNameTooLong, n, l.MaxNameLength)
	}
	return nil
}

// CheckPayload validates a payload size against the limits.
func (l Limits) CheckPayload(n int64) error {
	if n < 0 {
		return core.ErrNegativeLength
	}
	if n > l.MaxPayloadBytes {
		return fmt.Errorf("%w: declared %d, limit %d", core.ErrPayloadTooLarge, n, l.MaxPayloadBytes)
	}
	return nil
}

// WriteHeader writes the first three fields for a message carrying
// payloadSize payload bytes. The caller streams the payload afterwards.
func WriteHeader(w io.Writer, name string, payloadSize int64, limits Limits) error {
	limits = limits.WithDefaults()
	if err := limits.CheckName(len(name)); err != nil {
		return err
	}
	if err := limits.CheckPayload(payloadSize); err != nil {
		return err
	}

	var buf [NameLengthFieldSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(name)))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write name length: %w", err)
	}
	if _, err := io.WriteString(w, name); err != nil {
		return fmt.Errorf("write name: %w", err)
	}
	var sbuf [PayloadSizeFieldSize]byte
	binary.BigEndian.PutUint64(sbuf[:], uint64(payloadSize))
	if _, err := w.Write(sbuf[:]); err != nil {
		return fmt.Errorf("write payload size: %w", err)
	}
	return nil
}

// ReadNameLength reads the leading name length field. io.EOF is returned
// untouched when the stream ends cleanly before the first byte, so the
// caller can tell a finished peer from a truncated field
// (io.ErrUnexpectedEOF).
func ReadNameLength(r io.Reader) (int32, error) {
	var buf [NameLengthFieldSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// ReadName reads exactly n name bytes.
func ReadName(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadPayloadSize reads the payload size field.
func ReadPayloadSize(r io.Reader) (int64, error) {
	var buf [PayloadSizeFieldSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
