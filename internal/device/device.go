// Package device abstracts the frame capture hardware. The pipeline
// consumes exactly this surface and owns none of its implementation.
package device

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies a device implementation.
type Source string

const (
	SourceV4L2      Source = "v4l2"
	SourceSynthetic Source = "synthetic"
)

// ParseSource converts a string to a Source (case-insensitive).
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v4l2", "video4linux", "video4linux2":
		return SourceV4L2, nil
	case "synthetic", "fake":
		return SourceSynthetic, nil
	default:
		return "", fmt.Errorf("unknown device source: %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for config decoding.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PixelFormat is a FourCC pixel format code.
type PixelFormat uint32

// FourCC builds a pixel format code from its four characters.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	PixelFormatMJPEG = FourCC('M', 'J', 'P', 'G')
	PixelFormatYUYV  = FourCC('Y', 'U', 'Y', 'V')
)

// ParsePixelFormat converts a four character string such as "MJPG".
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "MJPEG" {
		s = "MJPG"
	}
	if len(s) != 4 {
		return 0, fmt.Errorf("pixel format must be a FourCC code, got %q", s)
	}
	return FourCC(s[0], s[1], s[2], s[3]), nil
}

// BufferDescriptor describes one driver-allocated buffer before mapping.
type BufferDescriptor struct {
	Index  uint32
	Length uint32
	Offset uint32
}

// Device is the capture hardware collaborator. Implementations are not
// safe for concurrent use; the producer owns the device exclusively.
type Device interface {
	// NegotiateFormat requests frame dimensions and pixel format.
	NegotiateFormat(width, height uint32, format PixelFormat) error

	// RequestBuffers asks the driver for count memory-mappable buffers.
	// The driver may grant a different count.
	RequestBuffers(count uint32) ([]BufferDescriptor, error)

	// MapBuffer maps one buffer into process memory without copying.
	MapBuffer(desc BufferDescriptor) ([]byte, error)

	// UnmapBuffer releases a mapping created by MapBuffer.
	UnmapBuffer(region []byte) error

	// EnqueueEmpty hands a buffer back to the driver's fill queue.
	EnqueueEmpty(index uint32) error

	// DequeueFilled withdraws the next filled buffer. Returns
	// core.ErrNotReady when no buffer is filled yet.
	DequeueFilled() (index uint32, bytesUsed uint32, err error)

	// WaitReadiness blocks until a filled buffer is available or the
	// timeout elapses. ready is false on timeout; a timeout is not an
	// error.
	WaitReadiness(timeout time.Duration) (ready bool, err error)

	StartStreaming() error
	StopStreaming() error
	Close() error
}
