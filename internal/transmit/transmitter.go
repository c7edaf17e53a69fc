// Package transmit encodes frames onto the outbound stream.
package transmit

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"firestige.xyz/iris/internal/log"
	"firestige.xyz/iris/internal/protocol"
)

// Transmitter writes framed messages to a byte stream. The contract is
// source-agnostic: WriteFrame takes an in-memory region (a mapped device
// buffer), SendFile streams a file's bytes with its size. net.Conn.Write
// completes short writes internally, so each field is a single call that
// either transfers fully or fails.
type Transmitter struct {
	w      io.Writer
	closer io.Closer
	limits protocol.Limits
	chunk  int
	logger log.Logger
}

// Dial connects to the receiving server. A connect failure is fatal to
// the producer; the caller aborts.
func Dial(ctx context.Context, addr string, limits protocol.Limits) (*Transmitter, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	t := NewWriter(conn, limits)
	t.closer = conn
	t.logger.WithField("server", addr).Info("connected")
	return t, nil
}

// NewWriter wraps an existing stream. Used by tests and by callers that
// manage the connection themselves.
func NewWriter(w io.Writer, limits protocol.Limits) *Transmitter {
	return &Transmitter{
		w:      w,
		limits: limits.WithDefaults(),
		chunk:  protocol.DefaultChunkSize,
		logger: log.GetLogger().WithField("component", "transmitter"),
	}
}

// WriteFrame sends one message from an in-memory payload.
func (t *Transmitter) WriteFrame(name string, payload []byte) error {
	if err := protocol.WriteHeader(t.w, name, int64(len(payload)), t.limits); err != nil {
		return err
	}
	if _, err := t.w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// SendFile sends one message whose payload is a file's content, streamed
// in chunks so memory use stays bounded regardless of file size. The
// message name is the file's base name.
func (t *Transmitter) SendFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	if err := protocol.WriteHeader(t.w, name, info.Size(), t.limits); err != nil {
		return err
	}
	buf := make([]byte, t.chunk)
	if _, err := io.CopyBuffer(t.w, f, buf); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	return nil
}

// Close closes the underlying connection, if the transmitter owns one.
func (t *Transmitter) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
