// Package receive implements the per-connection stream parser that turns
// inbound frame messages into sink writes.
package receive

import (
	"errors"
	"fmt"
	"io"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/log"
	"firestige.xyz/iris/internal/metrics"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/sink"
)

// ParseState is the receiver position within one message.
type ParseState int

const (
	StateAwaitNameLength ParseState = iota
	StateAwaitName
	StateAwaitSize
	StateAwaitPayload
	StateDone
)

func (s ParseState) String() string {
	switch s {
	case StateAwaitNameLength:
		return "await-name-length"
	case StateAwaitName:
		return "await-name"
	case StateAwaitSize:
		return "await-size"
	case StateAwaitPayload:
		return "await-payload"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config tunes one receiver.
type Config struct {
	Limits    protocol.Limits
	ChunkSize int
}

// Receiver drives the parse state machine for a single connection. It is
// owned by exactly one handler invocation and holds no shared state.
type Receiver struct {
	sink   sink.Sink
	limits protocol.Limits
	chunk  int
	state  ParseState
	logger log.Logger
}

// New creates a receiver bound to a sink.
func New(s sink.Sink, cfg Config) *Receiver {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = protocol.DefaultChunkSize
	}
	return &Receiver{
		sink:   s,
		limits: cfg.Limits.WithDefaults(),
		chunk:  chunk,
		state:  StateAwaitNameLength,
		logger: log.GetLogger().WithField("component", "receiver"),
	}
}

// State reports the current parse state.
func (rx *Receiver) State() ParseState {
	return rx.state
}

// Run parses messages from r until the peer finishes cleanly or the
// session aborts. It returns the number of completely received messages.
// A clean end of stream is not an error; any mid-message failure wraps
// core.ErrTransferAborted and ends only this session.
func (rx *Receiver) Run(r io.Reader) (int, error) {
	completed := 0
	for {
		err := rx.readMessage(r)
		if err == io.EOF {
			return completed, nil
		}
		if err != nil {
			return completed, err
		}
		completed++
	}
}

// readMessage consumes exactly one message. io.EOF means the stream ended
// cleanly before the message began.
func (rx *Receiver) readMessage(r io.Reader) error {
	rx.state = StateAwaitNameLength

	nameLen, err := protocol.ReadNameLength(r)
	if err == io.EOF {
		// Peer closed between messages: the normal end of a session.
		return io.EOF
	}
	if err != nil {
		return rx.abort("name_length", fmt.Errorf("read name length: %w", err))
	}
	if err := rx.limits.CheckName(int(nameLen)); err != nil {
		return rx.abort("limit", err)
	}

	rx.state = StateAwaitName
	name, err := protocol.ReadName(r, int(nameLen))
	if err != nil {
		return rx.abort("name", fmt.Errorf("read name: %w", err))
	}

	rx.state = StateAwaitSize
	payloadSize, err := protocol.ReadPayloadSize(r)
	if err != nil {
		return rx.abort("size", fmt.Errorf("read payload size: %w", err))
	}
	if err := rx.limits.CheckPayload(payloadSize); err != nil {
		return rx.abort("limit", err)
	}

	out, err := rx.sink.Open(name)
	if err != nil {
		return rx.abort("disk", fmt.Errorf("open output for %q: %w", name, err))
	}

	rx.state = StateAwaitPayload
	received, err := rx.readPayload(r, out, payloadSize)
	// The output is closed exactly once, on both the success and abort
	// paths; partial content is left on disk as-is.
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output for %q: %w", name, cerr)
	}
	if err != nil {
		return rx.abort("payload", err)
	}

	rx.state = StateDone
	metrics.MessagesReceivedTotal.Inc()
	metrics.BytesReceivedTotal.Add(float64(received))
	rx.logger.WithFields(map[string]interface{}{
		"name": name,
		"size": received,
	}).Info("message received")
	return nil
}

// readPayload streams exactly want payload bytes into out in chunk-sized
// pieces. want == 0 performs no read at all.
func (rx *Receiver) readPayload(r io.Reader, out io.Writer, want int64) (int64, error) {
	buf := make([]byte, rx.chunk)
	var received int64
	for received < want {
		next := int64(rx.chunk)
		if rest := want - received; rest < next {
			next = rest
		}
		n, err := r.Read(buf[:next])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return received, fmt.Errorf("write chunk: %w", werr)
			}
			received += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			if received < want {
				return received, fmt.Errorf("payload truncated at %d of %d bytes: %w", received, want, err)
			}
		}
	}
	return received, nil
}

func (rx *Receiver) abort(reason string, err error) error {
	metrics.TransferAbortsTotal.WithLabelValues(reason).Inc()
	rx.logger.WithError(err).WithField("state", rx.state.String()).Warn("transfer aborted")
	if errors.Is(err, core.ErrTransferAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrTransferAborted, err)
}
