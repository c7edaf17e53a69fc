package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/device"
	"firestige.xyz/iris/internal/log"
	"firestige.xyz/iris/internal/metrics"
)

// FrameWriter consumes one frame synchronously. The payload slice is only
// valid for the duration of the call; it references device memory that is
// requeued as soon as WriteFrame returns.
type FrameWriter interface {
	WriteFrame(name string, payload []byte) error
}

// LoopConfig tunes a capture run.
type LoopConfig struct {
	// Frames is the number of frames to capture before the run ends.
	Frames int
	// WaitTimeout bounds each readiness wait. A timeout is logged and
	// the wait restarts; it never fails the run.
	WaitTimeout time.Duration
	// NamePrefix and NameSuffix form the sequential frame names,
	// <prefix><seq><suffix>.
	NamePrefix string
	NameSuffix string
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.Frames <= 0 {
		c.Frames = 10
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Second
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "frame_"
	}
	if c.NameSuffix == "" {
		c.NameSuffix = ".raw"
	}
	return c
}

// Loop pulls filled buffers from the ring and hands each one to the
// writer before acquiring the next. Transmission is deliberately
// synchronous: the network send is the only backpressure, and a stalled
// send stalls capture cadence rather than growing a queue.
type Loop struct {
	dev    device.Device
	ring   *Ring
	writer FrameWriter
	cfg    LoopConfig
	logger log.Logger
}

// NewLoop builds a capture loop over an initialized ring.
func NewLoop(dev device.Device, ring *Ring, writer FrameWriter, cfg LoopConfig) *Loop {
	return &Loop{
		dev:    dev,
		ring:   ring,
		writer: writer,
		cfg:    cfg.withDefaults(),
		logger: log.GetLogger().WithField("component", "capture"),
	}
}

// Run captures cfg.Frames frames. It returns nil when the target count is
// reached, ctx.Err() on cancellation, and a fatal error otherwise.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.dev.StartStreaming(); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	defer func() {
		if err := l.dev.StopStreaming(); err != nil {
			l.logger.WithError(err).Warn("stop streaming failed")
		}
	}()

	remaining := l.cfg.Frames
	seq := 0
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ready, err := l.dev.WaitReadiness(l.cfg.WaitTimeout)
		if err != nil {
			return fmt.Errorf("readiness wait: %w", err)
		}
		if !ready {
			metrics.CaptureWaitTimeoutsTotal.Inc()
			l.logger.Debug("readiness wait timed out, retrying")
			continue
		}

		buf, err := l.ring.Acquire()
		if errors.Is(err, core.ErrNotReady) {
			continue
		}
		if err != nil {
			return err
		}

		name := fmt.Sprintf("%s%d%s", l.cfg.NamePrefix, seq, l.cfg.NameSuffix)
		payload := buf.Data[:buf.Used]
		werr := l.writer.WriteFrame(name, payload)
		// The buffer goes back to the device whether or not the send
		// worked; its content has been consumed either way.
		l.ring.Release(buf)
		if werr != nil {
			metrics.FrameSendErrorsTotal.Inc()
			return fmt.Errorf("send frame %q: %w", name, werr)
		}

		metrics.FramesCapturedTotal.Inc()
		metrics.FrameBytesSentTotal.Add(float64(len(payload)))
		l.logger.WithFields(map[string]interface{}{
			"name": name,
			"size": len(payload),
		}).Info("frame sent")

		seq++
		remaining--
	}
	return nil
}
