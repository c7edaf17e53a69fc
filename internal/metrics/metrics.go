// Package metrics implements Prometheus metrics for both pipeline ends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesCapturedTotal counts frames pulled from the device ring.
	FramesCapturedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_frames_captured_total",
			Help: "Total number of frames captured from the device",
		},
	)

	// FrameBytesSentTotal counts payload bytes written to the wire.
	FrameBytesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_frame_bytes_sent_total",
			Help: "Total number of frame payload bytes sent",
		},
	)

	// FrameSendErrorsTotal counts frames whose transmission failed. A
	// send failure aborts the capture run, so this moves at most once per
	// run.
	FrameSendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_frame_send_errors_total",
			Help: "Total number of frame transmissions that failed",
		},
	)

	// CaptureWaitTimeoutsTotal counts readiness waits that timed out.
	// Timeouts are retried, not treated as errors.
	CaptureWaitTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_capture_wait_timeouts_total",
			Help: "Total number of device readiness waits that timed out",
		},
	)

	// SessionsTotal counts accepted receiver connections.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_sessions_total",
			Help: "Total number of accepted transfer sessions",
		},
	)

	// ActiveSessions tracks currently open receiver connections.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iris_active_sessions",
			Help: "Number of transfer sessions currently open",
		},
	)

	// MessagesReceivedTotal counts fully received messages (files).
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_messages_received_total",
			Help: "Total number of complete messages persisted to disk",
		},
	)

	// BytesReceivedTotal counts payload bytes written to disk.
	BytesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iris_bytes_received_total",
			Help: "Total number of payload bytes written to disk",
		},
	)

	// TransferAbortsTotal counts sessions ended mid-message.
	TransferAbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iris_transfer_aborts_total",
			Help: "Total number of transfers aborted mid-message",
		},
		[]string{"reason"},
	)
)
