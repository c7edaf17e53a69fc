// Package core defines the sentinel errors shared across the agent.
package core

import "errors"

// Sentinel errors. Callers match with errors.Is.
var (
	// Device errors
	ErrNotReady     = errors.New("iris: no filled buffer available")
	ErrDeviceClosed = errors.New("iris: device closed")

	// Ring errors
	ErrRingClosed  = errors.New("iris: buffer ring closed")
	ErrBufferState = errors.New("iris: buffer not in expected state")

	// Protocol errors
	ErrEmptyName       = errors.New("iris: empty frame name")
	ErrNameTooLong     = errors.New("iris: frame name exceeds limit")
	ErrPayloadTooLarge = errors.New("iris: payload size exceeds limit")
	ErrNegativeLength  = errors.New("iris: negative length field")

	// Session errors
	ErrTransferAborted = errors.New("iris: transfer aborted mid-message")

	// Configuration errors
	ErrConfigInvalid = errors.New("iris: invalid configuration")
)
