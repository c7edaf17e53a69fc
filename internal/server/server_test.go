package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/iris/internal/capture"
	"firestige.xyz/iris/internal/device"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/sink"
	"firestige.xyz/iris/internal/transmit"
)

// startServer runs a server on an ephemeral port and tears it down with
// the test. It returns the dial address and the output directory.
func startServer(t *testing.T, cfg Config) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out, err := sink.NewDisk(dir)
	require.NoError(t, err)

	cfg.Listen = "127.0.0.1:0"
	srv := New(out, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		time.Second, 5*time.Millisecond, "server never bound")

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return srv.Addr().String(), dir
}

func fileEquals(t *testing.T, path string, want []byte) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := os.ReadFile(path)
		return err == nil && bytes.Equal(got, want)
	}, 2*time.Second, 10*time.Millisecond, "waiting for %s", path)
}

func TestServerReceivesBackToBackMessages(t *testing.T) {
	addr, dir := startServer(t, Config{})

	tx, err := transmit.Dial(context.Background(), addr, protocol.Limits{})
	require.NoError(t, err)

	first := bytes.Repeat([]byte{0xAA}, 5000)
	second := bytes.Repeat([]byte{0x55}, 77)
	require.NoError(t, tx.WriteFrame("one.raw", first))
	require.NoError(t, tx.WriteFrame("two.raw", second))
	require.NoError(t, tx.Close())

	fileEquals(t, filepath.Join(dir, "one.raw"), first)
	fileEquals(t, filepath.Join(dir, "two.raw"), second)
}

func TestServerSurvivesAbortedSession(t *testing.T) {
	addr, dir := startServer(t, Config{})

	// First peer declares 100 payload bytes, delivers 30, and drops. The
	// session aborts; the server keeps the partial file and keeps
	// accepting.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteHeader(conn, "cut.raw", 100, protocol.Limits{}))
	partial := bytes.Repeat([]byte{0x42}, 30)
	_, err = conn.Write(partial)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	fileEquals(t, filepath.Join(dir, "cut.raw"), partial)

	// A fresh session on the same server completes normally.
	tx, err := transmit.Dial(context.Background(), addr, protocol.Limits{})
	require.NoError(t, err)
	require.NoError(t, tx.WriteFrame("ok.raw", []byte("ok")))
	require.NoError(t, tx.Close())

	fileEquals(t, filepath.Join(dir, "ok.raw"), []byte("ok"))
}

func TestServerEndToEndSyntheticCapture(t *testing.T) {
	addr, dir := startServer(t, Config{})

	const frameBytes = 4096
	dev, err := device.Open(device.SourceSynthetic, device.Options{
		Extra: map[string]interface{}{
			"frame_bytes": frameBytes,
			"interval":    time.Millisecond,
		},
	})
	require.NoError(t, err)
	defer dev.Close()

	ring, err := capture.NewRing(dev, 4)
	require.NoError(t, err)
	defer ring.Close()

	tx, err := transmit.Dial(context.Background(), addr, protocol.Limits{})
	require.NoError(t, err)

	loop := capture.NewLoop(dev, ring, tx, capture.LoopConfig{
		Frames:      5,
		WaitTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, loop.Run(context.Background()))
	require.NoError(t, tx.Close())

	for seq := uint32(0); seq < 5; seq++ {
		used := frameBytes - int(seq%7)*(frameBytes/16)
		want := device.FrameBytesAt(seq, used)
		fileEquals(t, filepath.Join(dir, fmt.Sprintf("frame_%d.raw", seq)), want)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 3, cfg.MaxSessions)
}
