package receive

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/sink"
)

func message(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteHeader(&buf, name, int64(len(payload)), protocol.Limits{}))
	buf.Write(payload)
	return buf.Bytes()
}

func newDisk(t *testing.T) (*sink.Disk, string) {
	t.Helper()
	dir := t.TempDir()
	d, err := sink.NewDisk(dir)
	require.NoError(t, err)
	return d, dir
}

func TestRoundTripSingleMessage(t *testing.T) {
	d, dir := newDisk(t)

	payload := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(payload)
	stream := message(t, "frame_0.raw", payload)

	rx := New(d, Config{ChunkSize: 512})
	completed, err := rx.Run(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	got, err := os.ReadFile(filepath.Join(dir, "frame_0.raw"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestZeroPayloadCreatesEmptyFile(t *testing.T) {
	d, dir := newDisk(t)

	// The stream ends immediately after the size field: a zero payload
	// must reach Done without issuing a single payload read.
	stream := message(t, "a.raw", nil)

	rx := New(d, Config{})
	completed, err := rx.Run(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	info, err := os.Stat(filepath.Join(dir, "a.raw"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestBackToBackMessagesOnOneConnection(t *testing.T) {
	d, dir := newDisk(t)

	first := bytes.Repeat([]byte{0xAA}, 5000)
	second := bytes.Repeat([]byte{0x55}, 123)
	stream := append(message(t, "one.raw", first), message(t, "two.raw", second)...)

	rx := New(d, Config{ChunkSize: 256})
	completed, err := rx.Run(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 2, completed)

	got1, err := os.ReadFile(filepath.Join(dir, "one.raw"))
	require.NoError(t, err)
	assert.Equal(t, first, got1)

	got2, err := os.ReadFile(filepath.Join(dir, "two.raw"))
	require.NoError(t, err)
	assert.Equal(t, second, got2)
}

func TestCleanEndOfStreamIsNotAnError(t *testing.T) {
	d, _ := newDisk(t)

	rx := New(d, Config{})
	completed, err := rx.Run(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, completed)
}

func TestEmptyNameIsRejected(t *testing.T) {
	d, _ := newDisk(t)

	// nameLength = 0 is a defined rejection, not an empty-name file.
	var stream bytes.Buffer
	var field [4]byte
	binary.BigEndian.PutUint32(field[:], 0)
	stream.Write(field[:])

	rx := New(d, Config{})
	completed, err := rx.Run(&stream)
	assert.ErrorIs(t, err, core.ErrTransferAborted)
	assert.ErrorIs(t, err, core.ErrEmptyName)
	assert.Zero(t, completed)
}

func TestOversizedDeclarationsRejectedBeforeRead(t *testing.T) {
	d, _ := newDisk(t)

	// The declared name length exceeds the limit and the stream carries
	// no further bytes: the receiver must reject the declaration rather
	// than attempt the read.
	var stream bytes.Buffer
	var field [4]byte
	binary.BigEndian.PutUint32(field[:], 300)
	stream.Write(field[:])

	rx := New(d, Config{Limits: protocol.Limits{MaxNameLength: 255}})
	_, err := rx.Run(&stream)
	assert.ErrorIs(t, err, core.ErrTransferAborted)
	assert.ErrorIs(t, err, core.ErrNameTooLong)

	// Same for the payload size field.
	full := message(t, "big.raw", nil)
	binary.BigEndian.PutUint64(full[len(full)-8:], 1<<40)
	rx = New(d, Config{Limits: protocol.Limits{MaxPayloadBytes: 1 << 20}})
	_, err = rx.Run(bytes.NewReader(full))
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)
}

func TestDisconnectAfterSizeField(t *testing.T) {
	d, dir := newDisk(t)

	// Header declares 100 payload bytes; the stream ends before any
	// arrive. The file is created, closed empty, and the session aborts.
	var stream bytes.Buffer
	require.NoError(t, protocol.WriteHeader(&stream, "cut.raw", 100, protocol.Limits{}))

	rx := New(d, Config{})
	completed, err := rx.Run(&stream)
	assert.ErrorIs(t, err, core.ErrTransferAborted)
	assert.Zero(t, completed)

	info, err := os.Stat(filepath.Join(dir, "cut.raw"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestTruncatedPayloadKeepsPartialFile(t *testing.T) {
	d, dir := newDisk(t)

	payload := bytes.Repeat([]byte{0x42}, 100)
	full := message(t, "part.raw", payload)
	truncated := full[:len(full)-60] // 40 payload bytes arrive

	rx := New(d, Config{ChunkSize: 16})
	completed, err := rx.Run(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, core.ErrTransferAborted)
	assert.Zero(t, completed)

	// Partial content stays on disk as-is; no cleanup pass.
	got, err := os.ReadFile(filepath.Join(dir, "part.raw"))
	require.NoError(t, err)
	assert.Equal(t, payload[:40], got)
}

func TestAbortDoesNotPoisonNextSession(t *testing.T) {
	d, dir := newDisk(t)

	// First session aborts mid-payload.
	bad := message(t, "bad.raw", bytes.Repeat([]byte{1}, 50))
	rx := New(d, Config{})
	_, err := rx.Run(bytes.NewReader(bad[:len(bad)-10]))
	require.ErrorIs(t, err, core.ErrTransferAborted)

	// A fresh receiver on a fresh stream works normally.
	good := message(t, "good.raw", []byte("ok"))
	rx = New(d, Config{})
	completed, err := rx.Run(bytes.NewReader(good))
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	got, err := os.ReadFile(filepath.Join(dir, "good.raw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestParseStateStrings(t *testing.T) {
	states := map[ParseState]string{
		StateAwaitNameLength: "await-name-length",
		StateAwaitName:       "await-name",
		StateAwaitSize:       "await-size",
		StateAwaitPayload:    "await-payload",
		StateDone:            "done",
	}
	for state, want := range states {
		assert.Equal(t, want, state.String())
	}
}
