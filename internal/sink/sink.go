// Package sink persists received messages, one output per message.
package sink

import "io"

// Sink is a destination for received messages. Open returns a writer for
// one message; the caller must close it exactly once, including on the
// abort path.
type Sink interface {
	Open(name string) (io.WriteCloser, error)
}
