package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Disk writes each message to a standalone file under a base directory.
// An existing file with the same name is overwritten. Chunks are handed
// to the write call as they arrive; there is no extra buffering layer,
// so resident memory stays bounded by the caller's chunk size.
type Disk struct {
	dir string
}

// NewDisk creates the sink, creating the directory if needed.
func NewDisk(dir string) (*Disk, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Open creates the output file for one message. The received name is
// reduced to its base so a peer cannot write outside the directory.
func (d *Disk) Open(name string) (io.WriteCloser, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return nil, fmt.Errorf("unusable message name %q", name)
	}
	f, err := os.Create(filepath.Join(d.dir, base))
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

// Dir returns the base directory.
func (d *Disk) Dir() string {
	return d.dir
}
