// Package snapshot implements the alternate acquisition path: a still
// image grabbed by an external capture utility instead of a mapped
// device buffer. The transmitter's SendFile contract makes the two paths
// interchangeable.
package snapshot

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"firestige.xyz/iris/internal/log"
)

// Config tunes the external grabber invocation.
type Config struct {
	// Binary is the capture utility. Defaults to fswebcam.
	Binary string
	// Device is the camera device path passed through to the utility.
	Device string
	// Resolution such as "640x480".
	Resolution string
	// JPEGQuality in 1..100.
	JPEGQuality int
	// OutputDir receives the grabbed files.
	OutputDir string
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "fswebcam"
	}
	if c.Resolution == "" {
		c.Resolution = "640x480"
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 85
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c
}

// Grabber shells out to a still-image capture utility.
type Grabber struct {
	cfg    Config
	logger log.Logger
}

// NewGrabber builds a grabber.
func NewGrabber(cfg Config) *Grabber {
	return &Grabber{
		cfg:    cfg.withDefaults(),
		logger: log.GetLogger().WithField("component", "snapshot"),
	}
}

// Args returns the utility invocation for one grab. Split out so the
// command line is testable without a camera.
func (g *Grabber) Args(path string) []string {
	args := []string{
		"-r", g.cfg.Resolution,
		"--jpeg", fmt.Sprint(g.cfg.JPEGQuality),
		"--no-banner",
		"-q",
	}
	if g.cfg.Device != "" {
		args = append(args, "-d", g.cfg.Device)
	}
	return append(args, path)
}

// Grab captures one still image named name under the output directory
// and returns its path.
func (g *Grabber) Grab(ctx context.Context, name string) (string, error) {
	path := filepath.Join(g.cfg.OutputDir, name)
	cmd := exec.CommandContext(ctx, g.cfg.Binary, g.Args(path)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w (output: %s)", g.cfg.Binary, err, out)
	}
	g.logger.WithField("path", path).Debug("frame grabbed")
	return path, nil
}
