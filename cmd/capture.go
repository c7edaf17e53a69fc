package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/iris/internal/capture"
	"firestige.xyz/iris/internal/config"
	"firestige.xyz/iris/internal/device"
	"firestige.xyz/iris/internal/log"
	"firestige.xyz/iris/internal/metrics"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/snapshot"
	"firestige.xyz/iris/internal/transmit"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames from the device and stream them to the server",
	Long: `
Capture frames and stream them to the receiving server.

Examples:
  iris capture                  # capture using config.yaml
  iris capture -c edge.yaml     # capture using edge.yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndInit()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			ms := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := ms.Start(); err != nil {
				return err
			}
			defer ms.Stop()
		}

		if strings.EqualFold(cfg.Capture.Source, "snapshot") {
			return runSnapshotCapture(ctx, cfg)
		}
		return runDeviceCapture(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

// runDeviceCapture drives the memory-mapped buffer ring pipeline.
func runDeviceCapture(ctx context.Context, cfg *config.GlobalConfig) error {
	source, err := device.ParseSource(cfg.Capture.Source)
	if err != nil {
		return err
	}
	format, err := device.ParsePixelFormat(cfg.Capture.PixelFormat)
	if err != nil {
		return err
	}

	dev, err := device.Open(source, device.Options{
		Path:  cfg.Capture.Device,
		Extra: cfg.Capture.Options,
	})
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	if err := dev.NegotiateFormat(cfg.Capture.Width, cfg.Capture.Height, format); err != nil {
		return fmt.Errorf("negotiate format: %w", err)
	}

	ring, err := capture.NewRing(dev, cfg.Capture.Buffers)
	if err != nil {
		return err
	}
	defer ring.Close()

	tx, err := transmit.Dial(ctx, cfg.Capture.Server, protocol.Limits{})
	if err != nil {
		return err
	}
	defer tx.Close()

	loop := capture.NewLoop(dev, ring, tx, capture.LoopConfig{
		Frames:      cfg.Capture.Frames,
		WaitTimeout: cfg.Capture.WaitTimeout,
		NamePrefix:  cfg.Capture.NamePrefix,
		NameSuffix:  cfg.Capture.NameSuffix,
	})
	if err := loop.Run(ctx); err != nil {
		return err
	}
	log.GetLogger().WithField("frames", cfg.Capture.Frames).Info("capture run complete")
	return nil
}

// runSnapshotCapture grabs stills through the external utility and sends
// each resulting file over the same connection.
func runSnapshotCapture(ctx context.Context, cfg *config.GlobalConfig) error {
	grabber := snapshot.NewGrabber(snapshot.Config{
		Binary:      cfg.Capture.Snapshot.Binary,
		Device:      cfg.Capture.Device,
		Resolution:  cfg.Capture.Snapshot.Resolution,
		JPEGQuality: cfg.Capture.Snapshot.JPEGQuality,
		OutputDir:   cfg.Capture.Snapshot.Dir,
	})

	tx, err := transmit.Dial(ctx, cfg.Capture.Server, protocol.Limits{})
	if err != nil {
		return err
	}
	defer tx.Close()

	logger := log.GetLogger().WithField("component", "capture")
	for i := 0; i < cfg.Capture.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("%s%d.jpg", cfg.Capture.NamePrefix, i)
		path, err := grabber.Grab(ctx, name)
		if err != nil {
			// A failed grab skips this frame; the utility may recover.
			logger.WithError(err).Warn("frame acquisition failed")
			continue
		}
		if err := tx.SendFile(path); err != nil {
			return err
		}
		logger.WithField("name", name).Info("frame sent")
	}
	return nil
}
