package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/iris/internal/metrics"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/server"
	"firestige.xyz/iris/internal/sink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive frame streams and persist one file per message",
	Long: `
Listen for producer connections, parse the frame message stream and write
each message to its own file in the output directory.

Examples:
  iris serve                    # serve using config.yaml
  iris serve -c receiver.yaml   # serve using receiver.yaml
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

		disk, err := sink.NewDisk(cfg.Server.OutputDir)
		if err != nil {
			return err
		}

		srv := server.New(disk, server.Config{
			Listen:      cfg.Server.Listen,
			MaxSessions: cfg.Server.MaxSessions,
			ChunkSize:   cfg.Server.ChunkSize,
			Limits: protocol.Limits{
				MaxNameLength:   cfg.Server.MaxNameLength,
				MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
			},
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
