// Command editor-server hosts the energy network editor: the gRPC
// EditorService, the browser websocket and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/energy-network-editor/internal/config"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

var (
	cfgPath string
	cfg     *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "editor-server",
		Short: "Energy network topology editor",
		Long:  "Serves editing commands for energy network models and pushes projection updates to map clients.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a config file (default ./editor.yaml if present)")

	root.AddCommand(
		serveCmd(),
		inspectCmd(),
		journalCmd(),
	)
	return root
}

func newLogger() logging.Logger {
	if cfg == nil {
		return logging.NewFromEnv()
	}
	return logging.New(cfg.LoggerConfig())
}
