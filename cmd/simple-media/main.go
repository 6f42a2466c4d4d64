// Command simple-media runs the upload API and the transcode engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-media/pkg/simplemedia/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "simple-media",
		Short:         "Media upload and transcode service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file (default: $CONFIG_PATH)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newWorkerCmd(flags),
		newScanCmd(flags),
		newSweepCmd(flags),
	)
	return root
}

// load reads the configuration and installs the JSON logger as the default.
func (f *rootFlags) load(opts ...config.Option) (*config.Config, *slog.Logger, error) {
	if f.logLevel != "" {
		opts = append(opts, config.WithLogLevel(f.logLevel))
	}
	cfg, err := config.Load(f.configPath, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", "simple-media", "environment", cfg.Server.Environment)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
