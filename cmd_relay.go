package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"lookout/internal"
	"lookout/pkg/analyzer"
	"lookout/pkg/client"
	"lookout/pkg/server"
)

func newRelayCommand() *cobra.Command {
	var configPath, analyzerAddr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Replay forwarded events into an analyzer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), configPath, analyzerAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&analyzerAddr, "analyzer", "", "address of the analyzer to relay to; events are analyzed in-process when empty")
	return cmd
}

func runRelay(ctx context.Context, configPath, analyzerAddr string) error {
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if analyzerAddr == "" {
		analyzerAddr = config.Relay.Analyzer
	}
	fromRiver := strings.EqualFold(config.Watermill.Driver, "riverqueue")
	if !fromRiver && len(config.Topics()) == 0 {
		return errors.New("relay has no topics: set relay.topics or add rules")
	}

	logger, err := internal.NewLogger("relay", config.Logging.Level, config.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var handlers server.EventHandlers
	if analyzerAddr != "" {
		c, err := client.Dial(analyzerAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		handlers = internal.RemoteHandlers(c)
	} else {
		handlers = analyzer.NewHandlers(config.Analyzer.Version, loggingFactory(logger), analyzer.WithLogger(logger))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var relay interface {
		Run(context.Context) error
		Close() error
	}
	if fromRiver {
		relay, err = internal.NewRiverRelay(ctx, config, handlers, logger)
	} else {
		relay, err = internal.NewRelay(config, handlers, logger)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Warnw("close relay", "error", err)
		}
	}()
	return relay.Run(ctx)
}
