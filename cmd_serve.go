package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lookout/internal"
	"lookout/internal/journal"
	"lookout/pkg/analyzer"
	"lookout/pkg/api"
	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event listener until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := internal.NewLogger("server", config.Logging.Level, config.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	recorder, metricsHandler, err := internal.NewRecorder(config.AppConfig)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithWorkers(config.Server.Workers),
		server.WithLogger(logger),
		server.WithMetrics(recorder),
	}

	if config.Watermill.Enabled {
		engine, err := internal.NewRuleEngine(internal.RulesConfig{
			Rules:  config.Rules,
			Strict: config.RulesStrict,
			Logger: logger.Named("rules"),
		})
		if err != nil {
			return err
		}
		publisher, err := internal.NewPublisher(config.Watermill, internal.NewWatermillLogger(logger.Named("watermill")))
		if err != nil {
			return err
		}
		forwarder := internal.NewForwarder(engine, publisher, logger.Named("forwarder"))
		defer func() {
			if err := forwarder.Close(); err != nil {
				logger.Warnw("close publisher", "error", err)
			}
		}()
		opts = append(opts, server.WithListener(forwarder.Listener()))
	}

	var routes []internal.OpsRoute
	if config.Journal.Enabled {
		store, err := journal.Open(journal.Config{
			Driver:      config.Journal.Driver,
			DSN:         config.Journal.DSN,
			Table:       config.Journal.Table,
			AutoMigrate: config.Journal.AutoMigrate,
		}, logger.Named("journal"))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, server.WithListener(store.Listener()))
		routes = append(routes, internal.OpsRoute{
			Path:    "/calls",
			Handler: &api.CallsHandler{Store: store, Logger: logger.Named("api")},
		})
	}

	handlers := analyzer.NewHandlers(config.Analyzer.Version, loggingFactory(logger), analyzer.WithLogger(logger))
	srv := server.NewEventListener(config.Server.Address, handlers, opts...)
	if err := srv.Start(); err != nil {
		return err
	}

	var ops *http.Server
	if config.Server.MetricsAddress != "" {
		ops = internal.NewOpsServer(config.AppConfig, metricsHandler, routes...)
		go func() {
			logger.Infof("ops endpoints listening on %s", ops.Addr)
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("ops server failed", "error", err)
			}
		}()
	}

	srv.Block(ctx)
	srv.Stop(false)

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("ops shutdown", "error", err)
		}
	}
	return nil
}

// loggingAnalyzer acknowledges reviews without commenting. It is the
// analyzer used when the binary runs on its own.
type loggingAnalyzer struct {
	log *zap.SugaredLogger
	url string
}

func loggingFactory(log *zap.SugaredLogger) analyzer.Factory {
	return func(_ analyzer.Model, url string, _ map[string]interface{}) (analyzer.Analyzer, error) {
		return loggingAnalyzer{log: log, url: url}, nil
	}
}

func (a loggingAnalyzer) Analyze(ctx context.Context, from, to string) ([]*events.Comment, error) {
	slogging.Logger(ctx, a.log).Infow("review received", "repository", a.url, "from", from, "to", to)
	return nil, nil
}
