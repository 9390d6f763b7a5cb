// Package serve implements the command that runs the HTTP API.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/soundbird/internal/api"
	"github.com/tphakala/soundbird/internal/app"
	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/logger"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the HTTP API that accepts recordings for analysis and serves stored detections.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "Interface to listen on, empty for all")
	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", viper.GetString("webserver.port"), "Port to listen on")
	cmd.Flags().StringVar(&settings.Database.URL, "database-url", viper.GetString("database.url"), "Database URL: sqlite://path, mysql://... or postgres://...")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")

	return cmd
}

func run(parent context.Context, settings *conf.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(settings)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := rt.Store(ctx)
	if err != nil {
		return err
	}
	processor, err := rt.Processor(ctx, store)
	if err != nil {
		return err
	}

	opts := []api.ServerOption{api.WithLogger(rt.Log)}
	if rt.Metrics != nil {
		opts = append(opts, api.WithMetrics(rt.Metrics))
	}
	server, err := api.New(settings, api.Dependencies{
		Detections: store.Detections(),
		Recordings: store.Recordings(),
		Processor:  processor,
		Database:   store,
	}, opts...)
	if err != nil {
		return err
	}

	rt.Log.Info("SoundBird started",
		logger.String("version", settings.Version),
		logger.String("node", settings.Main.Name))
	return server.Run(ctx)
}
