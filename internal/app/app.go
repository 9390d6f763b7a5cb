// Package app assembles the long lived services shared by the command line
// entry points.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/soundbird/internal/analysis"
	"github.com/tphakala/soundbird/internal/analyzer"
	"github.com/tphakala/soundbird/internal/birdnet"
	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/lifecycle"
	"github.com/tphakala/soundbird/internal/logger"
	"github.com/tphakala/soundbird/internal/notify"
	"github.com/tphakala/soundbird/internal/observability"
)

const telemetryFlushTimeout = 2 * time.Second

// Context carries the settings and ambient services of one process.
type Context struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics

	central *logger.CentralLogger
	closers []func()
}

// New builds the logger, telemetry and metrics described by settings.
func New(settings *conf.Settings) (*Context, error) {
	logCfg := settings.Logging
	if settings.Debug {
		logCfg.DefaultLevel = "debug"
		logCfg.Console.Level = "debug"
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	c := &Context{
		Settings: settings,
		Log:      central.Module("main"),
		central:  central,
	}

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Version); err != nil {
			c.Log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			c.closers = append(c.closers, func() { errors.FlushTelemetry(telemetryFlushTimeout) })
		}
	}

	if settings.Metrics.Enabled {
		metrics, err := observability.NewMetrics()
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Metrics = metrics
	}
	return c, nil
}

// Close releases everything opened through c, newest first.
func (c *Context) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
	if err := c.central.Close(); err != nil {
		fmt.Printf("failed to close log file: %v\n", err)
	}
}

func (c *Context) onClose(f func()) {
	c.closers = append(c.closers, f)
}

// Analyzer loads the classifier. It is closed with c.
func (c *Context) Analyzer() (*analyzer.Adapter, error) {
	bn, err := birdnet.New(&c.Settings.BirdNET, c.Log)
	if err != nil {
		return nil, err
	}
	c.onClose(func() {
		if err := bn.Close(); err != nil {
			c.Log.Warn("failed to close classifier", logger.Error(err))
		}
	})
	return analyzer.New(bn, c.Settings.BirdNET.MinConfidence, c.Log), nil
}

// Store opens the database. It is closed with c.
func (c *Context) Store(ctx context.Context) (*datastore.Store, error) {
	var opts []datastore.Option
	if c.Metrics != nil {
		opts = append(opts, datastore.WithObserver(c.Metrics.Datastore))
	}
	store, err := datastore.Open(ctx, &c.Settings.Database, c.Log, opts...)
	if err != nil {
		return nil, err
	}
	c.onClose(func() {
		if err := store.Close(); err != nil {
			c.Log.Warn("failed to close database", logger.Error(err))
		}
	})
	return store, nil
}

// Notifier connects the MQTT publisher when it is enabled. A broker that
// cannot be reached is logged and uploads proceed without events.
func (c *Context) Notifier(ctx context.Context) analysis.Notifier {
	if !c.Settings.MQTT.Enabled {
		return nil
	}
	pub := notify.NewMQTTPublisher(&c.Settings.MQTT, c.Settings.Main.Name, c.Log)
	if err := pub.Connect(ctx); err != nil {
		c.Log.Warn("MQTT publishing disabled", logger.Error(err))
		return nil
	}
	c.onClose(pub.Close)
	return pub
}

// Processor wires the analysis pipeline over store. A nil store yields a
// processor suitable only for directory runs.
func (c *Context) Processor(ctx context.Context, store *datastore.Store) (*analysis.Processor, error) {
	az, err := c.Analyzer()
	if err != nil {
		return nil, err
	}

	cfg := analysis.Config{
		TempDir:         c.Settings.Upload.TempDir,
		StrictFilenames: c.Settings.Upload.StrictFilenames,
		NodeName:        c.Settings.Main.Name,
	}
	var opts []analysis.Option
	if c.Metrics != nil {
		opts = append(opts, analysis.WithObserver(c.Metrics.Analysis))
	}
	if store == nil {
		return analysis.NewProcessor(cfg, az, nil, nil, c.Log, opts...), nil
	}

	if n := c.Notifier(ctx); n != nil {
		opts = append(opts, analysis.WithNotifier(n))
	}
	manager := lifecycle.NewManager(store.Recordings(), c.Log)
	return analysis.NewProcessor(cfg, az, manager, store.Detections(), c.Log, opts...), nil
}
