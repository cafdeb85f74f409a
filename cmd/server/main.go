package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"espc3d/internal/broadcast"
	"espc3d/internal/bus"
	"espc3d/internal/config"
	"espc3d/internal/grpcserver"
	"espc3d/internal/ingest"
	"espc3d/internal/observability"
	"espc3d/internal/registry"
	"espc3d/internal/server"
	"espc3d/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "espc3d",
		Short:         "Relay ESPresense companion tracker positions to browsers over SSE",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.NewLogger(cfg.LogLevel)
			slog.SetDefault(logger)
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("espc3d stopped", "err", err)
				return err
			}
			return nil
		},
	}

	bindFlags(cmd.Flags(), &cfg)

	return cmd
}

// bindFlags overlays command-line flags on the environment defaults.
func bindFlags(f *pflag.FlagSet, cfg *config.Config) {
	f.StringVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP port for the viewer and /updates")
	f.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus metrics port")
	f.StringVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC health port (empty disables)")
	f.StringVar(&cfg.CompanionAPI, "api", cfg.CompanionAPI, "ESPresense companion base URL")
	f.StringVar(&cfg.ConfigFile, "config-file", cfg.ConfigFile, "read the companion config from a local file instead of the API")
	f.StringVar(&cfg.PublicDir, "public", cfg.PublicDir, "directory of static viewer files")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.DurationVar(&cfg.SendInterval, "send-interval", cfg.SendInterval, "snapshot interval per stream")
	f.BoolVar(&cfg.PushOnUpdate, "push-on-update", cfg.PushOnUpdate, "also send a snapshot as soon as a tracker changes")
	f.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT subscription filter")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "inbound message queue capacity")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the last-known mirror (empty disables)")
	f.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")
}

// trackerEvents is the in-process bus for tracker.updated. It is nil unless
// streams are pushed on update, so ingest publishes nothing otherwise.
func trackerEvents(cfg config.Config, logger *slog.Logger) *gochannel.GoChannel {
	if !cfg.PushOnUpdate {
		return nil
	}
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting espc3d", "port", cfg.HTTPPort, "interval", cfg.SendInterval.String())

	companion, err := config.LoadCompanion(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "load companion config")
	}
	logger.Info("companion config loaded", "broker", companion.MQTT.BrokerURL(), "floors", len(companion.Floors))

	opts := ingest.Options{QueueSize: cfg.QueueSize, Logger: logger}
	var mirror *store.Store
	if cfg.RedisAddr != "" {
		mirror, err = store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			return err
		}
		defer mirror.Close()
		opts.Mirror = mirror
	}

	events := trackerEvents(cfg, logger)
	if events != nil {
		defer events.Close()
		opts.Events = events
	}

	reg := registry.New()
	ing := ingest.New(reg, opts)
	if mirror != nil {
		recs, err := mirror.LoadTrackers(ctx)
		if err != nil {
			logger.Warn("mirror warm start failed", "err", err)
		}
		ing.Warm(recs)
	}

	hub := broadcast.NewHub(reg, cfg.SendInterval, clockwork.NewRealClock(), logger)
	var updates <-chan *message.Message
	if events != nil {
		updates, err = events.Subscribe(ctx, ingest.TopicTrackerUpdated)
		if err != nil {
			return errors.Wrap(err, "subscribe tracker events")
		}
	}

	var health *grpcserver.Server
	if cfg.GRPCPort != "" {
		health = grpcserver.New(":"+cfg.GRPCPort, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ing.Run(gctx) })
	if updates != nil {
		g.Go(func() error {
			hub.Watch(gctx, updates)
			return nil
		})
	}

	sub := bus.NewSubscriber(companion.MQTT, cfg.MQTTTopic, cfg.MQTTTimeout, ing, logger)
	if health != nil {
		sub.OnStatus(health.SetServing)
	}
	if err := sub.Connect(gctx); err != nil {
		logger.Warn("mqtt not connected yet", "err", err)
	}

	srv := server.NewServer(hub, companion.RawFloors, cfg.PublicDir, logger)
	g.Go(func() error { return srv.Start(gctx, ":"+cfg.HTTPPort) })
	g.Go(func() error { return observability.StartMetricsServer(gctx, cfg.MetricsPort) })
	if health != nil {
		g.Go(func() error { return health.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sub.Close()
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "serve")
	}
	logger.Info("espc3d stopped cleanly")
	return nil
}
