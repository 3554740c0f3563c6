package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/redisfeed/admin"
	"github.com/maxpert/redisfeed/cfg"
	"github.com/maxpert/redisfeed/cursor"
	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/notify"
	"github.com/maxpert/redisfeed/sink"
	"github.com/maxpert/redisfeed/store"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/maxpert/redisfeed/transport"
	"github.com/maxpert/redisfeed/trigger"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsInterval = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

// feedStats feeds the metrics collector
type feedStats struct {
	*feed.Registry
	*trigger.Manager
}

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()

	log.Info().Msg("redisfeed - Redis trigger feed")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	st, err := store.Open(cfg.Config.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
		return
	}
	defer st.Close()

	cache, closeCache, err := openCursorCache(st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cursor cache")
		return
	}
	defer closeCache()

	out, err := sink.New(cfg.Config.Sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sink")
		return
	}
	defer out.Close()

	manager, err := trigger.NewManager(trigger.Config{
		Sink:        out,
		TopicPrefix: cfg.Config.Sink.TopicPrefix,
		Format:      cfg.Config.Sink.Format,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trigger manager")
		return
	}

	hub := notify.NewHub()
	defer hub.Close()
	dialer := transport.NewDialer(hub)

	registry, err := feed.NewRegistry(feed.RegistryConfig{
		Dialer:           dialer,
		Manager:          manager,
		Cache:            cache,
		StreamBlock:      cfg.StreamBlock(),
		SubscribeTimeout: cfg.SubscribeTimeout(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trigger registry")
		return
	}

	restoreTriggers(st, registry, manager)

	collector := telemetry.NewMetricsCollector(feedStats{registry, manager}, metricsInterval)
	collector.Start()
	defer collector.Stop()

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewHandlers(admin.Config{
			Registry:     registry,
			Store:        st,
			Tracker:      manager,
			Prober:       dialer,
			ProbeTimeout: cfg.ProbeTimeout(),
		})
		server = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
			Handler:           admin.NewRouter(handlers),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("address", server.Addr).Msg("Admin API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Admin API failed")
			}
		}()
	}

	log.Info().
		Str("instance_id", cfg.Config.InstanceID).
		Str("data_dir", cfg.Config.DataDir).
		Str("cache", string(cfg.Config.Cache.Type)).
		Str("sink", cfg.Config.Sink.Type).
		Msg("Feed is operational")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin API shutdown failed")
		}
	}
	registry.Close(ctx)
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// openCursorCache picks the stream cursor cache. A nil cache keeps cursors
// in memory only.
func openCursorCache(st *store.Store) (cursor.Cache, func(), error) {
	switch cfg.Config.Cache.Type {
	case cfg.CacheNone:
		return nil, func() {}, nil
	case cfg.CacheRedis:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout())
		defer cancel()
		rc, err := cursor.DialRedis(ctx, cfg.Config.Cache.RedisURL, cfg.Config.Cache.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() {
			if err := rc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close cursor cache")
			}
		}, nil
	default:
		return st, func() {}, nil
	}
}

// restoreTriggers re-adds persisted triggers. Triggers that fail to start
// stay persisted and are marked disabled.
func restoreTriggers(st *store.Store, registry *feed.Registry, manager *trigger.Manager) {
	records, err := st.Triggers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load persisted triggers")
		return
	}

	restored := 0
	for _, rec := range records {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SubscribeTimeout())
		err := registry.Add(ctx, rec.ID, rec.Details)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("trigger", rec.ID).Msg("Failed to restore trigger")
			manager.DisableTrigger(context.Background(), rec.ID, feed.DisableStatusUnspecified, err.Error())
			continue
		}
		restored++
	}

	log.Info().Int("restored", restored).Int("total", len(records)).Msg("Restored persisted triggers")
}
