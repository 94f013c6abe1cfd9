package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/alerting"
	"github.com/vlourenco/dispatchboard/internal/cache"
	"github.com/vlourenco/dispatchboard/internal/config"
	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
)

func main() {
	log.Info().Msg("Starting dispatchboard")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	data := dataset.NewCache(cfg.Dataset.Path)
	calc := metric.NewCalculator()
	defs := config.NewDefinitionStore(cfg.Definitions.Path)

	ttl := parseDuration(cfg.Cache.TTL, 5*time.Minute)
	var resultStore cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		resultStore = cache.NewRedisStore(client, cfg.Cache.Prefix, ttl)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis result cache")
	default:
		resultStore = cache.NewMemoryStore()
	}
	dashboards := cache.NewService(data, calc, defs, resultStore, cache.WithTTL(ttl))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var alertStore alerting.Store
	switch cfg.Database.Backend {
	case "postgres":
		db, derr := alerting.OpenDatabase(cfg.Database.DSN())
		if derr != nil {
			log.Fatal().Err(derr).Msg("alert database init failed")
		}
		defer db.Close()
		pg := alerting.NewPgStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("alert schema init failed")
		}
		alertStore = pg
		log.Info().Str("host", cfg.Database.Host).Msg("using postgres alert store")
	default:
		alertStore = alerting.NewMemoryStore()
	}

	engineOpts := []alerting.EngineOption{
		alerting.WithExpiry(time.Duration(cfg.Alerting.ExpiryMinutes) * time.Minute),
	}
	if cfg.Alerting.Forecast.BaseURL != "" {
		engineOpts = append(engineOpts, alerting.WithForecast(
			alerting.NewHTTPForecastProvider(cfg.Alerting.Forecast.BaseURL, cfg.Alerting.Forecast.APIKey)))
	}
	engine := alerting.NewEngine(data, calc, defs, alertStore, engineOpts...)

	go serveMetrics(cfg.Metrics.BindAddr)

	interval := parseDuration(cfg.Alerting.Interval, time.Minute)
	go runSweep(ctx, interval, func() {
		if n, err := engine.Generate(ctx); err != nil {
			log.Error().Err(err).Msg("alert generation failed")
		} else if n > 0 {
			log.Info().Int("generated", n).Msg("alert sweep done")
		}
		warmDashboards(ctx, dashboards, defs)
	})

	expiryInterval := parseDuration(cfg.Alerting.ExpiryInterval, 5*time.Minute)
	go runSweep(ctx, expiryInterval, func() {
		if n, err := engine.ExpireStale(ctx); err != nil {
			log.Error().Err(err).Msg("alert expiry failed")
		} else if n > 0 {
			log.Info().Int("expired", n).Msg("stale alerts expired")
		}
	})

	<-ctx.Done()
	log.Info().Msg("dispatchboard exit...")
}

// runSweep runs fn immediately and then on every tick until the context ends.
func runSweep(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// warmDashboards precomputes every defined dashboard so readers hit warm
// cache entries.
func warmDashboards(ctx context.Context, dashboards *cache.Service, defs *config.DefinitionStore) {
	all, err := defs.Dashboards()
	if err != nil {
		log.Error().Err(err).Msg("load dashboard definitions failed")
		return
	}
	for _, d := range all {
		for _, mode := range []string{cache.ModeList, cache.ModeWidgets} {
			if _, err := dashboards.Dashboard(ctx, d.ID, mode); err != nil {
				log.Error().Err(err).Int("dashboard", d.ID).Str("mode", mode).Msg("dashboard warmup failed")
			}
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint up")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics endpoint failed")
	}
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
