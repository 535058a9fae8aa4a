package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AngelCh415/admob-dash/internal/auth"
	"github.com/AngelCh415/admob-dash/internal/config"
	"github.com/AngelCh415/admob-dash/internal/ingest"
	"github.com/AngelCh415/admob-dash/internal/metrics"
	"github.com/AngelCh415/admob-dash/internal/store"
)

type app struct {
	cfg    config.Config
	log    *slog.Logger
	auth   *auth.Provider
	client *ingest.Client
	store  *store.MemoryStore
	loader *ingest.Loader
	svc    *metrics.Service
	loc    *time.Location
	redis  *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	loc, err := time.LoadLocation(cfg.ReportTimeZone)
	if err != nil {
		return nil, fmt.Errorf("bad ADMOB_TIMEZONE %q: %w", cfg.ReportTimeZone, err)
	}

	base := ingest.NewHTTPClient(cfg.HTTPTimeout)
	prov := auth.NewProvider(logger, auth.Config{
		ClientID:        cfg.OAuthClientID,
		ClientSecret:    cfg.OAuthSecret,
		RedirectURL:     cfg.OAuthRedirect,
		CredentialsJSON: cfg.CredentialsJSON,
	})
	client := ingest.NewClient(func(ctx context.Context) (*http.Client, error) {
		return prov.HTTPClient(ctx, base)
	}, ingest.ClientConfig{
		BaseURL:      cfg.AdMobURL,
		QuotaProject: cfg.GoogleProject,
		TimeZone:     cfg.ReportTimeZone,
		Retries:      2,
	})

	a := &app{cfg: cfg, log: logger, auth: prov, client: client, loc: loc}
	a.store = store.NewMemoryStore()

	var cache store.ReportCache = store.NopCache{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, report cache disabled", slog.String("addr", cfg.RedisAddr), slog.String("err", err.Error()))
			a.redis.Close()
			a.redis = nil
		} else {
			cache = store.NewRedisCache(a.redis, cfg.CacheTTL, cfg.ReportTimeZone)
		}
	}

	a.loader = ingest.NewLoader(client, a.store, cache, base, logger, ingest.SinkConfig{URL: cfg.SinkURL, Secret: cfg.SinkSecret})
	a.svc = metrics.NewService(a.store)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}
