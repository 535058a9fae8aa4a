package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AngelCh415/admob-dash/internal/httpx"
)

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	r := httpx.NewRouter(httpx.Deps{
		Log:            a.log,
		Auth:           a.auth,
		Upstream:       a.client,
		Loader:         a.loader,
		Service:        a.svc,
		Store:          a.store,
		AllowedOrigins: a.cfg.AllowedOrigin,
		Ranges:         httpx.RangeDefaults{Days: a.cfg.DefaultRangeDays, Location: a.loc},
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.evictSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", slog.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.log.Warn("signal received, shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) evictSessions(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.store.Evict(a.cfg.SessionTTL); n > 0 {
				a.log.Debug("evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}
