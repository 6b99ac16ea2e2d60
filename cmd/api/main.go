package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"erca.gov.et/portal/internal/app"
	"erca.gov.et/portal/internal/config"
	"erca.gov.et/portal/internal/httpapi"
	"erca.gov.et/portal/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	shutdownTracing, err := obs.InitTracing(ctx, "portal-api", version, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wire application")
	}
	defer a.Close()

	api, err := httpapi.New(httpapi.Deps{
		Service:   a.Service,
		Directory: a.Directory,
		Audit:     a.Audit,
		Feed:      a.Feed,
		Ranks:     a.Store,
		Ready:     httpapi.ReadyProbe{Store: a.Store},
	}, httpapi.Options{
		Version:         version,
		CORSOrigins:     cfg.CORSOrigins,
		LoginRateBurst:  cfg.LoginRateBurst,
		LoginRatePerSec: cfg.LoginRatePerSec,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		TrustedProxies:  cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build http api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting portal-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("listen")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	_ = shutdownTracing(shutdownCtx)
	log.Info().Msg("stopped")
}
