// Package app wires stores and domain services from configuration. It is
// shared by the API server and the operations CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/config"
	"erca.gov.et/portal/internal/directory"
	"erca.gov.et/portal/internal/migrate"
	"erca.gov.et/portal/internal/obs"
	"erca.gov.et/portal/internal/store/memory"
	"erca.gov.et/portal/internal/store/pg"
)

// Store is everything the portal persists.
type Store interface {
	auth.OfficialStore
	auth.SessionStore
	auth.RankStore
	audit.Store
	Ping(ctx context.Context) error
}

// App holds the wired components. Close releases them.
type App struct {
	Store     Store
	PG        *pg.Store
	Audit     *audit.Logger
	Feed      *audit.Broadcaster
	Sessions  *auth.SessionManager
	Service   *auth.Service
	Directory *directory.Directory

	nc *nats.Conn
}

// Build opens the configured store and composes the services on top of it.
// Without a DSN the in-memory store is used, which is only allowed in dev.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}
	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.PG = st
		a.Store = st
	} else {
		if !cfg.Dev() {
			return nil, errors.New("PORTAL_PG_DSN is required outside the dev environment")
		}
		obs.Logger().Warn().Msg("PORTAL_PG_DSN not set, using the in-memory store")
		a.Store = memory.New()
	}

	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg config.Config) error {
	if a.PG != nil {
		if err := a.PG.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := a.Migrate(ctx); err != nil {
				return err
			}
		}
	}
	if err := auth.EnsureRanks(ctx, a.Store); err != nil {
		return fmt.Errorf("seed ranks: %w", err)
	}

	a.Feed = audit.NewBroadcaster()
	publishers := []audit.Publisher{a.Feed}
	if cfg.NATSURL != "" {
		nc, err := audit.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.nc = nc
		pub, err := audit.NewNATSPublisher(nc, cfg.AuditSubject)
		if err != nil {
			return err
		}
		publishers = append(publishers, pub)
	}
	logger, err := audit.NewLogger(a.Store, audit.WithPublisher(audit.MultiPublisher(publishers...)))
	if err != nil {
		return err
	}
	a.Audit = logger

	a.Sessions, err = auth.NewSessionManager(a.Store, a.Store, auth.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		return err
	}
	a.Service, err = auth.NewService(a.Store, a.Sessions, auth.WithAuditor(logger))
	if err != nil {
		return err
	}
	a.Directory, err = directory.New(a.Store, a.Service.Credentials(), a.Sessions, logger)
	return err
}

// Migrate applies pending schema migrations. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.PG == nil {
		return nil
	}
	mgr, err := migrate.NewManager(a.PG.DB())
	if err != nil {
		return err
	}
	applied, err := mgr.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	obs.Logger().Info().Strs("applied", applied).Msg("migrations applied")
	return nil
}

func (a *App) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			obs.Logger().Warn().Err(err).Msg("nats drain failed")
		}
	}
	if a.PG != nil {
		if err := a.PG.Close(); err != nil {
			obs.Logger().Warn().Err(err).Msg("postgres close failed")
		}
	}
}
