// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/memory"
	"github.com/medauth/medauth/internal/auth/postgres"
	"github.com/medauth/medauth/internal/config"
	"github.com/medauth/medauth/internal/logging"
	"github.com/medauth/medauth/internal/observability"
	"github.com/medauth/medauth/internal/store"
	"github.com/medauth/medauth/internal/web"
	"github.com/medauth/medauth/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand. deps may be nil.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API, the metrics and health endpoints, and the
background purge of expired sessions and reset requests.

Secrets are read from the environment: DATABASE_URL and MEDAUTH_TOKEN_SECRET.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, deps)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolOpener == nil {
		out.PoolOpener = func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
			return store.Open(ctx, dsn, store.OpenOptions{})
		}
	}
	if out.Migrator == nil {
		out.Migrator = migrateUp
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	return &out
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	d := deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(config.Options{File: configFile, Flags: cmd.Flags(), Getenv: d.Getenv})
	if err != nil {
		return err
	}

	logger := logging.SetDefault("medauth", version, cfg.Log.Format)
	logger.Info("starting medauth",
		"http_addr", cfg.HTTP.Addr,
		"db_driver", cfg.Database.Driver,
		"log_format", cfg.Log.Format,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, d)
	if err != nil {
		return err
	}
	defer be.close()

	var (
		obsServer   ObservabilityServer
		registry    = prometheus.NewRegistry()
		httpMetrics *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = d.ObservabilityServerFactory(cfg.Metrics.Addr, be.ready)
		registry = obsServer.Registry()
		httpMetrics = obsServer.Metrics()
	} else {
		httpMetrics = observability.NewMetrics(registry)
	}

	svc, sessions, limiter, err := buildService(cfg, be, registry, logger)
	if err != nil {
		return err
	}
	defer limiter.Close()

	g, gctx := errgroup.WithContext(ctx)

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		g.Go(func() error { return monitorServerErrors(gctx, obsErrChan, "observability") })
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := d.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		if obsServer != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop observability server during cleanup", "error", stopErr)
			}
		}
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	api := &http.Server{
		Handler:           web.NewServer(svc, web.Options{Logger: logger, Metrics: httpMetrics}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := api.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").With("addr", listener.Addr().String()).Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		sessions.RunJanitor(gctx, cfg.Sessions.PurgeInterval)
		return nil
	})
	g.Go(func() error {
		runResetPurge(gctx, svc, cfg.Sessions.PurgeInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error stopping API server", "error", err)
		}
		if obsServer != nil {
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}
		return nil
	})

	cmd.Printf("MedAuth listening on %s\n", listener.Addr())
	logger.Info("medauth ready", "http_addr", listener.Addr().String())

	if err := g.Wait(); err != nil {
		errutil.LogError(logger, "server stopped with error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors returns the first error a background server reports.
func monitorServerErrors(ctx context.Context, errCh <-chan error, name string) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return oops.Code("SERVER_FAILED").With("server", name).Wrap(err)
		}
		return nil
	}
}

// backend is the storage selected by database.driver.
type backend struct {
	users    auth.UserRepository
	patients auth.PatientRepository
	doctors  auth.DoctorRepository
	sessions auth.SessionRepository
	resets   auth.PasswordResetRepository
	tx       auth.Transactor
	ready    observability.ReadinessChecker
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, d *ServeDeps) (*backend, error) {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Warn("using in-memory storage; all accounts are lost on exit")
		st := memory.NewStore()
		users, patients, doctors, sessions, resets := memory.Repositories(st)
		return &backend{
			users: users, patients: patients, doctors: doctors, sessions: sessions, resets: resets,
			tx:    memory.NewTransactor(st),
			ready: func() bool { return true },
			close: func() {},
		}, nil
	}

	pool, err := d.PoolOpener(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	slog.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := d.Migrator(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, oops.Code("AUTO_MIGRATE_FAILED").Wrap(err)
		}
		slog.Info("database migrations applied")
	}

	users, patients, doctors, sessions, resets := postgres.Repositories(pool)
	return &backend{
		users: users, patients: patients, doctors: doctors, sessions: sessions, resets: resets,
		tx: postgres.NewTransactor(pool),
		ready: func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx) == nil
		},
		close: pool.Close,
	}, nil
}

// buildService wires the auth components. The caller must Close the
// returned limiter.
func buildService(cfg *config.Config, be *backend, reg prometheus.Registerer, logger *slog.Logger) (*auth.Service, *auth.SessionRegistry, *auth.LoginLimiter, error) {
	metrics := auth.NewMetrics(reg)

	creds, err := auth.NewCredentialStore(auth.StoreDeps{
		Users:    be.users,
		Patients: be.patients,
		Doctors:  be.doctors,
		Tx:       be.tx,
		Hasher:   auth.NewArgon2idHasher(),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	sessions, err := auth.NewSessionRegistry(be.sessions, be.tx, cfg.SessionConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	sessions.SetMetrics(metrics)

	tokens, err := auth.NewTokenService(cfg.TokenConfig(), be.users, be.sessions, be.tx)
	if err != nil {
		return nil, nil, nil, err
	}
	tokens.SetMetrics(metrics)
	tokens.SetLogger(logger)

	limiter := auth.NewLoginLimiter(cfg.LimiterConfig(), reg)
	svc, err := auth.NewService(auth.Deps{
		Credentials: creds,
		Tokens:      tokens,
		Sessions:    sessions,
		Resets:      be.resets,
		Limiter:     limiter,
		Tx:          be.tx,
		Logger:      logger,
		Metrics:     metrics,
		ResetTTL:    cfg.Reset.TTL,
	})
	if err != nil {
		limiter.Close()
		return nil, nil, nil, err
	}
	return svc, sessions, limiter, nil
}

// runResetPurge deletes expired reset requests every interval until ctx
// is done.
func runResetPurge(ctx context.Context, svc *auth.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredResets(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errutil.LogErrorContext(ctx, logger, slog.LevelError, "reset purge failed", err)
				}
				continue
			}
			if n > 0 {
				logger.DebugContext(ctx, "purged expired reset requests", "count", n)
			}
		}
	}
}

func migrateUp(databaseURL string) error {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	return m.Up()
}
