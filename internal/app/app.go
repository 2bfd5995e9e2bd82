// Package app assembles the notification router: storage, the in-memory
// routing core, delivery, scheduled maintenance and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/backup"
	"github.com/tbourn/notify-router/internal/config"
	"github.com/tbourn/notify-router/internal/delivery"
	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	httpapi "github.com/tbourn/notify-router/internal/http"
	"github.com/tbourn/notify-router/internal/http/handlers"
	"github.com/tbourn/notify-router/internal/jobs"
	"github.com/tbourn/notify-router/internal/observability"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
	"github.com/tbourn/notify-router/internal/services"
	"github.com/tbourn/notify-router/internal/transport/telegram"
)

const (
	pruneSchedule = "@every 1h"
	backupTimeout = 5 * time.Minute
	pruneTimeout  = time.Minute
)

// Transport delivers notifications to groups and invite links to users.
type Transport interface {
	delivery.Sender
	services.Inviter
}

// Option customizes New.
type Option func(*options)

type options struct {
	transport Transport
}

// WithTransport overrides the transport chosen from the Telegram config.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// App owns every long-lived component.
type App struct {
	cfg config.Config

	db         *gorm.DB
	index      *search.Index
	groups     *groups.Directory
	ledger     *routing.Ledger
	dispatcher *delivery.Dispatcher
	backups    *backup.Manager
	scheduler  *jobs.Scheduler
	admin      *services.AdminService

	engine *gin.Engine
	server *http.Server
}

// New opens the database, hydrates the routing core from it and builds the
// HTTP handler. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	tr := o.transport
	if tr == nil {
		if tr, err = newTransport(cfg.Telegram); err != nil {
			closeDB(db)
			return nil, err
		}
	}

	a := &App{cfg: cfg, db: db}
	a.index = search.NewIndex()
	a.groups = groups.New(cfg.Routing.GroupCapacity,
		groups.WithOnCreate(func(domain.Group) { observability.RecordGroupCreated() }),
	)
	a.ledger = routing.NewLedger(cfg.Routing.DedupRetention)
	a.dispatcher = delivery.New(delivery.Config{
		Workers:    cfg.Delivery.Workers,
		RatePerSec: cfg.Delivery.RPS,
		RetryMax:   cfg.Delivery.RetryMax,
		QueueSize:  cfg.Delivery.QueueSize,
	}, tr)

	if _, err := services.Bootstrap(ctx, db, a.index, a.groups, a.ledger, time.Now().UTC()); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	users := services.NewRegistrationService(db, a.index, a.groups, tr)
	co := routing.NewCoordinator(a.ledger, routing.NewMatchEngine(a.index), a.groups)
	ingest := services.NewRoutingService(db, routing.NewGateway(cfg.Routing.MaxContentRunes), co, a.groups, a.dispatcher)

	var bm services.BackupManager
	if cfg.Backup.Enabled {
		a.backups = backup.NewManager(db, cfg.Backup.Dir, cfg.Backup.Keep)
		bm = a.backups
	}
	a.admin = services.NewAdminService(db, cfg.DBPath, users, a.ledger, bm, tr, a.dispatcher)

	a.scheduler = jobs.New()
	if err := a.scheduler.Add("prune-dedup", pruneSchedule, pruneTimeout, func(ctx context.Context) error {
		_, err := a.admin.PruneRouted(ctx)
		return err
	}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("schedule prune: %w", err)
	}
	if a.backups != nil {
		if err := a.scheduler.Add("backup", cfg.Backup.Schedule, backupTimeout, func(ctx context.Context) error {
			_, err := a.admin.Backup(ctx)
			return err
		}); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("schedule backup: %w", err)
		}
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	a.engine = gin.New()
	httpapi.RegisterRoutes(a.engine, db, handlers.New(ingest, users, a.admin), cfg)

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return a, nil
}

func newTransport(cfg config.TelegramConfig) (Transport, error) {
	if cfg.Token == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set; deliveries are logged only")
		return telegram.LogSender{}, nil
	}
	s, err := telegram.New(cfg.Token, cfg.ParseMode)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.engine }

// Start launches the delivery workers and the scheduler. Serve must be
// called separately to accept HTTP traffic.
func (a *App) Start(ctx context.Context) {
	a.dispatcher.Start(ctx)
	a.scheduler.Start()
}

// Serve accepts connections on ln until Stop. It returns nil after a
// graceful shutdown.
func (a *App) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waits for scheduled jobs, drains queued
// deliveries, takes a final backup when backups are enabled and closes the
// database. Errors are joined; every step runs.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if err := a.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher stop: %w", err))
	}
	if a.backups != nil {
		if _, err := a.backups.Snapshot(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("final backup: %w", err))
		}
	}
	closeDB(a.db)
	return errors.Join(errs...)
}

// Run starts the app on cfg.Port and blocks until ctx is cancelled or the
// server fails, then stops within shutdownTimeout.
func Run(ctx context.Context, cfg config.Config, shutdownTimeout time.Duration) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		closeDB(a.db)
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}

	// Workers outlive ctx so Stop can drain the queue.
	a.Start(context.WithoutCancel(ctx))
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("http server failed")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
		return errors.Join(runErr, err)
	}
	log.Info().Msg("shutdown complete")
	return runErr
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
