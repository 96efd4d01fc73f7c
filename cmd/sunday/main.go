// Package main provides the entry point for the sunday vending server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/vendsys/sunday/internal/server"
	"github.com/vendsys/sunday/pkg/audit"
	auditpostgres "github.com/vendsys/sunday/pkg/audit/postgres"
	"github.com/vendsys/sunday/pkg/config"
	"github.com/vendsys/sunday/pkg/database/migrate"
	"github.com/vendsys/sunday/pkg/directory"
	directorypostgres "github.com/vendsys/sunday/pkg/directory/postgres"
	"github.com/vendsys/sunday/pkg/drop"
	"github.com/vendsys/sunday/pkg/health"
	"github.com/vendsys/sunday/pkg/inventory"
	inventorypostgres "github.com/vendsys/sunday/pkg/inventory/postgres"
	"github.com/vendsys/sunday/pkg/machine"
	"github.com/vendsys/sunday/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// stores bundles the persistence collaborators so postgres and dev mode
// wire in identically.
type stores struct {
	directory directory.Service
	inventory inventory.Store
	audit     audit.Logger
	db        *sql.DB
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, running with in-memory stores")
		return devStores(cfg), nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &stores{
		directory: directorypostgres.New(db),
		inventory: inventorypostgres.New(db),
		audit:     auditpostgres.New(db),
		db:        db,
	}, nil
}

// devStores builds in-memory collaborators seeded with one admin
// account. Local development only; nothing survives a restart.
func devStores(cfg *config.Config) *stores {
	inv := inventory.NewMemoryStore()
	for i, m := range cfg.Machines {
		inv.AddMachine(m.Alias, i+1)
	}
	return &stores{
		directory: directory.NewMemory(
			directory.MemoryAccount{Username: "admin", Password: "admin", Admin: true, Balance: 1000},
		),
		inventory: inv,
		audit:     audit.NewMemoryLogger(),
	}
}

func (s *stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func buildRegistry(cfg *config.Config, logger *slog.Logger) (*machine.Registry, error) {
	registry := machine.NewRegistry(cfg.Server.FallbackMachine)
	for _, mc := range cfg.Machines {
		m := &machine.Machine{
			Alias:       mc.Alias,
			DisplayName: mc.DisplayName,
			Actuator:    machine.NewNetActuator(mc.ActuatorAddr, cfg.Timeouts.Actuator, logger),
		}
		if err := registry.Add(m); err != nil {
			return nil, fmt.Errorf("registering machine %q: %w", mc.Alias, err)
		}
	}
	for addr, alias := range cfg.Addresses {
		registry.MapAddress(addr, alias)
	}
	return registry, nil
}

func startHealthServer(cfg *config.Config, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	srv := &http.Server{Addr: cfg.Health.Address, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()
	logger.Info("health endpoints listening", "addr", cfg.Health.Address)
	return srv
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("sunday version %s\n", server.Version)
		return nil
	}

	if opts.configPath == "" {
		return fmt.Errorf("no configuration file, use -config")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(cfg.Log.Level)
	ctx := setupSignalHandler()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	monitor := machine.NewMonitor(registry, cfg.Timeouts.PingInterval, logger)
	go monitor.Run(ctx)

	locks := drop.NewLockSet()
	pipeline := drop.NewPipeline(registry, st.inventory, st.directory, st.audit, locks, drop.Config{
		StoreTimeout:    cfg.Timeouts.Store,
		ActuatorTimeout: cfg.Timeouts.Actuator,
	}, logger)
	handler := session.NewHandler(registry, st.directory, st.inventory, pipeline, session.Config{
		StoreTimeout: cfg.Timeouts.Store,
	}, logger)

	var healthSrv *http.Server
	if cfg.Health.Enabled {
		var pinger health.Pinger
		if st.db != nil {
			pinger = st.db
		}
		checker := health.NewChecker(pinger, registry)
		checker.SetReady()
		healthSrv = startHealthServer(cfg, checker, logger)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = healthSrv.Shutdown(shutCtx)
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, registry, handler, locks, logger)
	return srv.Serve(ctx)
}
