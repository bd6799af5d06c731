package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/Strob0t/agenthost/internal/adapter/http"
	"github.com/Strob0t/agenthost/internal/adapter/natsmq"
	otelad "github.com/Strob0t/agenthost/internal/adapter/otel"
	"github.com/Strob0t/agenthost/internal/adapter/postgres"
	"github.com/Strob0t/agenthost/internal/adapter/ristretto"
	"github.com/Strob0t/agenthost/internal/adapter/stdio"
	"github.com/Strob0t/agenthost/internal/adapter/workspace"
	"github.com/Strob0t/agenthost/internal/adapter/ws"
	"github.com/Strob0t/agenthost/internal/broker"
	"github.com/Strob0t/agenthost/internal/config"
	"github.com/Strob0t/agenthost/internal/domain/policy"
	"github.com/Strob0t/agenthost/internal/logger"
	"github.com/Strob0t/agenthost/internal/port/eventstore"
	"github.com/Strob0t/agenthost/internal/port/transport"
	"github.com/Strob0t/agenthost/internal/runner"
	"github.com/Strob0t/agenthost/internal/service"
	"github.com/Strob0t/agenthost/internal/supervisor"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"worker_command", cfg.Worker.Command,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownTracer, err := otelad.InitTracer(ctx, cfg.Tracing, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	// --- Infrastructure ---
	var store eventstore.Store
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewEventStore(pool)
		slog.Info("postgres connected")
	} else {
		slog.Info("postgres disabled, events are not persisted")
	}

	// --- Worker process ---
	sup := supervisor.New(supervisor.Config{
		Command:      cfg.Worker.Command,
		Args:         cfg.Worker.Args,
		EnvAllowlist: cfg.Worker.EnvAllowlist,
		ExtraEnv:     workerEnv(cfg),
		GracePeriod:  cfg.Worker.GracePeriod,
		CrashWindow:  cfg.Worker.CrashWindow,
		RestartBase:  cfg.Worker.RestartBase,
		MaxCrashes:   cfg.Worker.MaxCrashes,
		RPCTimeout:   cfg.RPC.RequestTimeout,
	}, log)
	if err := sup.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() { _ = sup.Stop() }()

	// --- Worker transport ---
	var tr transport.Transport
	if cfg.NATS.URL != "" {
		nc, err := natsmq.Dial(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Close()
		tr, err = natsmq.New(nc, natsmq.SubjectToWorker, natsmq.SubjectToHost, log)
		if err != nil {
			return fmt.Errorf("nats transport: %w", err)
		}
		slog.Info("worker transport on nats", "url", cfg.NATS.URL)
	} else {
		tr = stdio.New(sup, log)
		slog.Info("worker transport on stdio")
	}
	defer func() { _ = tr.Close() }()

	// --- Services ---
	client := broker.NewClient(tr, cfg.Broker.CallTimeout, log)
	defer client.Dispose()

	source := workspace.NewSource(cfg.Workspace.Root)
	cached, err := ristretto.NewCachedSource(source, cfg.Cache.MaxSizeMB<<20, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("context cache: %w", err)
	}
	defer cached.Close()

	gate := policy.NewGate(policy.RuleSet{Allow: cfg.Policy.Allow, Deny: cfg.Policy.Deny})

	r := runner.New(runner.Deps{
		Broker:    client,
		Gate:      gate,
		Context:   cached,
		MemoryCap: cfg.Memory.MaxEntries,
		Log:       log,
	})

	hub := ws.NewHub()
	opts := service.Options{Store: store, Hub: hub}
	if cfg.Tracing.Enabled {
		opts.Tracer = otelad.Tracer()
	}
	host := service.NewHost(r, tr, opts, log)
	defer host.Close()

	// --- HTTP ---
	router := chi.NewRouter()
	router.Use(apihttp.CORS(cfg.Server.CORSOrigin))
	router.Use(apihttp.Logger)
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)

	router.Get("/health", healthHandler(cfg, sup))
	router.Get("/ws", hub.HandleWS)
	apihttp.MountRoutes(router, &apihttp.Handlers{Host: host, Store: store})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// workerEnv computes the entries forwarded to the worker process on top of
// the allowlisted inherited environment.
func workerEnv(cfg *config.Config) map[string]string {
	env := map[string]string{
		"AGENTHOST_WORKSPACE": cfg.Workspace.Root,
	}
	if cfg.Model.URL != "" {
		env["AGENTHOST_MODEL_URL"] = cfg.Model.URL
		env["AGENTHOST_MODEL_API_KEY"] = cfg.Model.APIKey
		env["AGENTHOST_MODEL_NAME"] = cfg.Model.Name
	}
	if cfg.NATS.URL != "" {
		env["NATS_URL"] = cfg.NATS.URL
	}
	return env
}

// healthHandler reports service health including the worker state.
func healthHandler(cfg *config.Config, sup *supervisor.Supervisor) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Worker   string `json:"worker"`
		Postgres bool   `json:"postgres"`
		NATS     bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:   "ok",
			Worker:   string(sup.State()),
			Postgres: cfg.Postgres.DSN != "",
			NATS:     cfg.NATS.URL != "",
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
