package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seedtrace/internal/audit"
	"seedtrace/internal/continuation"
	"seedtrace/internal/platform/config"
	"seedtrace/internal/platform/httpserver"
	"seedtrace/internal/platform/logger"
	"seedtrace/internal/platform/metrics"
	platformredis "seedtrace/internal/platform/redis"
	"seedtrace/internal/registry"
	registrycache "seedtrace/internal/registry/cache"
	"seedtrace/internal/treatment"
	"seedtrace/internal/treatment/handler"
	"seedtrace/internal/treatment/service"
	"seedtrace/pkg/clock"
)

// main wires dependencies and owns the process lifecycle. Business rules live
// in the internal packages; nothing here should make a domain decision.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()
	clk := clock.System{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Registry gateway: real HTTP client unless the mock is requested, with
	// an optional redis read cache in front of lookups.
	var gateway registry.Gateway
	if cfg.Registry.UseMock {
		log.Info("using mock registry gateway")
		gateway = registry.NewMockGateway()
	} else {
		gateway = registry.NewHTTPClient(cfg.Registry.BaseURL, cfg.Registry.Timeout)
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		gateway = registrycache.New(gateway, redisClient.Client, cfg.CacheTTL, log)
		log.Info("registry lookup cache enabled", "ttl", cfg.CacheTTL.String())
	}

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var store treatment.Store
	var auditStore audit.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres ping failed", "error", err.Error())
			os.Exit(1)
		}

		pgStore := treatment.NewPostgres(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("schema migration failed", "error", err.Error())
			os.Exit(1)
		}
		pgAudit := audit.NewPostgres(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			log.Error("audit schema migration failed", "error", err.Error())
			os.Exit(1)
		}
		store = pgStore
		auditStore = pgAudit
		log.Info("using postgres storage")
	} else {
		store = treatment.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		log.Warn("no SEEDTRACE_POSTGRES_DSN set; using in-memory storage")
	}
	// Audit events flow through a buffered channel so request latency never
	// waits on the audit store.
	auditInbox := make(chan audit.Event, 256)
	auditWorker := audit.NewWorker(auditStore, auditInbox)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err.Error())
			stop()
		}
	}()
	auditPublisher := audit.NewAsyncPublisher(auditInbox)

	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
	}
	if cfg.Registry.PushBestEffort {
		log.Warn("registry pushes are best-effort; local records may lead the registry")
		serviceOpts = append(serviceOpts, service.WithBestEffortPush())
	}
	treatmentService := service.New(store, gateway, clk, serviceOpts...)

	continuations := continuation.New(store, clk,
		continuation.WithLogger(log),
		continuation.WithMetrics(m),
		continuation.WithAuditPublisher(auditPublisher),
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.New(treatmentService, continuations, log, m).Register(router)

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting seedtrace", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}
