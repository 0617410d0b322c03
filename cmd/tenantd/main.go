package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/stackmason/tenantd/pkg/api"
	"github.com/stackmason/tenantd/pkg/audit"
	"github.com/stackmason/tenantd/pkg/config"
	"github.com/stackmason/tenantd/pkg/identity"
	"github.com/stackmason/tenantd/pkg/janitor"
	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/provisioning"
	"github.com/stackmason/tenantd/pkg/retry"
	"github.com/stackmason/tenantd/pkg/slug"
	"github.com/stackmason/tenantd/pkg/tenants"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	janitorCfg := config.LoadJanitorConfig()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database connection")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	// Provisioning rules (reserved slugs, length bounds, authority tables)
	rulesWatcher, err := config.NewRulesWatcher(cfg.RulesPath, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load provisioning rules")
	}
	defer rulesWatcher.Close()
	rules := rulesWatcher.Rules()

	store, err := tenants.NewStore(db, rules.AuthorityTables)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create tenant store")
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to ensure database schema")
	}

	// Redis-backed slug reservations (optional)
	var redisClient *redis.Client
	var reservations provisioning.Reservations
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logrus.WithError(err).Fatal("Failed to ping redis")
		}
		reservations = tenants.NewReservations(redisClient, cfg.Redis.ReservationTTL)
	}

	// Identity provider client
	provider, err := identity.NewHTTPProvider(identity.Config{
		BaseURL:      cfg.Identity.BaseURL,
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Timeout:      cfg.Identity.Timeout,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create identity provider client")
	}
	ensurer := identity.NewEnsurer(provider, retry.Policy{
		MaxAttempts:     uint64(cfg.Identity.MaxAttempts),
		InitialInterval: cfg.Identity.InitialInterval,
		MaxInterval:     cfg.Identity.MaxInterval,
		Multiplier:      2.0,
	})

	// Audit trail: database sink, optionally mirrored to rotated files
	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create audit logger")
	}
	var auditor audit.Logger = dbAudit
	if cfg.Observability.AuditFilePath != "" {
		fileAudit, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Observability.AuditFilePath,
			MaxSize:  100 * 1024 * 1024,
			MaxFiles: 10,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create audit file logger")
		}
		auditor = audit.NewMultiLogger(dbAudit, fileAudit)
	}
	defer auditor.Close()

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	if metrics != nil {
		store.SetMetrics(metrics)
		go samplePoolStats(db, metrics)
	}

	orch := provisioning.NewOrchestrator(store, ensurer, provider, auditor, provisioning.Config{
		Validator:    slug.NewValidator(rules.Slug),
		Reservations: reservations,
		Recorder:     dbAudit,
		Metrics:      metrics,
		Logger:       logger,
	})

	// Rules edits take effect without a restart.
	rulesWatcher.OnReload(func(r *config.Rules) {
		orch.SetValidator(slug.NewValidator(r.Slug))
		store.SetAuthorities(r.AuthorityTables)
	})

	server := api.NewServer(api.Config{
		Provisioner: orch,
		Requests:    store,
		Audit:       audit.NewHandlers(dbAudit),
		AdminTokens: cfg.Server.AdminTokens,
		Logger:      logger,
		Metrics:     metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scrapers
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, provider)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server stopped")
		}
	}()

	// Background sweeps
	sweeper := janitor.New(store, provider, auditor, metrics, logger, janitorCfg)
	if err := sweeper.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start janitor")
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":        httpServer.Addr,
			"health_addr": healthServer.Addr,
		}).Info("tenantd started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}

// samplePoolStats publishes connection pool gauges every 15 seconds.
func samplePoolStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}
