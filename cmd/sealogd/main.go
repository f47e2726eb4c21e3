package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sealog-io/sealog/internal/anchor"
	"github.com/sealog-io/sealog/internal/api"
	"github.com/sealog-io/sealog/internal/hashchain"
	"github.com/sealog-io/sealog/internal/health"
	"github.com/sealog-io/sealog/internal/ledger"
	"github.com/sealog-io/sealog/internal/logging"
	"github.com/sealog-io/sealog/internal/persistence"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sealogd:", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("sealogd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("server.auth_secret", "")
	viper.SetDefault("ledger.batch_size", 64)
	viper.SetDefault("ledger.flush_interval", "1s")
	viper.SetDefault("ledger.queue_capacity", 1024)
	viper.SetDefault("ledger.anchor_mode", "async")
	viper.SetDefault("persistence.driver", "sqlite")
	viper.SetDefault("persistence.sqlite_path", "data/sealog.db")
	viper.SetDefault("persistence.postgres_url", "")
	viper.SetDefault("hashchain.path", "data/chain.json")
	viper.SetDefault("hashchain.strict", false)
	viper.SetDefault("anchor.enabled", true)
	viper.SetDefault("anchor.attestation_url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger, err := logging.New(viper.GetString("log.level"), viper.GetString("log.file"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// ── Persistence ───────────────────────────────────────────────────────────
	backend, err := buildBackend(logger)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	// ── Hash chain ────────────────────────────────────────────────────────────
	chainStore, err := hashchain.NewFileStore(viper.GetString("hashchain.path"))
	if err != nil {
		return fmt.Errorf("open chain store: %w", err)
	}
	chain, err := hashchain.New(chainStore, viper.GetBool("hashchain.strict"), logger)
	if err != nil {
		return fmt.Errorf("open hash chain: %w", err)
	}

	// ── Anchor manager ────────────────────────────────────────────────────────
	var manager anchor.Manager
	if viper.GetBool("anchor.enabled") {
		backends := []anchor.Backend{anchor.NewChainBackend(chain)}
		if url := viper.GetString("anchor.attestation_url"); url != "" {
			backends = append(backends, anchor.NewHTTPBackend("attestation", url))
			logger.Info("remote attestation backend configured", zap.String("url", url))
		}
		manager = anchor.NewMultiManager(anchor.ManagerConfig{}, backends, logger)
	}

	var checker *health.Checker
	healthQuit := make(chan struct{})
	if manager != nil {
		checker = health.New(manager, health.Config{}, logger)
		go checker.Start(healthQuit)
	}
	defer close(healthQuit)

	// ── Ledger ────────────────────────────────────────────────────────────────
	flushInterval, err := time.ParseDuration(viper.GetString("ledger.flush_interval"))
	if err != nil {
		return fmt.Errorf("parse ledger.flush_interval: %w", err)
	}
	ldg := ledger.New(ledger.Config{
		BatchSize:     viper.GetInt("ledger.batch_size"),
		FlushInterval: flushInterval,
		QueueCapacity: viper.GetInt("ledger.queue_capacity"),
		AnchorMode:    ledger.AnchorMode(viper.GetString("ledger.anchor_mode")),
	}, backend, chain, manager, logger)

	ldg.SetCommitHook(func(b ledger.Batch) { api.RecordBatchCommit(b.EntryCount) })
	ldg.SetAnchorResultHook(func(r anchor.Result) { api.RecordAnchorResult(r.Backend, string(r.Status)) })

	if err := ldg.Start(context.Background()); err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}

	// ── HTTP router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(api.RateLimiter(api.RateLimitConfig{RPS: rps}))
	}
	router.Use(api.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if checker != nil && checker.Degraded() {
			c.JSON(http.StatusOK, gin.H{"status": "degraded", "anchors": checker.Statuses()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", api.MetricsHandler())

	handler := api.New(ldg, chain, manager, logger)
	handler.Register(router.Group("/api/v1"), api.BearerAuth(viper.GetString("server.auth_secret")))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sealogd listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Shutdown ──────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Drain the queue and seal the open batch before exiting.
	if err := ldg.Stop(); err != nil {
		logger.Warn("ledger stop", zap.Error(err))
	}
	return nil
}

func buildBackend(logger *zap.Logger) (persistence.Backend, error) {
	driver := viper.GetString("persistence.driver")
	switch driver {
	case "memory":
		logger.Warn("using in-memory persistence; ledger state will not survive restarts")
		return persistence.NewMemory(), nil
	case "sqlite":
		path := viper.GetString("persistence.sqlite_path")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		b, err := persistence.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite persistence ready", zap.String("path", path))
		return b, nil
	case "postgres":
		url := viper.GetString("persistence.postgres_url")
		pool, err := pgxpool.New(context.Background(), url)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(context.Background()); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		b, err := persistence.NewPostgres(context.Background(), pool, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres persistence ready")
		return b, nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", driver)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
