package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/evalflow/api/handlers"
	"github.com/BaSui01/evalflow/batch"
	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/engine"
	"github.com/BaSui01/evalflow/internal/cache"
	"github.com/BaSui01/evalflow/internal/database"
	"github.com/BaSui01/evalflow/internal/lock"
	"github.com/BaSui01/evalflow/internal/metrics"
	"github.com/BaSui01/evalflow/internal/migration"
	"github.com/BaSui01/evalflow/internal/server"
	"github.com/BaSui01/evalflow/internal/telemetry"
	"github.com/BaSui01/evalflow/session"
	"github.com/BaSui01/evalflow/simulation"
	"github.com/BaSui01/evalflow/store"
	"github.com/redis/go-redis/v9"
)

// skipAuthPaths 不需要认证的端点
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the evalflow server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag(cmd))
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting evalflow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				srv.Shutdown()
				return err
			}

			runErr := srv.Wait(ctx)
			srv.Shutdown()
			logger.Info("evalflow stopped")
			return runErr
		},
	}
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装存储、模拟、会话与批量编排，并管理 HTTP 与 Metrics 双端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	db    *gorm.DB
	pool  *database.PoolManager
	cache *cache.Manager

	handler        http.Handler
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流清理协程的生命周期
	rateLimiterCancel context.CancelFunc
}

// NewServer 按配置构建全部组件，不监听端口
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Server, err error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			s.Shutdown()
		}
	}()

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector = metrics.NewCollector("evalflow", s.registry, logger)

	if s.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, Version, logger); err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		err = nil
	}

	if err = s.initDatabase(); err != nil {
		return nil, err
	}

	var (
		rdb    redis.UniversalClient
		locker lock.Locker = lock.NewMemoryLocker()
	)
	sessionOpts := []session.Option{
		session.WithProvider(cfg.Workflow.Provider),
		session.WithDefaultModel(cfg.Workflow.DefaultModel),
		session.WithTransitionHook(s.collector.RecordSessionTransition),
	}
	if cfg.Redis.Enabled {
		if s.cache, err = cache.NewManager(cfg.Redis, logger, cache.WithCollector(s.collector)); err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		rdb = s.cache.Client()
		locker = lock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix, logger)
		sessionOpts = append(sessionOpts, session.WithStateCache(s.cache, cfg.Redis.StateCacheTTL))
	}
	sessionOpts = append(sessionOpts, session.WithLocker(locker))

	st := store.NewGormStore(s.db, logger)

	sim, err := simulation.NewExecutorFromConfig(cfg.Simulation, rdb, logger,
		simulation.WithSettleHook(s.collector.RecordJobSettlement))
	if err != nil {
		return nil, err
	}

	eng := engine.NewHTTPClient(engine.HTTPClientConfig{
		BaseURL: cfg.Workflow.BaseURL,
		APIKey:  cfg.Workflow.APIKey,
		Timeout: cfg.Workflow.Timeout,
	}, logger)

	sessions := session.NewManager(st, eng, logger, sessionOpts...)
	orchestrator := batch.NewOrchestrator(st, sim, sessions, logger,
		batch.WithLocker(locker),
		batch.WithConfig(cfg.Batch),
		batch.WithCollector(s.collector),
		batch.WithTracer(s.telemetry.Tracer("evalflow/batch")),
	)

	s.handler = s.buildHandler(st, orchestrator, sessions)
	return s, nil
}

// initDatabase 打开连接池并按需执行迁移
func (s *Server) initDatabase() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.db = db

	s.pool, err = database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithCollector(s.collector, s.cfg.Database.Driver))
	if err != nil {
		return err
	}

	if !s.cfg.Database.AutoMigrate {
		return nil
	}
	// 内存 sqlite 只对当前连接可见，迁移器的独立连接看不到，改用 gorm 建表
	if s.cfg.Database.Driver == "sqlite" && isMemorySQLite(s.cfg.Database.Name) {
		return store.AutoMigrate(db)
	}
	migrator, err := migration.NewMigrator(s.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.logger.Info("database migrations applied")
	return nil
}

func isMemorySQLite(name string) bool {
	return name == ":memory:" || strings.Contains(name, "mode=memory") || strings.HasPrefix(name, "file::memory:")
}

// buildHandler 注册路由并包装中间件链
func (s *Server) buildHandler(st *store.GormStore, runner *batch.Orchestrator, sessions *session.Manager) http.Handler {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewCheck("database", s.pool.Ping))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewCheck("redis", s.cache.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewGoldenSetHandler(st, s.logger).Register(mux)
	handlers.NewEvaluationHandler(runner, sessions, st, s.logger).Register(mux)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	if s.cfg.JWT.Enabled() {
		chain = append(chain, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	return Chain(mux, chain...)
}

// Handler 返回完整的 API handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务器（非阻塞）
func (s *Server) Start() error {
	s.httpManager = server.NewManager("api", s.handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.metricsManager = server.NewManager("metrics", mux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// Wait 阻塞到 ctx 结束或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 按依赖逆序关闭，可重复调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil && !errors.Is(err, cache.ErrClosed) {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil && !errors.Is(err, database.ErrPoolClosed) {
			s.logger.Error("Database close error", zap.Error(err))
		}
	} else if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}
	s.logger.Info("Graceful shutdown completed")
}
