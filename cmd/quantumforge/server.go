// Package main provides the QuantumForge server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quantumforge/engine/adapter"
	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/api/handlers"
	"github.com/quantumforge/engine/config"
	"github.com/quantumforge/engine/coordinator"
	"github.com/quantumforge/engine/internal/cache"
	"github.com/quantumforge/engine/internal/metrics"
	"github.com/quantumforge/engine/internal/server"
	"github.com/quantumforge/engine/internal/telemetry"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/llm/budget"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/pipeline"
	"github.com/quantumforge/engine/providers"
	"github.com/quantumforge/engine/providers/anthropic"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构（重构版）
// =============================================================================

// Server 是 QuantumForge 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	executeHandler *handlers.ExecuteHandler
	chatHandler    *handlers.ChatHandler

	// 编排引擎组件
	modelManifest *manifest.Manifest
	providerReg   *registry.Registry

	// 指标收集器
	metricsCollector *metrics.Collector

	// 结果缓存（可选，需配置 Redis）
	resultCache *cache.Manager

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("quantumforge", s.logger)

	// 2. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 模型清单 + Provider Registry
	s.modelManifest = manifest.Default()
	s.providerReg = registry.New(s.modelManifest, s.logger)

	claudeCfg := providers.ClaudeConfig{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Timeout: s.cfg.LLM.Timeout,
	}
	claude := anthropic.NewClaudeProvider(claudeCfg, s.logger)

	// 弹性包装：单次上游调用内的重试 / 熔断 / 幂等缓存。
	// 分支级的 ErrorKind 分类和墙钟预算仍由 adapter 层负责。
	resilient := llm.NewResilientProvider(claude, nil, s.logger)
	if err := s.providerReg.RegisterProvider("anthropic", resilient, s.cfg.Quantum.PerProviderConcurrency,
		adapter.WithRateLimit(s.cfg.Quantum.RateLimitQPS, s.cfg.Quantum.RateLimitBurst)); err != nil {
		return fmt.Errorf("failed to register anthropic provider: %w", err)
	}

	routerCfg := router.Config{
		MaxBranches:       s.cfg.Orchestration.MaxBranches,
		DefaultStreamMode: s.cfg.Quantum.StreamMode,
	}
	r := router.New(routerCfg, s.modelManifest)

	agentExecutor := agent.New(s.providerReg, s.logger)
	quantumExecutor := quantum.New(agentExecutor, s.logger)
	coord := coordinator.New(quantumExecutor, agentExecutor, s.logger)

	// 进程级 Token / 成本预算守卫：超过窗口限额的请求在路由后、
	// 分支启动前被拒绝。
	budgetMgr := budget.NewTokenBudgetManager(budget.DefaultBudgetConfig(), s.logger)
	pipe := pipeline.New(r, coord, s.logger).
		WithBudget(budgetMgr).
		WithMetrics(s.metricsCollector)

	s.executeHandler = handlers.NewExecuteHandler(pipe, s.logger)

	// /health 上报的引擎组件状态
	s.healthHandler.RegisterCheck(handlers.NewComponentHealthCheck("registry", func(ctx context.Context) error {
		if len(s.providerReg.Providers()) == 0 {
			return fmt.Errorf("no providers registered")
		}
		return nil
	}))
	s.healthHandler.RegisterCheck(handlers.NewComponentHealthCheck("router", func(ctx context.Context) error {
		if r == nil {
			return fmt.Errorf("router not initialized")
		}
		return nil
	}))
	s.healthHandler.RegisterCheck(handlers.NewComponentHealthCheck("executor", func(ctx context.Context) error {
		if quantumExecutor == nil || coord == nil {
			return fmt.Errorf("executor not initialized")
		}
		return nil
	}))

	if s.cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		mgr, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn("result cache disabled: redis unavailable", zap.Error(err))
		} else {
			s.resultCache = mgr
			s.executeHandler = s.executeHandler.WithCache(mgr, time.Minute)
			s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", mgr.Ping))
		}
	}

	// Raw single-call passthrough, for callers that want one provider's
	// completion directly instead of the orchestration engine.
	s.chatHandler = handlers.NewChatHandler(claude, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器（使用新的 handlers）
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点（使用新的 HealthHandler）
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/v1/execute", s.executeHandler.HandleExecute)
	mux.HandleFunc("/v1/chat/completions", s.chatHandler.HandleCompletion)

	// ========================================
	// 配置管理 API
	// ========================================
	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("Configuration API registered")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(context.Background(), float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	}
	if s.cfg.Server.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                        // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 OpenTelemetry 导出器
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭结果缓存
	if s.resultCache != nil {
		if err := s.resultCache.Close(); err != nil {
			s.logger.Error("Result cache shutdown error", zap.Error(err))
		}
	}

	// 6. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
