package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quantumforge/engine/llm/circuitbreaker"
	"github.com/quantumforge/engine/llm/idempotency"
	"github.com/quantumforge/engine/llm/retry"
	"go.uber.org/zap"
)

// ResilientProvider 具有弹性能力的 Provider 包装器
// 提供重试、幂等和熔断功能
// 遵循装饰器模式：增强原有 Provider 而不修改其代码
//
// 编排引擎把它套在每个上游 Provider 外面，再交给 Provider Registry；
// 分支层（adapter）只负责按 ErrorKind 分类和遵守分支墙钟预算，
// 单次调用内的重试与熔断都发生在这里。
type ResilientProvider struct {
	provider          Provider
	retryer           retry.Retryer
	idempotency       idempotency.Manager
	circuitBreaker    circuitbreaker.CircuitBreaker
	logger            *zap.Logger
	enableIdempotency bool
	idempotencyTTL    time.Duration
}

// ResilientConfig 弹性 Provider 配置
type ResilientConfig struct {
	// RetryPolicy 重试策略（nil 时使用 retry.DefaultRetryPolicy）
	RetryPolicy *retry.RetryPolicy

	// CircuitBreaker 熔断器配置（nil 时使用 circuitbreaker.DefaultConfig）
	CircuitBreaker *circuitbreaker.Config

	// Idempotency 幂等性管理器（nil 时使用进程内存实现）
	Idempotency idempotency.Manager

	// EnableIdempotency 是否启用幂等性
	EnableIdempotency bool

	// IdempotencyTTL 幂等键缓存时间
	IdempotencyTTL time.Duration
}

// DefaultResilientConfig 返回默认配置
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		RetryPolicy:       retry.DefaultRetryPolicy(),
		CircuitBreaker:    circuitbreaker.DefaultConfig(),
		EnableIdempotency: true,
		IdempotencyTTL:    1 * time.Hour,
	}
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, config *ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if config == nil {
		config = DefaultResilientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	idem := config.Idempotency
	if idem == nil && config.EnableIdempotency {
		idem = idempotency.NewMemoryManager(logger)
	}

	return &ResilientProvider{
		provider:          provider,
		retryer:           retry.NewBackoffRetryer(config.RetryPolicy, logger),
		idempotency:       idem,
		circuitBreaker:    circuitbreaker.NewCircuitBreaker(config.CircuitBreaker, logger),
		logger:            logger,
		enableIdempotency: config.EnableIdempotency,
		idempotencyTTL:    config.IdempotencyTTL,
	}
}

// Completion 实现 Provider.Completion
// 集成重试、幂等和熔断能力
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	// 生成幂等键
	idempotencyKey := ""
	if rp.enableIdempotency && rp.idempotency != nil {
		key, err := rp.generateIdempotencyKey(req)
		if err != nil {
			rp.logger.Warn("生成幂等键失败，跳过幂等性检查", zap.Error(err))
		} else {
			idempotencyKey = key

			// 检查是否有缓存结果
			if cached, found, err := rp.idempotency.Get(ctx, idempotencyKey); err == nil && found {
				rp.logger.Debug("幂等键命中，返回缓存结果",
					zap.String("key", idempotencyKey),
				)

				var resp ChatResponse
				if err := json.Unmarshal(cached, &resp); err == nil {
					return &resp, nil
				}
			}
		}
	}

	// 执行调用：熔断器在外层，重试在内层
	var resp *ChatResponse

	callFn := func() error {
		var err error
		resp, err = rp.provider.Completion(ctx, req)
		return err
	}

	err := rp.circuitBreaker.Call(ctx, func() error {
		if rp.retryer != nil {
			return rp.retryer.Do(ctx, callFn)
		}
		return callFn()
	})
	if err != nil {
		return nil, err
	}

	// 缓存结果（幂等性）
	if rp.enableIdempotency && idempotencyKey != "" && rp.idempotency != nil {
		if cacheErr := rp.idempotency.Set(ctx, idempotencyKey, resp, rp.idempotencyTTL); cacheErr != nil {
			rp.logger.Warn("缓存幂等结果失败",
				zap.String("key", idempotencyKey),
				zap.Error(cacheErr),
			)
		}
	}

	return resp, nil
}

// Stream 实现 Provider.Stream
// 注意：流式调用不启用重试和幂等性（因为无法缓存 SSE 流）
// 仅使用熔断器状态保护
func (rp *ResilientProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if rp.circuitBreaker != nil && rp.circuitBreaker.State() == circuitbreaker.StateOpen {
		return nil, circuitbreaker.ErrCircuitOpen
	}
	return rp.provider.Stream(ctx, req)
}

// HealthCheck 实现 Provider.HealthCheck
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 实现 Provider.Name
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}

// SupportsNativeFunctionCalling 实现 Provider.SupportsNativeFunctionCalling
// 委托给底层 Provider
func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}

// ListModels 实现 Provider.ListModels
func (rp *ResilientProvider) ListModels(ctx context.Context) ([]Model, error) {
	return rp.provider.ListModels(ctx)
}

// generateIdempotencyKey 生成幂等键
// 基于请求的确定性参数（排除 temperature、top_p 等采样参数）
func (rp *ResilientProvider) generateIdempotencyKey(req *ChatRequest) (string, error) {
	deterministicReq := struct {
		Model    string       `json:"model"`
		Messages []Message    `json:"messages"`
		Tools    []ToolSchema `json:"tools,omitempty"`
	}{
		Model:    req.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
	}

	return rp.idempotency.GenerateKey(deterministicReq)
}

// WrapProviderWithResilience 便捷函数：为 Provider 添加弹性能力
// 使用默认配置创建 ResilientProvider
func WrapProviderWithResilience(provider Provider, logger *zap.Logger) Provider {
	return NewResilientProvider(provider, nil, logger)
}
