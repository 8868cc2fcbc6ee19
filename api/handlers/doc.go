// Copyright (c) QuantumForge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 QuantumForge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了编排引擎所有 HTTP 端点的请求处理逻辑，
包括编排执行（/v1/execute）、单 Provider 透传补全、健康检查以及
统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ExecuteHandler   — 编排入口，支持同步与逐行 JSON 流式事件输出
  - ChatHandler      — 单 Provider 透传补全处理器，支持 SSE 流式响应
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Registry、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 流式输出：execute 的逐行 JSON 事件流与 chat 的 text/event-stream
  - 结果缓存：ExecuteHandler.WithCache 按请求内容哈希缓存编排结果
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
