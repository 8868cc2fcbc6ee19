// Copyright (c) QuantumForge Authors.
// Licensed under the MIT License.

/*
Package types 提供编排引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 llm、adapter、router、
quantum、pipeline 等上层模块提供统一的类型契约。所有跨包共享的消息结构、
错误码和 Context 传播工具均定义于此，以避免循环依赖。

# 核心类型

  - Message           — 对话消息（Role、Content、ToolCalls）
  - ToolSchema        — 工具定义（name + description + JSON Schema parameters）
  - ToolResult        — 工具执行结果
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - TokenUsage        — Token 消耗统计（prompt / completion / cost）

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRoles 等
  - 错误分类：Retryable、HTTPStatusForKind、HighestPriorityKind
    （多分支全部失败时按固定优先级挑选上报给调用方的错误种类）
*/
package types
