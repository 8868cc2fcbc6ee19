/*
Package config 提供 QuantumForge 引擎的配置管理功能。

# 概述

config 包负责应用配置的完整生命周期管理，包括多源加载、
运行时热重载、变更审计与 HTTP 管理 API。配置按
"默认值 -> YAML 文件 -> 环境变量" 的优先级合并。

# 核心结构

  - Config: 顶层配置聚合，涵盖 Server、Branch、Redis、
    Orchestration、Quantum、LLM、Log、Telemetry
  - Loader: 配置加载器，支持 Builder 模式链式设置
    文件路径、环境变量前缀与自定义验证器
  - HotReloadManager: 热重载管理器，支持文件监听、
    局部字段更新、变更回调与变更历史（不提供回滚与版本号）
  - FileWatcher: 文件变更监听器，基于轮询 + 去抖机制
    触发配置重载
  - ConfigAPIHandler: HTTP API 处理器，提供配置查询、
    更新、热重载触发与变更历史查询端点

# 主要能力

  - 多源加载: YAML 文件、环境变量（QUANTUMFORGE_ 前缀）、默认值
  - 热重载: 文件监听自动重载 + API 手动触发，支持字段级更新
  - 安全治理: API 输出中敏感字段脱敏、ConfigAPIMiddleware 鉴权
    （X-API-Key Header 或 api_key 查询参数）、CORS 控制
  - 变更审计: 变更历史记录（GetChangeLog 查询）；不提供版本号与回滚
  - 配置验证: 内置基础校验 + Loader.WithValidator 自定义验证函数

# 使用示例

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("QUANTUMFORGE").
		Load()
*/
package config
