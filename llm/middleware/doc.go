// 版权所有 2026 QuantumForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供请求发送到上游模型服务之前的改写器链机制。

# 概述

Provider 实现（如 providers/anthropic）在构造上游请求前先让
ChatRequest 通过一条 RewriterChain，把上游 API 无法接受的参数组合
（如没有 tools 时的 tool_choice）清理掉。改写发生在弹性包装（重试/熔断）之内、
编排层之外：分支执行器看到的始终是原始请求。

# 核心接口

  - RequestRewriter：请求改写器接口，包含 Rewrite 与 Name 方法。
  - RewriterChain：改写器链，按顺序执行多个 RequestRewriter，
    任一失败则中断。

# 内置改写器

  - EmptyToolsCleaner：当 tools 为空（nil 或空数组）时清空 tool_choice；
    tools 字段本身不做改动。
*/
package middleware
