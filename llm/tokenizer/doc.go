// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，经 Provider Adapter 的
// CountTokens 对外提供；成本按上游返回的用量计算，上下文文件截断
// 按固定字节预算进行，二者都不调用本包。
package tokenizer
