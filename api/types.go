// Package api provides API types and documentation for QuantumForge.
package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Envelope Types
// =============================================================================

// Response is the canonical envelope every handler wraps its payload in:
// Data on success, Error on failure, never both.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorInfo is the wire-level shape of a failed Response's Error field.
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	HTTPStatus int    `json:"http_status"`
}

// =============================================================================
// Chat Completion Types
// =============================================================================

// ChatRequest represents a chat completion request.
// @Description Chat completion request structure
type ChatRequest struct {
	// Trace ID for request tracking
	TraceID string `json:"trace_id,omitempty" example:"trace-123"`
	// Tenant ID for multi-tenancy
	TenantID string `json:"tenant_id,omitempty" example:"tenant-1"`
	// User ID
	UserID string `json:"user_id,omitempty" example:"user-1"`
	// Model name (e.g., gpt-4, claude-3-opus)
	Model string `json:"model" example:"gpt-4" binding:"required"`
	// Conversation messages
	Messages []Message `json:"messages" binding:"required"`
	// Maximum tokens to generate
	MaxTokens int `json:"max_tokens,omitempty" example:"4096"`
	// Sampling temperature (0-2)
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling parameter (0-1)
	TopP float32 `json:"top_p,omitempty" example:"1.0"`
	// Stop sequences
	Stop []string `json:"stop,omitempty"`
	// Available tools for function calling
	Tools []ToolSchema `json:"tools,omitempty"`
	// Tool choice mode (auto, none, or specific tool name)
	ToolChoice string `json:"tool_choice,omitempty" example:"auto"`
	// Request timeout duration
	Timeout string `json:"timeout,omitempty" example:"30s"`
	// Custom metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Tags for routing
	Tags []string `json:"tags,omitempty"`
}

// ChatResponse represents a chat completion response.
// @Description Chat completion response structure
type ChatResponse struct {
	// Response ID
	ID string `json:"id,omitempty" example:"chatcmpl-123"`
	// Provider that handled the request
	Provider string `json:"provider,omitempty" example:"openai"`
	// Model used
	Model string `json:"model" example:"gpt-4"`
	// Response choices
	Choices []ChatChoice `json:"choices"`
	// Token usage statistics
	Usage ChatUsage `json:"usage"`
	// Response creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// ChatChoice represents a single choice in the response.
// @Description Chat choice structure
type ChatChoice struct {
	// Choice index
	Index int `json:"index" example:"0"`
	// Reason for completion (stop, length, tool_calls, content_filter)
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Response message
	Message Message `json:"message"`
}

// ChatUsage represents token usage in a response.
// @Description Token usage statistics
type ChatUsage struct {
	// Tokens in the prompt
	PromptTokens int `json:"prompt_tokens" example:"100"`
	// Tokens in the completion
	CompletionTokens int `json:"completion_tokens" example:"50"`
	// Total tokens used
	TotalTokens int `json:"total_tokens" example:"150"`
}

// StreamChunk represents a streaming response chunk.
// @Description Streaming response chunk structure
type StreamChunk struct {
	// Chunk ID
	ID string `json:"id,omitempty" example:"chatcmpl-123"`
	// Provider name
	Provider string `json:"provider,omitempty" example:"openai"`
	// Model name
	Model string `json:"model,omitempty" example:"gpt-4"`
	// Choice index
	Index int `json:"index,omitempty" example:"0"`
	// Delta message content
	Delta Message `json:"delta"`
	// Finish reason (only in final chunk)
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Usage statistics (only in final chunk)
	Usage *ChatUsage `json:"usage,omitempty"`
	// Error information
	Error *ErrorDetail `json:"error,omitempty"`
}

// =============================================================================
// Message Types
// =============================================================================

// Message represents a conversation message.
// @Description Conversation message structure
type Message struct {
	// Message role (system, user, assistant, tool)
	Role string `json:"role" example:"user" binding:"required"`
	// Message content
	Content string `json:"content,omitempty" example:"Hello, how are you?"`
	// Name (for tool messages)
	Name string `json:"name,omitempty"`
	// Tool calls (for assistant messages)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Tool call ID (for tool messages)
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Image content for multimodal messages
	Images []ImageContent `json:"images,omitempty"`
	// Custom metadata
	Metadata interface{} `json:"metadata,omitempty"`
	// Message timestamp
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ToolCall represents a tool invocation request from the LLM.
// @Description Tool call structure
type ToolCall struct {
	// Tool call ID
	ID string `json:"id" example:"call_123"`
	// Tool name
	Name string `json:"name" example:"get_weather"`
	// Tool arguments as JSON
	Arguments json.RawMessage `json:"arguments"`
}

// ImageContent represents image data for multimodal messages.
// @Description Image content structure
type ImageContent struct {
	// Image content type (url or base64)
	Type string `json:"type" example:"url"`
	// Image URL (when type is url)
	URL string `json:"url,omitempty" example:"https://example.com/image.png"`
	// Base64 encoded image data (when type is base64)
	Data string `json:"data,omitempty"`
}

// =============================================================================
// Tool Types
// =============================================================================

// ToolSchema defines a tool's interface for LLM function calling.
// @Description Tool schema structure
type ToolSchema struct {
	// Tool name
	Name string `json:"name" example:"get_weather"`
	// Tool description
	Description string `json:"description,omitempty" example:"Get the current weather for a location"`
	// JSON Schema for tool parameters
	Parameters json.RawMessage `json:"parameters"`
	// Tool version
	Version string `json:"version,omitempty" example:"1.0.0"`
}

// ToolResult represents the result of a tool execution.
// @Description Tool result structure
type ToolResult struct {
	// Tool call ID
	ToolCallID string `json:"tool_call_id" example:"call_123"`
	// Tool name
	Name string `json:"name" example:"get_weather"`
	// Tool result as JSON
	Result json.RawMessage `json:"result"`
	// Error message if execution failed
	Error string `json:"error,omitempty"`
	// Execution duration
	Duration string `json:"duration,omitempty" example:"100ms"`
}

// ToolInvokeRequest represents a request to invoke a tool.
// @Description Tool invocation request
type ToolInvokeRequest struct {
	// Tool arguments
	Arguments json.RawMessage `json:"arguments" binding:"required"`
}

// =============================================================================
// Orchestration Types
// =============================================================================

// ExecuteRequest represents an orchestrated execution request.
// @Description Orchestrated execution request structure
type ExecuteRequest struct {
	// Task kind (code_generation, code_analysis, testing, custom)
	TaskKind string `json:"task_kind,omitempty" example:"code_generation"`
	// Free-text prompt
	Prompt string `json:"prompt" example:"implement a rate limiter" binding:"required"`
	// Optional persona hint (developer, reviewer, architect, tester, security, documenter)
	PersonaHint string `json:"persona_hint,omitempty" example:"developer"`
	// Attached files
	Files []FileAttachment `json:"files,omitempty"`
	// Maximum wall-clock latency in milliseconds
	MaxLatencyMS int `json:"max_latency_ms,omitempty" example:"30000"`
	// Maximum spend in USD
	MaxCostUSD float64 `json:"max_cost_usd,omitempty" example:"0.5"`
	// Maximum total tokens
	MaxTokens int `json:"max_tokens,omitempty" example:"8192"`
	// Whether to stream events
	Stream bool `json:"stream,omitempty" example:"false"`
	// Preferred providers in order
	PreferredProviders []string `json:"preferred_providers,omitempty"`
	// Preferred models in order
	PreferredModels []string `json:"preferred_models,omitempty"`
}

// FileAttachment is one user-supplied file.
// @Description File attachment structure
type FileAttachment struct {
	// File path
	Path string `json:"path" example:"main.go" binding:"required"`
	// File content
	Content string `json:"content"`
	// Language hint
	Language string `json:"language,omitempty" example:"go"`
}

// ExecuteResponse represents the orchestration result.
// @Description Orchestration result structure
type ExecuteResponse struct {
	// Request ID
	RequestID string `json:"request_id" example:"req-123"`
	// Winning branch ID
	ChosenBranchID string `json:"chosen_branch_id,omitempty"`
	// Final output
	Output string `json:"output"`
	// Strategy used (single, sequential, parallel, quantum, hybrid)
	Strategy string `json:"strategy" example:"quantum"`
	// Aggregate resource consumption across all branches
	Aggregate BranchAggregate `json:"aggregate"`
	// Per-branch summaries
	Branches []BranchSummary `json:"branches"`
}

// BranchSummary is the wire-level view of one speculative branch.
// @Description Branch summary structure
type BranchSummary struct {
	// Branch ID
	BranchID string `json:"branch_id"`
	// Candidate tuple the branch ran
	Candidate interface{} `json:"candidate"`
	// Terminal status (SUCCEEDED, FAILED, CANCELLED, TIMED_OUT)
	Status string `json:"status" example:"SUCCEEDED"`
	// Prompt tokens consumed
	TokensIn int `json:"tokens_in" example:"120"`
	// Completion tokens consumed
	TokensOut int `json:"tokens_out" example:"256"`
	// Cost in USD
	CostUSD float64 `json:"cost_usd" example:"0.004"`
	// Error kind when the branch did not succeed
	ErrorKind string `json:"error_kind,omitempty" example:"RATE_LIMIT"`
}

// BranchAggregate sums consumption across every branch, cancelled ones
// included.
// @Description Aggregate consumption structure
type BranchAggregate struct {
	// Total prompt tokens
	TokensIn int `json:"tokens_in" example:"480"`
	// Total completion tokens
	TokensOut int `json:"tokens_out" example:"1024"`
	// Total cost in USD
	CostUSD float64 `json:"cost_usd" example:"0.016"`
	// Wall-clock duration in milliseconds
	WallMS int64 `json:"wall_ms" example:"2150"`
}

// =============================================================================
// Model Manifest Types
// =============================================================================

// ManifestEntry describes one routable (provider, model) pair.
// @Description Model manifest entry structure
type ManifestEntry struct {
	// Provider ID
	ProviderID string `json:"provider_id" example:"anthropic"`
	// Canonical model ID
	ModelID string `json:"model_id" example:"claude-3-5-sonnet-20241022"`
	// Known legacy aliases
	Aliases []string `json:"aliases,omitempty"`
	// Context window size in tokens
	ContextWindow int `json:"context_window" example:"200000"`
	// Price per 1K input tokens (USD)
	InputPer1K float64 `json:"input_per_1k_usd" example:"0.003"`
	// Price per 1K output tokens (USD)
	OutputPer1K float64 `json:"output_per_1k_usd" example:"0.015"`
	// Capability tags
	Capabilities []string `json:"capabilities,omitempty"`
}

// HealthStatus represents provider health check result.
// @Description Provider health status
type HealthStatus struct {
	// Whether the provider is healthy
	Healthy bool `json:"healthy" example:"true"`
	// Response latency
	Latency string `json:"latency" example:"100ms"`
	// Error rate (0-1)
	ErrorRate float64 `json:"error_rate" example:"0.01"`
}

// =============================================================================
// Error Types
// =============================================================================

// ErrorResponse represents an error response.
// @Description Error response structure
type ErrorResponse struct {
	// Error details
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details.
// @Description Error detail structure
type ErrorDetail struct {
	// Error code
	Code string `json:"code" example:"INVALID_REQUEST"`
	// Human-readable error message
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP status code
	HTTPStatus int `json:"http_status,omitempty" example:"400"`
	// Whether the request can be retried
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// Provider that returned the error
	Provider string `json:"provider,omitempty" example:"anthropic"`
}
