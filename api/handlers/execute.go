package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/internal/cache"
	"github.com/quantumforge/engine/pipeline"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
)

// ExecuteHandler serves POST /v1/execute: the single entry point
// that drives a request through the full pipeline and returns an
// OrchestrationResult, either as one JSON body or as an SSE stream.
type ExecuteHandler struct {
	pipeline       *pipeline.Pipeline
	logger         *zap.Logger
	defaultTimeout time.Duration

	// cache, when non-nil, memoizes successful non-streaming results by
	// request content so identical prompts skip re-running providers.
	// Stream requests always bypass it: each stream carries its own
	// token-by-token events, which a cache hit cannot replay faithfully.
	cache    *cache.Manager
	cacheTTL time.Duration
}

// NewExecuteHandler builds a handler over an already-wired Pipeline.
func NewExecuteHandler(p *pipeline.Pipeline, logger *zap.Logger) *ExecuteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecuteHandler{pipeline: p, logger: logger, defaultTimeout: 120 * time.Second}
}

// WithCache attaches a result cache to h, used for non-streaming requests
// only. ttl <= 0 falls back to one minute.
func (h *ExecuteHandler) WithCache(c *cache.Manager, ttl time.Duration) *ExecuteHandler {
	if ttl <= 0 {
		ttl = time.Minute
	}
	h.cache = c
	h.cacheTTL = ttl
	return h
}

func (h *ExecuteHandler) cacheKey(req pipeline.Request) (string, bool) {
	if h.cache == nil {
		return "", false
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return "execute:" + hex.EncodeToString(sum[:]), true
}

// =============================================================================
// 📦 SSE 事件帧
// =============================================================================

// sseFrame is the envelope for the meta, token, superseded and
// branch_status events; result and error events carry the pipeline's
// result or error value directly.
type sseFrame struct {
	RequestID string `json:"request_id,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Status    string `json:"status,omitempty"`
	Branches  []string `json:"branches,omitempty"`
}

// HandleExecute dispatches to streaming or non-streaming handling based
// on the decoded request's stream flag.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req pipeline.Request
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pipeline.DeadlineFor(req, h.defaultTimeout))
	defer cancel()

	if req.Stream {
		h.handleStream(ctx, w, req)
		return
	}
	h.handleSync(ctx, w, req)
}

func (h *ExecuteHandler) handleSync(ctx context.Context, w http.ResponseWriter, req pipeline.Request) {
	key, cacheable := h.cacheKey(req)
	if cacheable {
		var cached branch.Result
		if err := h.cache.GetJSON(ctx, key, &cached); err == nil {
			WriteSuccess(w, cached)
			return
		}
	}

	result, intakeErr := h.pipeline.Execute(ctx, req, nil)
	if intakeErr != nil {
		WriteError(w, intakeErr, h.logger)
		return
	}

	if kind, failed := pipeline.ErrorFor(result); failed {
		err := types.NewError(kind, "all branches failed").WithHTTPStatus(types.HTTPStatusForKind(kind))
		WriteError(w, err, h.logger)
		return
	}

	if cacheable {
		if err := h.cache.SetJSON(ctx, key, result, h.cacheTTL); err != nil {
			h.logger.Warn("failed to cache execute result", zap.Error(err))
		}
	}
	WriteSuccess(w, result)
}

func (h *ExecuteHandler) handleStream(ctx context.Context, w http.ResponseWriter, req pipeline.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	writeEvent(w, flusher, "meta", sseFrame{RequestID: ""})

	events := func(e quantum.StreamEvent) {
		switch e.Type {
		case "token":
			writeEvent(w, flusher, "token", sseFrame{BranchID: e.BranchID, Chunk: e.Chunk})
		case "superseded":
			writeEvent(w, flusher, "superseded", sseFrame{BranchID: e.BranchID, Branches: e.Superseded})
		case "branch_status":
			writeEvent(w, flusher, "branch_status", sseFrame{BranchID: e.BranchID, Status: string(e.Status)})
		}
	}

	result, intakeErr := h.pipeline.Execute(ctx, req, events)
	if intakeErr != nil {
		writeEvent(w, flusher, "error", intakeErr)
		return
	}

	if kind, failed := pipeline.ErrorFor(result); failed {
		err := types.NewError(kind, "all branches failed").WithHTTPStatus(types.HTTPStatusForKind(kind))
		writeEvent(w, flusher, "error", err)
		return
	}

	writeEvent(w, flusher, "result", result)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	_ = json.NewEncoder(w).Encode(payload)
	w.Write([]byte("\n"))
	flusher.Flush()
}
