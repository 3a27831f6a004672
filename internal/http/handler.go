package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openbridge/difyproxy/internal/domain"
	"github.com/openbridge/difyproxy/internal/observability"
	"github.com/openbridge/difyproxy/internal/openai"
)

// ConversationIDHeader carries the Dify conversation ID in both directions so
// OpenAI clients can continue a conversation across requests.
const ConversationIDHeader = "X-Conversation-Id"

// Handler handles HTTP requests.
type Handler struct {
	gateway *domain.GatewayService
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(gateway *domain.GatewayService) *Handler {
	return &Handler{
		gateway: gateway,
	}
}

// HandleChatCompletions processes POST /v1/chat/completions.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Early validation.
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	apiKey := bearerToken(r)

	// Parse request.
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.NewInvalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	// Conversation continuity may come via header instead of the body.
	if req.ConversationID == "" {
		req.ConversationID = r.Header.Get(ConversationIDHeader)
	}

	// Inject model and conversation into context for downstream logging.
	ctx = observability.WithModel(ctx, req.Model)
	if req.ConversationID != "" {
		ctx = observability.WithConversationID(ctx, req.ConversationID)
	}

	logger := observability.FromContext(ctx)
	logger.Info("chat completion request received",
		observability.Int("messages", len(req.Messages)),
		observability.Bool("stream", req.Stream),
	)

	// Handle streaming vs non-streaming.
	if req.Stream {
		h.handleStream(ctx, w, apiKey, &req)
		return
	}

	// Non-streaming response.
	result, err := h.gateway.ChatCompletion(ctx, apiKey, &req)
	if err != nil {
		logger.Error("chat completion failed", observability.Error(err))
		writeError(ctx, w, err)
		return
	}

	logger.Info("chat completion succeeded",
		observability.Int("tokens", result.Completion.Usage.TotalTokens),
		observability.String("conversation_id", result.ConversationID),
	)

	if result.ConversationID != "" {
		w.Header().Set(ConversationIDHeader, result.ConversationID)
	}
	w.Header().Set("Content-Type", "application/json")
	encodeErr := json.NewEncoder(w).Encode(result.Completion)
	if encodeErr != nil {
		logger.Error("failed to encode response", observability.Error(encodeErr))
		return
	}
}

func (h *Handler) handleStream(
	ctx context.Context,
	w http.ResponseWriter,
	apiKey string,
	req *openai.ChatCompletionRequest,
) {
	logger := observability.FromContext(ctx)
	logger.Info("stream request started")

	chunks, err := h.gateway.ChatCompletionStream(ctx, apiKey, req)
	if err != nil {
		logger.Error("stream setup failed", observability.Error(err))
		writeError(ctx, w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		writeError(ctx, w, domain.NewUpstreamError(http.StatusInternalServerError, "streaming not supported"))
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	started := false

	for {
		select {
		case <-ctx.Done():
			// Client disconnected or timeout; the upstream call aborts with
			// the same context.
			logger.Info("stream context done", observability.Error(ctx.Err()))
			return

		case chunk, chunkOk := <-chunks:
			if !chunkOk {
				// Channel closed normally
				logger.Info("stream completed normally")
				fmt.Fprint(w, openai.SSEDone)
				flusher.Flush()
				return
			}

			if chunk.Err != nil {
				logger.Error("stream chunk error", observability.Error(chunk.Err))
				h.writeStreamError(w, flusher, chunk.Err, started)
				return
			}

			// Echo the conversation before the first body write commits headers.
			if !started && chunk.ConversationID != "" {
				w.Header().Set(ConversationIDHeader, chunk.ConversationID)
			}
			started = true

			data, _ := json.Marshal(chunk.Chunk)
			if _, writeErr := w.Write(openai.FormatSSE(data)); writeErr != nil {
				logger.Info("client write failed", observability.Error(writeErr))
				return
			}
			flusher.Flush()

			if chunk.Done {
				logger.Info("stream completed")
				fmt.Fprint(w, openai.SSEDone)
				flusher.Flush()
				return
			}
		}
	}
}

// writeStreamError reports a stream failure. Before the first chunk the
// normal error envelope with its status still works; after that the status
// line is committed and the envelope goes out as a terminal SSE frame.
func (h *Handler) writeStreamError(w http.ResponseWriter, flusher http.Flusher, apiErr *domain.APIError, started bool) {
	if !started {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.Status)
		_ = json.NewEncoder(w).Encode(apiErr.Envelope())
		return
	}

	data, _ := json.Marshal(apiErr.Envelope())
	_, _ = w.Write(openai.FormatSSE(data))
	fmt.Fprint(w, openai.SSEDone)
	flusher.Flush()
}

// HandleModels processes GET /v1/models.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.gateway.Models()); err != nil {
		observability.FromContext(r.Context()).Error("failed to encode model list", observability.Error(err))
		return
	}
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"proxy":  "dify-openai",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

// bearerToken extracts the Dify API key from the Authorization header.
// Missing credentials are resolved downstream, where a configured fallback
// key may still apply.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeError serializes an error as the OpenAI error envelope.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.NewUpstreamError(http.StatusInternalServerError, err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	if encodeErr := json.NewEncoder(w).Encode(apiErr.Envelope()); encodeErr != nil {
		observability.FromContext(ctx).Error("failed to encode error response", observability.Error(encodeErr))
	}
}
