package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/domain"
	proxyhttp "github.com/openbridge/difyproxy/internal/http"
	"github.com/openbridge/difyproxy/internal/openai"
)

// mockChatClient is a hand-rolled domain.ChatClient for handler tests.
type mockChatClient struct {
	lastKey     string
	lastRequest *dify.ChatRequest

	response *dify.BlockingResponse
	events   []dify.StreamEvent
	err      error
}

func (m *mockChatClient) ChatMessage(_ context.Context, apiKey string, req *dify.ChatRequest) (*dify.BlockingResponse, error) {
	m.lastKey = apiKey
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockChatClient) ChatMessageStream(_ context.Context, apiKey string, req *dify.ChatRequest) (<-chan dify.StreamEvent, error) {
	m.lastKey = apiKey
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}

	ch := make(chan dify.StreamEvent, len(m.events))
	for _, event := range m.events {
		ch <- event
	}
	close(ch)
	return ch, nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func newTestHandler(t *testing.T, client domain.ChatClient) *proxyhttp.Handler {
	t.Helper()

	cfg := &dify.Config{DefaultUser: "openai-proxy-user"}
	catalog, err := domain.NewModelCatalog([]string{"dify-app"})
	require.NoError(t, err)

	gateway := domain.NewGatewayService(client, domain.NewTranslator(cfg), catalog, wordCounter{}, cfg)
	return proxyhttp.NewHandler(gateway)
}

func chatBody(t *testing.T, stream bool) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"model": "dify-app",
		"messages": []map[string]string{
			{"role": "user", "content": "hello there"},
		},
		"stream": stream,
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) openai.ErrorResponse {
	t.Helper()

	var envelope openai.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope
}

func TestHandleHealth(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
}

func TestHandleModels(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	w := httptest.NewRecorder()
	handler.HandleModels(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var list openai.ModelList
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Equal(t, openai.ObjectList, list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, "dify-app", list.Data[0].ID)
}

func TestHandleModels_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	w := httptest.NewRecorder()
	handler.HandleModels(w, httptest.NewRequest(http.MethodPost, "/v1/models", nil))

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleChatCompletions_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil))

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleChatCompletions_MissingAuthorization(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, false))
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	envelope := decodeErrorResponse(t, w)
	require.Equal(t, domain.ErrorTypeInvalidRequest, envelope.Error.Type)
	require.Contains(t, envelope.Error.Message, "Authorization")
}

func TestHandleChatCompletions_InvalidBody(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorResponse(t, w)
	require.Equal(t, domain.ErrorTypeInvalidRequest, envelope.Error.Type)
}

func TestHandleChatCompletions_NoMessages(t *testing.T) {
	handler := newTestHandler(t, &mockChatClient{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"dify-app","messages":[]}`))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorResponse(t, w)
	require.Contains(t, envelope.Error.Message, "no messages provided")
}

func TestHandleChatCompletions_Blocking(t *testing.T) {
	client := &mockChatClient{
		response: &dify.BlockingResponse{
			MessageID:      "msg-1",
			ConversationID: "conv-1",
			Answer:         "general kenobi",
			Metadata:       dify.Metadata{Usage: dify.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}},
			CreatedAt:      1700000000,
		},
	}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, false))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "conv-1", w.Header().Get(proxyhttp.ConversationIDHeader))
	require.Equal(t, "app-key", client.lastKey)

	var completion openai.ChatCompletion
	require.NoError(t, json.NewDecoder(w.Body).Decode(&completion))
	require.Equal(t, "msg-1", completion.ID)
	require.Equal(t, openai.ObjectChatCompletion, completion.Object)
	require.Equal(t, "dify-app", completion.Model)
	require.Equal(t, "general kenobi", completion.Choices[0].Message.Content)
	require.Equal(t, openai.FinishReasonStop, completion.Choices[0].FinishReason)
	require.Equal(t, 4, completion.Usage.TotalTokens)
}

func TestHandleChatCompletions_ConversationHeaderForwarded(t *testing.T) {
	client := &mockChatClient{response: &dify.BlockingResponse{Answer: "ok"}}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, false))
	req.Header.Set("Authorization", "Bearer app-key")
	req.Header.Set(proxyhttp.ConversationIDHeader, "conv-99")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "conv-99", client.lastRequest.ConversationID)
}

func TestHandleChatCompletions_UpstreamErrorPassthrough(t *testing.T) {
	client := &mockChatClient{
		err: &dify.StatusError{
			Status: http.StatusUnauthorized,
			API:    dify.APIError{Message: "Access token is invalid"},
		},
	}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, false))
	req.Header.Set("Authorization", "Bearer bad-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	envelope := decodeErrorResponse(t, w)
	require.Equal(t, domain.ErrorTypeUpstream, envelope.Error.Type)
	require.Contains(t, envelope.Error.Message, "Access token is invalid")
}

func TestHandleChatCompletions_Stream(t *testing.T) {
	client := &mockChatClient{
		events: []dify.StreamEvent{
			{Event: dify.EventMessage, MessageID: "msg-1", ConversationID: "conv-1", Answer: "Hello"},
			{Event: dify.EventMessage, MessageID: "msg-1", ConversationID: "conv-1", Answer: " world"},
			{
				Event:          dify.EventMessageEnd,
				MessageID:      "msg-1",
				ConversationID: "conv-1",
				Metadata:       dify.Metadata{Usage: dify.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}},
			},
		},
	}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, true))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, "conv-1", w.Header().Get(proxyhttp.ConversationIDHeader))

	chunks, done := parseSSE(t, w.Body.String())
	require.True(t, done, "stream must terminate with [DONE]")
	require.Len(t, chunks, 3)

	require.Equal(t, openai.RoleAssistant, chunks[0].Choices[0].Delta.Role)

	var concatenated strings.Builder
	for _, chunk := range chunks {
		require.Equal(t, openai.ObjectChatCompletionChunk, chunk.Object)
		concatenated.WriteString(chunk.Choices[0].Delta.Content)
	}
	require.Equal(t, "Hello world", concatenated.String())

	final := chunks[len(chunks)-1]
	require.NotNil(t, final.Choices[0].FinishReason)
	require.Equal(t, openai.FinishReasonStop, *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	require.Equal(t, 4, final.Usage.TotalTokens)
}

func TestHandleChatCompletions_StreamUpstreamError(t *testing.T) {
	client := &mockChatClient{
		err: &dify.StatusError{
			Status: http.StatusTooManyRequests,
			API:    dify.APIError{Message: "rate limited"},
		},
	}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, true))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	// Stream setup failed before any chunk, so a plain error envelope applies.
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	envelope := decodeErrorResponse(t, w)
	require.Equal(t, domain.ErrorTypeUpstream, envelope.Error.Type)
}

func TestHandleChatCompletions_StreamMidwayError(t *testing.T) {
	client := &mockChatClient{
		events: []dify.StreamEvent{
			{Event: dify.EventMessage, MessageID: "msg-1", Answer: "partial"},
			{Event: dify.EventError, Status: 500, Message: "model crashed"},
		},
	}
	handler := newTestHandler(t, client)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, true))
	req.Header.Set("Authorization", "Bearer app-key")
	w := httptest.NewRecorder()
	handler.HandleChatCompletions(w, req)

	// Headers were already committed as a stream; the error arrives as a
	// terminal SSE frame.
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "model crashed")
	require.True(t, strings.HasSuffix(body, openai.SSEDone))
}

// parseSSE decodes chunk frames from an SSE body and reports whether the
// [DONE] sentinel was seen.
func parseSSE(t *testing.T, body string) ([]openai.ChatCompletionChunk, bool) {
	t.Helper()

	var chunks []openai.ChatCompletionChunk
	done := false
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, openai.SSEPrefix)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			continue
		}

		var chunk openai.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks, done
}
