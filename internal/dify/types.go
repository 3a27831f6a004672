// Package dify contains the wire types and HTTP client for the Dify
// application API (POST /chat-messages, blocking and streaming modes).
package dify

import "encoding/json"

// Response modes accepted by the chat-messages endpoint.
const (
	ResponseModeBlocking  = "blocking"
	ResponseModeStreaming = "streaming"
)

// SSE event types emitted by Dify in streaming mode.
const (
	EventMessage      = "message"
	EventAgentMessage = "agent_message"
	EventMessageEnd   = "message_end"
	EventError        = "error"
	EventPing         = "ping"
)

// ChatRequest is sent to POST /chat-messages.
type ChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"` // "blocking" | "streaming"
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
}

// BlockingResponse is the full response for response_mode=blocking.
type BlockingResponse struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	Mode           string   `json:"mode"`
	Answer         string   `json:"answer"`
	Metadata       Metadata `json:"metadata"`
	CreatedAt      int64    `json:"created_at"`
}

// Metadata is the metadata block attached to answers and message_end events.
type Metadata struct {
	Usage Usage `json:"usage"`
}

// Usage is Dify's token accounting. Dify reports more fields (prices,
// latency); only the token counts matter to the proxy.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether the upstream supplied no token counts.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// StreamEvent is one SSE event for response_mode=streaming.
type StreamEvent struct {
	Event          string   `json:"event"`
	TaskID         string   `json:"task_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Answer         string   `json:"answer,omitempty"`
	Metadata       Metadata `json:"metadata,omitempty"`
	CreatedAt      int64    `json:"created_at,omitempty"`

	// Error event fields.
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Err is set when the stream reader itself fails.
	Err error `json:"-"`
}

// APIError is the error body Dify returns on non-2xx responses.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseAPIError decodes an error body, falling back to the raw text when the
// body is not the documented JSON shape.
func ParseAPIError(body []byte) APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	return apiErr
}
