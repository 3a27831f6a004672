package domain

import (
	"context"

	"github.com/openbridge/difyproxy/internal/dify"
)

// ChatClient is the outbound Dify API surface the gateway depends on.
type ChatClient interface {
	// ChatMessage sends a blocking chat-messages request.
	ChatMessage(ctx context.Context, apiKey string, req *dify.ChatRequest) (*dify.BlockingResponse, error)

	// ChatMessageStream sends a streaming chat-messages request. The channel
	// closes when the stream ends or the context is done.
	ChatMessageStream(ctx context.Context, apiKey string, req *dify.ChatRequest) (<-chan dify.StreamEvent, error)
}
