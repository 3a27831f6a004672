package domain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/openai"
)

// StreamChunk is one unit of a translated response stream: either an OpenAI
// chunk or a terminal error. The final content chunk carries Done.
type StreamChunk struct {
	Chunk          *openai.ChatCompletionChunk
	ConversationID string
	Done           bool
	Err            *APIError
}

// TranslateStream re-chunks Dify SSE events into OpenAI chat.completion.chunk
// objects. The first emitted chunk carries the assistant role; message_end
// produces a final chunk with finish_reason stop and usage. The output
// channel is closed when the stream terminates.
func TranslateStream(
	ctx context.Context,
	events <-chan dify.StreamEvent,
	model string,
	counter TokenCounter,
	messages []openai.Message,
) <-chan StreamChunk {
	out := make(chan StreamChunk)

	go func() {
		defer close(out)

		id := ""
		created := time.Now().Unix()
		roleSent := false
		var answer strings.Builder

		finalize := func(conversationID string, upstream dify.Usage) {
			if id == "" {
				id = newCompletionID()
			}
			usage := usageFromUpstream(upstream, counter, messages, answer.String())
			finish := openai.FinishReasonStop
			chunk := newChunk(id, created, model, openai.Delta{}, &finish)
			chunk.Usage = &usage
			deliver(ctx, out, StreamChunk{Chunk: chunk, ConversationID: conversationID, Done: true})
		}

		for event := range events {
			if event.Err != nil {
				deliver(ctx, out, StreamChunk{Err: FromUpstream(event.Err)})
				return
			}

			switch event.Event {
			case dify.EventMessage, dify.EventAgentMessage:
				if id == "" {
					id = event.MessageID
					if id == "" {
						id = newCompletionID()
					}
					if event.CreatedAt != 0 {
						created = event.CreatedAt
					}
				}

				delta := openai.Delta{Content: event.Answer}
				if !roleSent {
					delta.Role = openai.RoleAssistant
					roleSent = true
				}
				answer.WriteString(event.Answer)

				chunk := StreamChunk{
					Chunk:          newChunk(id, created, model, delta, nil),
					ConversationID: event.ConversationID,
				}
				if !deliver(ctx, out, chunk) {
					return
				}

			case dify.EventMessageEnd:
				finalize(event.ConversationID, event.Metadata.Usage)
				return

			case dify.EventError:
				status := event.Status
				if status == 0 {
					status = http.StatusBadGateway
				}
				deliver(ctx, out, StreamChunk{
					Err: NewUpstreamError(status, fmt.Sprintf("Dify API error: %s", event.Message)),
				})
				return

			default:
				// ping and other housekeeping events
			}
		}

		// Upstream closed without a message_end; finalize so clients see a
		// terminated stream rather than a hang.
		if roleSent {
			finalize("", dify.Usage{})
		}
	}()

	return out
}

func newChunk(id string, created int64, model string, delta openai.Delta, finish *string) *openai.ChatCompletionChunk {
	return &openai.ChatCompletionChunk{
		ID:      id,
		Object:  openai.ObjectChatCompletionChunk,
		Created: created,
		Model:   model,
		Choices: []openai.ChunkChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finish,
			},
		},
	}
}

// deliver sends a chunk unless the context is done first.
func deliver(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
