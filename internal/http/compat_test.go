package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/openbridge/difyproxy/internal/dify"
)

// These tests drive the proxy with the official OpenAI Go SDK to prove wire
// compatibility: if the SDK can parse our responses, standard OpenAI clients
// can too.

func newCompatServer(t *testing.T, client *mockChatClient) *httptest.Server {
	t.Helper()

	handler := newTestHandler(t, client)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handler.HandleChatCompletions)
	mux.HandleFunc("/v1/models", handler.HandleModels)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSDKClient(baseURL string) sdk.Client {
	return sdk.NewClient(
		option.WithAPIKey("app-test-key"),
		option.WithBaseURL(baseURL+"/v1"),
		option.WithMaxRetries(0),
	)
}

func TestOpenAISDK_ChatCompletion(t *testing.T) {
	upstream := &mockChatClient{
		response: &dify.BlockingResponse{
			MessageID:      "msg-1",
			ConversationID: "conv-1",
			Answer:         "general kenobi",
			Metadata:       dify.Metadata{Usage: dify.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}},
			CreatedAt:      1700000000,
		},
	}
	srv := newCompatServer(t, upstream)
	client := newSDKClient(srv.URL)

	completion, err := client.Chat.Completions.New(context.Background(), sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel("dify-app"),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage("hello there"),
		},
	})

	require.NoError(t, err)
	require.Equal(t, "msg-1", completion.ID)
	require.Equal(t, "general kenobi", completion.Choices[0].Message.Content)
	require.Equal(t, int64(4), completion.Usage.TotalTokens)

	// The SDK bearer token arrived upstream as the Dify credential.
	require.Equal(t, "app-test-key", upstream.lastKey)
	require.Equal(t, "hello there", upstream.lastRequest.Query)
}

func TestOpenAISDK_ChatCompletionStreaming(t *testing.T) {
	upstream := &mockChatClient{
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
	srv := newCompatServer(t, upstream)
	client := newSDKClient(srv.URL)

	stream := client.Chat.Completions.NewStreaming(context.Background(), sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel("dify-app"),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage("hello there"),
		},
	})

	var content strings.Builder
	sawFinish := false
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != "" {
			sawFinish = true
		}
	}

	require.NoError(t, stream.Err())
	require.Equal(t, "Hello world", content.String())
	require.True(t, sawFinish, "stream must carry a finish_reason")
}

func TestOpenAISDK_ModelList(t *testing.T) {
	srv := newCompatServer(t, &mockChatClient{})
	client := newSDKClient(srv.URL)

	page, err := client.Models.List(context.Background())

	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, "dify-app", page.Data[0].ID)
}
