package domain

import (
	"context"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/observability"
	"github.com/openbridge/difyproxy/internal/openai"
)

// GatewayService orchestrates one inbound chat completion: translate the
// request, call Dify with the request's credential, translate the answer.
type GatewayService struct {
	client      ChatClient
	translator  *Translator
	catalog     *ModelCatalog
	counter     TokenCounter
	fallbackKey string
}

// ChatResult pairs a completed response with the Dify conversation ID so the
// transport layer can echo it back to the client.
type ChatResult struct {
	Completion     *openai.ChatCompletion
	ConversationID string
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(
	client ChatClient,
	translator *Translator,
	catalog *ModelCatalog,
	counter TokenCounter,
	cfg *dify.Config,
) *GatewayService {
	return &GatewayService{
		client:      client,
		translator:  translator,
		catalog:     catalog,
		counter:     counter,
		fallbackKey: cfg.APIKey,
	}
}

// ChatCompletion handles a non-streaming chat completion request.
func (g *GatewayService) ChatCompletion(
	ctx context.Context,
	apiKey string,
	req *openai.ChatCompletionRequest,
) (*ChatResult, error) {
	key, err := g.credential(apiKey)
	if err != nil {
		return nil, err
	}

	difyReq, err := g.translator.BuildChatMessage(req)
	if err != nil {
		return nil, err
	}

	model := g.catalog.Resolve(req.Model)
	logger := observability.FromContext(ctx)
	logger.Info("forwarding blocking chat message",
		observability.String("user", difyReq.User),
		observability.Int("query_length", len(difyReq.Query)),
	)

	resp, err := g.client.ChatMessage(ctx, key, difyReq)
	if err != nil {
		logger.Error("dify call failed", observability.Error(err))
		return nil, FromUpstream(err)
	}

	usage := usageFromUpstream(resp.Metadata.Usage, g.counter, req.Messages, resp.Answer)

	return &ChatResult{
		Completion:     NewChatCompletion(resp, model, usage),
		ConversationID: resp.ConversationID,
	}, nil
}

// ChatCompletionStream handles a streaming chat completion request.
func (g *GatewayService) ChatCompletionStream(
	ctx context.Context,
	apiKey string,
	req *openai.ChatCompletionRequest,
) (<-chan StreamChunk, error) {
	key, err := g.credential(apiKey)
	if err != nil {
		return nil, err
	}

	difyReq, err := g.translator.BuildChatMessage(req)
	if err != nil {
		return nil, err
	}

	model := g.catalog.Resolve(req.Model)
	logger := observability.FromContext(ctx)
	logger.Info("forwarding streaming chat message",
		observability.String("user", difyReq.User),
		observability.Int("query_length", len(difyReq.Query)),
	)

	events, err := g.client.ChatMessageStream(ctx, key, difyReq)
	if err != nil {
		logger.Error("dify stream failed", observability.Error(err))
		return nil, FromUpstream(err)
	}

	return TranslateStream(ctx, events, model, g.counter, req.Messages), nil
}

// Models returns the advertised model list.
func (g *GatewayService) Models() openai.ModelList {
	return openai.ModelList{
		Object: openai.ObjectList,
		Data:   g.catalog.List(),
	}
}

// credential picks the per-request key, falling back to the configured key.
func (g *GatewayService) credential(apiKey string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	if g.fallbackKey != "" {
		return g.fallbackKey, nil
	}
	return "", NewMissingCredential()
}
