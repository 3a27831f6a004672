package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/openai"
)

// systemPromptInput is the Dify inputs key carrying joined system messages.
const systemPromptInput = "system_prompt"

// Translator maps OpenAI chat requests onto Dify chat-messages calls and
// Dify answers back onto OpenAI responses.
type Translator struct {
	validate    *validator.Validate
	defaultUser string
}

// NewTranslator creates a translator using the configured default user.
func NewTranslator(cfg *dify.Config) *Translator {
	return &Translator{
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		defaultUser: cfg.DefaultUser,
	}
}

// BuildChatMessage converts an OpenAI chat request into a Dify chat-messages
// body. Dify takes a single query, so the last user message becomes the
// query and system messages are joined into the system_prompt input.
func (t *Translator) BuildChatMessage(req *openai.ChatCompletionRequest) (*dify.ChatRequest, error) {
	if req == nil {
		return nil, NewInvalidRequest("request cannot be nil")
	}

	if len(req.Messages) == 0 {
		return nil, NewInvalidRequest("no messages provided")
	}

	if err := t.validate.Struct(req); err != nil {
		return nil, NewInvalidRequest(fmt.Sprintf("invalid request: %v", err))
	}

	query := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == openai.RoleUser {
			query = req.Messages[i].Content.Text
			break
		}
	}
	if query == "" {
		return nil, NewInvalidRequest("no user message found")
	}

	inputs := map[string]any{}
	systemParts := make([]string, 0, 1)
	for _, msg := range req.Messages {
		if msg.Role == openai.RoleSystem && msg.Content.Text != "" {
			systemParts = append(systemParts, msg.Content.Text)
		}
	}
	if len(systemParts) > 0 {
		inputs[systemPromptInput] = strings.Join(systemParts, "\n")
	}

	user := req.User
	if user == "" {
		user = t.defaultUser
	}

	return &dify.ChatRequest{
		Inputs:         inputs,
		Query:          query,
		ConversationID: req.ConversationID,
		User:           user,
	}, nil
}

// NewChatCompletion converts a Dify blocking response into an OpenAI chat
// completion.
func NewChatCompletion(resp *dify.BlockingResponse, model string, usage openai.Usage) *openai.ChatCompletion {
	id := resp.MessageID
	if id == "" {
		id = newCompletionID()
	}

	created := resp.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}

	return &openai.ChatCompletion{
		ID:      id,
		Object:  openai.ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: []openai.Choice{
			{
				Index: 0,
				Message: openai.ChoiceMessage{
					Role:    openai.RoleAssistant,
					Content: resp.Answer,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
		Usage: usage,
	}
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}
