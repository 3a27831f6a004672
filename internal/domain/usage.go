package domain

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/openai"
)

const usageEncoding = "cl100k_base"

// TokenCounter counts tokens in a piece of text. It backs usage estimation
// when Dify reports no token counts of its own.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a tiktoken-backed counter, falling back to a
// whitespace heuristic when the encoding cannot be loaded (e.g. offline).
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding(usageEncoding)
	if err != nil {
		return wordCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// usageFromUpstream converts Dify usage to the OpenAI shape, estimating with
// the counter when the upstream reported nothing.
func usageFromUpstream(
	upstream dify.Usage,
	counter TokenCounter,
	messages []openai.Message,
	answer string,
) openai.Usage {
	if !upstream.IsZero() {
		total := upstream.TotalTokens
		if total == 0 {
			total = upstream.PromptTokens + upstream.CompletionTokens
		}
		return openai.Usage{
			PromptTokens:     upstream.PromptTokens,
			CompletionTokens: upstream.CompletionTokens,
			TotalTokens:      total,
		}
	}

	prompt := 0
	for _, msg := range messages {
		prompt += counter.Count(msg.Content.Text)
	}
	completion := counter.Count(answer)

	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
