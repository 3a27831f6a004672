package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/openai"
)

type splitCounter struct{}

func (splitCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func TestUsageFromUpstream_PrefersUpstreamCounts(t *testing.T) {
	upstream := dify.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}

	usage := usageFromUpstream(upstream, splitCounter{}, nil, "ignored")

	require.Equal(t, openai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, usage)
}

func TestUsageFromUpstream_DerivesMissingTotal(t *testing.T) {
	upstream := dify.Usage{PromptTokens: 10, CompletionTokens: 20}

	usage := usageFromUpstream(upstream, splitCounter{}, nil, "")

	require.Equal(t, 30, usage.TotalTokens)
}

func TestUsageFromUpstream_EstimatesWhenUpstreamEmpty(t *testing.T) {
	messages := []openai.Message{
		{Role: openai.RoleSystem, Content: openai.MessageContent{Text: "be brief"}},
		{Role: openai.RoleUser, Content: openai.MessageContent{Text: "what is the answer"}},
	}

	usage := usageFromUpstream(dify.Usage{}, splitCounter{}, messages, "forty two")

	require.Equal(t, 6, usage.PromptTokens)
	require.Equal(t, 2, usage.CompletionTokens)
	require.Equal(t, 8, usage.TotalTokens)
}

func TestNewTokenCounter_CountsSomething(t *testing.T) {
	counter := NewTokenCounter()

	// Either tiktoken or the word fallback; both must count a token here.
	require.Positive(t, counter.Count("hello world"))
	require.Zero(t, counter.Count(""))
}
