package openai_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbridge/difyproxy/internal/openai"
)

func TestMessageContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "plain string content",
			body: `{"role":"user","content":"hello there"}`,
			want: "hello there",
		},
		{
			name: "single text part",
			body: `{"role":"user","content":[{"type":"text","text":"hello"}]}`,
			want: "hello",
		},
		{
			name: "multiple text parts joined",
			body: `{"role":"user","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}`,
			want: "first\nsecond",
		},
		{
			name: "image parts are skipped",
			body: `{"role":"user","content":[{"type":"image_url"},{"type":"text","text":"describe"}]}`,
			want: "describe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg openai.Message
			err := json.Unmarshal([]byte(tt.body), &msg)
			require.NoError(t, err)
			require.Equal(t, tt.want, msg.Content.Text)
		})
	}
}

func TestMessageContent_UnmarshalJSON_Invalid(t *testing.T) {
	var msg openai.Message
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
	require.Error(t, err)
}

func TestMessageContent_MarshalJSON(t *testing.T) {
	msg := openai.Message{
		Role:    openai.RoleUser,
		Content: openai.MessageContent{Text: "hi"},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":"hi"}`, string(data))
}

func TestFormatSSE(t *testing.T) {
	framed := openai.FormatSSE([]byte(`{"id":"x"}`))
	require.Equal(t, "data: {\"id\":\"x\"}\n\n", string(framed))
}
