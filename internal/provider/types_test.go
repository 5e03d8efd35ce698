package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want bool
	}{
		{"nil response", nil, true},
		{"no contents", &Response{}, true},
		{"whitespace text", &Response{Contents: []Content{TextContent("  \n ")}}, true},
		{"text", &Response{Contents: []Content{TextContent("hi")}}, false},
		{"image only", &Response{Contents: []Content{ImageContent("https://x/cat.png")}}, false},
		{"image without url", &Response{Contents: []Content{{Type: ContentTypeImageURL}}}, true},
		{"tool call log only", &Response{ToolCallLogs: []ToolCallLog{{Name: "current_time"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.IsEmpty())
		})
	}
}

func TestMessageTextAndImages(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Content: []Content{
			TextContent("look at"),
			ImageContent("https://x/1.png"),
			TextContent("and this"),
			ImageContent("https://x/2.png"),
		},
	}
	assert.Equal(t, "look at\nand this", msg.Text())
	assert.Equal(t, []string{"https://x/1.png", "https://x/2.png"}, msg.Images())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	u.Add(&Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	u.Add(nil)
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}, u)
}

func TestSenderDisplayName(t *testing.T) {
	var nilSender *Sender
	assert.Equal(t, "", nilSender.DisplayName())
	assert.Equal(t, "10001", (&Sender{UserID: "10001"}).DisplayName())
	assert.Equal(t, "neko", (&Sender{UserID: "10001", Nickname: "neko"}).DisplayName())
	assert.Equal(t, "card", (&Sender{UserID: "10001", Nickname: "neko", Card: "card"}).DisplayName())
}
