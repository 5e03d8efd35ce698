package provider

import (
	"encoding/json"
	"strings"
	"time"
)

// Content types.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason constants.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// Content is one ordered segment of a message. Text and image segments
// interleave as authored.
type Content struct {
	Type     string    `json:"type"` // text, image_url
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL (data URI or http(s) URL).
type ImageURL struct {
	URL string `json:"url"`
}

// TextContent builds a text segment.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ImageContent builds an image_url segment.
func ImageContent(url string) Content {
	return Content{Type: ContentTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// IsImage reports whether the segment carries an image reference.
func (c Content) IsImage() bool {
	return c.Type == ContentTypeImageURL && c.ImageURL != nil && c.ImageURL.URL != ""
}

// Sender identifies the participant who authored a message.
type Sender struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
}

// DisplayName returns the group card, then nickname, then user id.
func (s *Sender) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Card != "" {
		return s.Card
	}
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.UserID
}

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    []Content  `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Sender     *Sender    `json:"sender,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	SourceType string     `json:"source_type,omitempty"`
}

// NewTextMessage builds a single-segment text message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   []Content{TextContent(text)},
		Timestamp: time.Now(),
	}
}

// Text joins the text segments of the message.
func (m Message) Text() string {
	return JoinText(m.Content)
}

// Images returns the image URLs of the message in authored order.
func (m Message) Images() []string {
	var urls []string
	for _, c := range m.Content {
		if c.IsImage() {
			urls = append(urls, c.ImageURL.URL)
		}
	}
	return urls
}

// JoinText concatenates the text segments of contents.
func JoinText(contents []Content) string {
	var sb strings.Builder
	for _, c := range contents {
		if c.Type != ContentTypeText || c.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// ToolCall represents a tool/function call requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool represents a tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a function tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCallLog records one executed tool call.
type ToolCallLog struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments,omitempty"`
	Result    string        `json:"result,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Request is one model call.
type Request struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Tools          []Tool    `json:"tools,omitempty"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// Response is the normalized result of one model call.
type Response struct {
	Contents     []Content     `json:"contents"`
	Usage        *Usage        `json:"usage,omitempty"`
	ToolCallLogs []ToolCallLog `json:"tool_call_logs,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Model        string        `json:"model,omitempty"`
}

// Text joins the text contents of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return JoinText(r.Contents)
}

// IsEmpty reports whether the response carries neither usable content nor
// a tool-call log.
func (r *Response) IsEmpty() bool {
	if r == nil {
		return true
	}
	if len(r.ToolCallLogs) > 0 {
		return false
	}
	for _, c := range r.Contents {
		if c.IsImage() {
			return false
		}
		if c.Type == ContentTypeText && strings.TrimSpace(c.Text) != "" {
			return false
		}
	}
	return true
}
