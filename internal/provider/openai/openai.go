package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatline/internal/provider"
	"chatline/pkg/logger"
)

// Compile-time interface check.
var _ provider.Client = (*Client)(nil)

// AdapterType is the channel adapter name served by this package.
const AdapterType = "openai"

// Client talks to one OpenAI-compatible endpoint with one API key.
type Client struct {
	apiKey       string
	endpoint     string
	model        string
	maxTokens    int
	maxToolSteps int
	headers      map[string]string
	tools        provider.ToolExecutor
	httpClient   *http.Client
	log          zerolog.Logger
}

// New creates a client from channel options.
func New(opts provider.ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultEndpoint
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxToolSteps <= 0 {
		opts.MaxToolSteps = DefaultMaxToolSteps
	}

	// Strip trailing /v1 to avoid /v1/v1/chat/completions
	normalized := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	normalized = strings.TrimSuffix(normalized, "/v1")

	return &Client{
		apiKey:       opts.APIKey,
		endpoint:     normalized,
		model:        opts.Model,
		maxTokens:    opts.MaxTokens,
		maxToolSteps: opts.MaxToolSteps,
		headers:      opts.Headers,
		tools:        opts.ToolExecutor,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		log:          logger.Component("openai"),
	}
}

// Factory returns a provider.ClientFactory that builds OpenAI-compatible
// clients for every adapter type it is registered under.
func Factory() provider.ClientFactory {
	return provider.FactoryFunc(func(opts provider.ClientOptions) (provider.Client, error) {
		return New(opts), nil
	})
}

// SendMessage sends the request and, when a tool executor is configured,
// resolves tool calls for up to maxToolSteps rounds.
func (c *Client) SendMessage(ctx context.Context, req provider.Request) (*provider.Response, error) {
	messages := append([]provider.Message(nil), req.Messages...)
	var (
		total provider.Usage
		logs  []provider.ToolCallLog
	)

	for step := 0; ; step++ {
		round := req
		round.Messages = messages
		// Final round goes out without tools so the model has to answer.
		if step >= c.maxToolSteps {
			round.Tools = nil
		}

		resp, calls, err := c.roundTrip(ctx, round)
		if err != nil {
			return nil, err
		}
		total.Add(resp.Usage)

		if len(calls) == 0 || c.tools == nil || len(round.Tools) == 0 {
			resp.ToolCallLogs = append(logs, resp.ToolCallLogs...)
			resp.Usage = &total
			return resp, nil
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Contents,
			ToolCalls: calls,
			Timestamp: time.Now(),
		})
		for _, call := range calls {
			entry := c.runTool(ctx, call)
			logs = append(logs, entry)
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    []provider.Content{provider.TextContent(entry.Result)},
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			})
		}
	}
}

func (c *Client) runTool(ctx context.Context, call provider.ToolCall) provider.ToolCallLog {
	start := time.Now()
	entry := provider.ToolCallLog{ID: call.ID, Name: call.Name, Arguments: call.Arguments}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			entry.Result = fmt.Sprintf("invalid arguments: %v", err)
			entry.Duration = time.Since(start)
			return entry
		}
	}

	out, err := c.tools.ExecuteTool(ctx, call.Name, args)
	entry.Duration = time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
		entry.Result = "error: " + err.Error()
		return entry
	}
	entry.Result = out
	entry.Success = true
	return entry
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, req provider.Request) (*provider.Response, []provider.ToolCall, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, nil, err
	}

	c.log.Debug().Str("model", chatReq.Model).Int("messages", len(chatReq.Messages)).
		Bool("stream", chatReq.Stream).Msg("chat completion request")

	resp, err := c.doRequest(ctx, "/v1/chat/completions", chatReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, nil, handleErrorResponse(resp.StatusCode, body)
	}

	var parsed *chatResponse
	if chatReq.Stream {
		parsed, err = readStream(resp.Body)
	} else {
		parsed, err = readBody(resp.Body)
	}
	if err != nil {
		return nil, nil, err
	}
	if parsed.Error != nil {
		return nil, nil, handleErrorResponse(http.StatusOK, mustMarshal(parsed))
	}
	return convertResponse(parsed)
}

func readBody(r io.Reader) (*chatResponse, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &provider.ProviderError{
			Code: provider.ErrCodeNetworkError, Message: err.Error(), Provider: AdapterType, Retryable: true,
		}
	}
	var parsed chatResponse
	if len(bytes.TrimSpace(body)) == 0 {
		return &parsed, nil
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	return &parsed, nil
}

func (c *Client) buildRequest(req provider.Request) (*chatRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, "model is empty", AdapterType, false)
	}

	chatReq := &chatRequest{
		Model:    model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   req.Stream,
	}
	if req.Stream {
		chatReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	chatReq.MaxTokens = maxTokens

	if req.Temperature > 0 {
		temp := req.Temperature
		chatReq.Temperature = &temp
	}

	for _, msg := range req.Messages {
		cm, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		chatReq.Messages = append(chatReq.Messages, cm)
	}

	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return chatReq, nil
}

// convertMessage keeps plain-text messages as a string and switches to the
// multi-part form as soon as an image segment is present.
func convertMessage(msg provider.Message) (chatMessage, error) {
	cm := chatMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}

	hasImage := false
	for _, part := range msg.Content {
		if part.IsImage() {
			hasImage = true
			break
		}
	}

	var err error
	if hasImage {
		parts := make([]contentPart, 0, len(msg.Content))
		for _, part := range msg.Content {
			switch {
			case part.IsImage():
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLPart{URL: part.ImageURL.URL}})
			case part.Type == provider.ContentTypeText:
				parts = append(parts, contentPart{Type: "text", Text: part.Text})
			}
		}
		cm.Content, err = json.Marshal(parts)
	} else {
		cm.Content, err = json.Marshal(msg.Text())
	}
	if err != nil {
		return cm, fmt.Errorf("encode message content: %w", err)
	}

	for _, tc := range msg.ToolCalls {
		call := chatToolCall{ID: tc.ID, Type: "function"}
		call.Function.Name = tc.Name
		call.Function.Arguments = tc.Arguments
		cm.ToolCalls = append(cm.ToolCalls, call)
	}
	return cm, nil
}

// decodeContent accepts both the string and the multi-part content forms.
func decodeContent(raw json.RawMessage) []provider.Content {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []provider.Content{provider.TextContent(s)}
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	out := make([]provider.Content, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Type == "image_url" && p.ImageURL != nil:
			out = append(out, provider.ImageContent(p.ImageURL.URL))
		case p.Text != "":
			out = append(out, provider.TextContent(p.Text))
		}
	}
	return out
}

func convertResponse(resp *chatResponse) (*provider.Response, []provider.ToolCall, error) {
	result := &provider.Response{
		Model:        resp.Model,
		FinishReason: provider.FinishReasonStop,
	}
	var calls []provider.ToolCall

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.Contents = decodeContent(choice.Message.Content)
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, provider.ToolCall{
				ID:        tc.ID,
				Type:      "function",
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		switch choice.FinishReason {
		case "tool_calls":
			result.FinishReason = provider.FinishReasonToolCalls
		case "length":
			result.FinishReason = provider.FinishReasonLength
		}
	}
	if len(calls) > 0 {
		result.FinishReason = provider.FinishReasonToolCalls
	}

	if resp.Usage != nil {
		result.Usage = &provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, calls, nil
}

func (c *Client) doRequest(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, &provider.ProviderError{
				Code: provider.ErrCodeTimeout, Message: err.Error(), Provider: AdapterType, Retryable: true,
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &provider.ProviderError{
			Code: provider.ErrCodeNetworkError, Message: err.Error(), Provider: AdapterType, Retryable: true,
		}
	}
	return resp, nil
}

// handleErrorResponse converts an HTTP error response to a ProviderError.
func handleErrorResponse(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var errResp chatResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		message = errResp.Error.Message
		if errResp.Error.Type != "" {
			message = errResp.Error.Type + ": " + message
		}
	}
	lower := strings.ToLower(message)

	pe := &provider.ProviderError{Message: message, Provider: AdapterType, StatusCode: statusCode}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		pe.Code = provider.ErrCodeAuthFailed
	case statusCode == http.StatusPaymentRequired ||
		strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota"):
		pe.Code = provider.ErrCodeQuotaExceeded
	case statusCode == http.StatusTooManyRequests:
		pe.Code = provider.ErrCodeRateLimited
		pe.Retryable = true
	case statusCode == http.StatusNotFound:
		pe.Code = provider.ErrCodeModelNotFound
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		pe.Code = provider.ErrCodeTimeout
		pe.Retryable = true
	case statusCode >= 500:
		pe.Code = provider.ErrCodeServiceUnavailable
		pe.Retryable = true
	case statusCode == http.StatusBadRequest:
		pe.Code = provider.ErrCodeInvalidRequest
	default:
		pe.Code = provider.ErrCodeUnknown
	}
	return pe
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
