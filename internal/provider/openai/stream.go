package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"chatline/internal/provider"
)

// readStream aggregates a server-sent event stream into a single response.
func readStream(r io.Reader) (*chatResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		text     strings.Builder
		result   = &chatResponse{}
		finish   string
		toolAcc  = map[int]*chatToolCall{}
		sawChunk bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Some gateways interleave keep-alive junk; skip it.
			continue
		}
		sawChunk = true
		if chunk.Error != nil {
			result.Error = chunk.Error
			return result, nil
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := toolAcc[idx]
				if !ok {
					acc = &chatToolCall{Type: "function"}
					toolAcc[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name = tc.Function.Name
				}
				acc.Function.Arguments += tc.Function.Arguments
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &provider.ProviderError{
			Code: provider.ErrCodeNetworkError, Message: "stream read: " + err.Error(), Provider: AdapterType, Retryable: true,
		}
	}
	if !sawChunk {
		return result, nil
	}

	content, _ := json.Marshal(text.String())
	choice := chatChoice{
		Message:      chatMessage{Role: provider.RoleAssistant, Content: content},
		FinishReason: finish,
	}

	indexes := make([]int, 0, len(toolAcc))
	for idx := range toolAcc {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		choice.Message.ToolCalls = append(choice.Message.ToolCalls, *toolAcc[idx])
	}

	result.Choices = []chatChoice{choice}
	return result, nil
}
