package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatline/internal/stats"
)

var _ stats.Sink = (*DB)(nil)

// RecordAPICall 写入一条 API 调用记录
func (db *DB) RecordAPICall(ctx context.Context, call stats.APICall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	var chain *string
	if len(call.SwitchChain) > 0 {
		data, err := json.Marshal(call.SwitchChain)
		if err != nil {
			return err
		}
		s := string(data)
		chain = &s
	}

	_, err := db.ExecContext(ctx, `INSERT INTO api_calls (
		id, conversation_id, user_id, group_id, scenario, model, channel_id, channel_name, key_index,
		success, error_type, error, fallback_used, total_retries, attempts, switch_chain,
		prompt_tokens, output_tokens, total_tokens, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.ConversationID, call.UserID, call.GroupID, call.Scenario, call.Model,
		call.ChannelID, call.ChannelName, call.KeyIndex,
		call.Success, call.ErrorType, call.Error, call.FallbackUsed, call.TotalRetries, call.Attempts, chain,
		call.PromptTokens, call.OutputTokens, call.TotalTokens, call.Duration.Milliseconds(), call.CreatedAt,
	)
	return err
}

// RecordToolCall 写入一条工具调用记录
func (db *DB) RecordToolCall(ctx context.Context, call stats.ToolCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO tool_calls (name, success, conversation_id, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)",
		call.Name, call.Success, call.ConversationID, call.Duration.Milliseconds(), call.CreatedAt,
	)
	return err
}

// ModelUsage 按模型聚合的调用统计
type ModelUsage struct {
	Model       string `json:"model"`
	Calls       int    `json:"calls"`
	Successes   int    `json:"successes"`
	Fallbacks   int    `json:"fallbacks"`
	TotalTokens int64  `json:"total_tokens"`
}

// ModelUsageSince 汇总 since 之后的调用
func (db *DB) ModelUsageSince(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	rows, err := db.QueryContext(ctx, `SELECT model, COUNT(*), SUM(success), SUM(fallback_used), SUM(total_tokens)
		FROM api_calls WHERE created_at >= ? GROUP BY model ORDER BY COUNT(*) DESC, model`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Calls, &u.Successes, &u.Fallbacks, &u.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ToolUsage 按工具聚合的调用统计
type ToolUsage struct {
	Name      string `json:"name"`
	Calls     int    `json:"calls"`
	Successes int    `json:"successes"`
}

// ToolUsageSince 汇总 since 之后的工具调用
func (db *DB) ToolUsageSince(ctx context.Context, since time.Time) ([]ToolUsage, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, COUNT(*), SUM(success)
		FROM tool_calls WHERE created_at >= ? GROUP BY name ORDER BY COUNT(*) DESC, name`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolUsage
	for rows.Next() {
		var u ToolUsage
		if err := rows.Scan(&u.Name, &u.Calls, &u.Successes); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
