package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatline/internal/provider"
)

// AppendMessages 在同一事务中追加消息
func (db *DB) AppendMessages(ctx context.Context, conversationID string, msgs ...provider.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return db.WithTx(ctx, func(tx *Tx) error {
		for _, msg := range msgs {
			if err := tx.appendMessage(ctx, conversationID, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (tx *Tx) appendMessage(ctx context.Context, conversationID string, msg provider.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	var toolCalls, sender *string
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		s := string(data)
		toolCalls = &s
	}
	if msg.Sender != nil {
		data, err := json.Marshal(msg.Sender)
		if err != nil {
			return fmt.Errorf("encode sender: %w", err)
		}
		s := string(data)
		sender = &s
	}

	var toolCallID *string
	if msg.ToolCallID != "" {
		toolCallID = &msg.ToolCallID
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, sender, source_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), conversationID, msg.Role, string(content), toolCalls, toolCallID, sender, msg.SourceType, ts,
	)
	return err
}

// GetContextHistory 返回会话最近 limit 条消息（按时间正序），limit <= 0 返回全部
func (db *DB) GetContextHistory(ctx context.Context, conversationID string, limit int) ([]provider.Message, error) {
	query := `SELECT role, content, tool_calls, tool_call_id, sender, source_type, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []provider.Message
	for rows.Next() {
		var (
			m          provider.Message
			content    string
			toolCalls  sql.NullString
			toolCallID sql.NullString
			sender     sql.NullString
			sourceType sql.NullString
		)
		if err := rows.Scan(&m.Role, &content, &toolCalls, &toolCallID, &sender, &sourceType, &m.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if sender.Valid {
			m.Sender = &provider.Sender{}
			if err := json.Unmarshal([]byte(sender.String), m.Sender); err != nil {
				return nil, fmt.Errorf("decode sender: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.SourceType = sourceType.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 反转为时间正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteConversation 删除会话的全部历史
func (db *DB) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID)
	return err
}

// CountMessages 返回会话消息数
func (db *DB) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&count)
	return count, err
}
