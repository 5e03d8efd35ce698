package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ScopeRecord 一条作用域设置
type ScopeRecord struct {
	ScopeType string          `json:"scope_type"`
	ScopeID   string          `json:"scope_id"`
	Settings  json.RawMessage `json:"settings"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PutScopeSettings 写入（覆盖）作用域设置
func (db *DB) PutScopeSettings(ctx context.Context, scopeType, scopeID string, settings any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT OR REPLACE INTO scope_settings (scope_type, scope_id, settings, updated_at) VALUES (?, ?, ?, ?)",
		scopeType, scopeID, string(data), time.Now(),
	)
	return err
}

// GetScopeSettings 读取作用域设置到 out，不存在时返回 ErrNotFound
func (db *DB) GetScopeSettings(ctx context.Context, scopeType, scopeID string, out any) error {
	var data string
	err := db.QueryRowContext(ctx,
		"SELECT settings FROM scope_settings WHERE scope_type = ? AND scope_id = ?",
		scopeType, scopeID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

// DeleteScopeSettings 删除作用域设置
func (db *DB) DeleteScopeSettings(ctx context.Context, scopeType, scopeID string) error {
	result, err := db.ExecContext(ctx,
		"DELETE FROM scope_settings WHERE scope_type = ? AND scope_id = ?", scopeType, scopeID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScopeSettings 列出某类作用域的全部设置，scopeType 为空时列出全部
func (db *DB) ListScopeSettings(ctx context.Context, scopeType string) ([]ScopeRecord, error) {
	query := "SELECT scope_type, scope_id, settings, updated_at FROM scope_settings"
	var args []any
	if scopeType != "" {
		query += " WHERE scope_type = ?"
		args = append(args, scopeType)
	}
	query += " ORDER BY scope_type, scope_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ScopeRecord
	for rows.Next() {
		var r ScopeRecord
		var data string
		if err := rows.Scan(&r.ScopeType, &r.ScopeID, &data, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Settings = json.RawMessage(data)
		records = append(records, r)
	}
	return records, rows.Err()
}
