// Package storage 基于 SQLite 持久化会话历史、作用域设置与调用统计。
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"chatline/internal/config"
	"chatline/internal/storage/migrations"

	_ "modernc.org/sqlite"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// 每个新连接都会执行的 pragma
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// DB 封装数据库连接
type DB struct {
	*sql.DB
	path string
}

// Open 打开（必要时创建）数据库并执行迁移
func Open(path string) (*DB, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(expanded))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := migrations.Run(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DB{DB: sqlDB, path: expanded}, nil
}

// dsn 把 pragma 编进连接串，连接池里的每个连接都生效
func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Path 返回数据库文件路径
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion 返回已应用的迁移版本
func (db *DB) SchemaVersion() (int, error) {
	return migrations.Version(db.DB)
}

// Tx 封装事务
type Tx struct {
	*sql.Tx
}

// WithTx 在事务中执行 fn；fn 返回错误或 panic 时回滚
func (db *DB) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Tx{Tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}
