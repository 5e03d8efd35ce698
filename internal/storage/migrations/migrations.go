// Package migrations 管理内嵌 SQL 脚本的顺序执行。
// 脚本文件名格式为 NNN_name.sql，NNN 为版本号。
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const createTable = `CREATE TABLE IF NOT EXISTS _migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

type script struct {
	version int
	name    string
	body    string
}

// 脚本内嵌在二进制中，只需解析一次
var scripts = sync.OnceValues(func() ([]script, error) {
	entries, err := fs.ReadDir(FS, "scripts")
	if err != nil {
		return nil, err
	}

	var out []script
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		body, err := fs.ReadFile(FS, path.Join("scripts", name))
		if err != nil {
			return nil, err
		}
		out = append(out, script{version: version, name: name, body: string(body)})
	}
	slices.SortFunc(out, func(a, b script) int { return cmp.Compare(a.version, b.version) })
	return out, nil
})

// Run 按版本顺序执行所有未应用的脚本，每个脚本一个事务
func Run(db *sql.DB) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	todo, err := pending(ctx, db)
	if err != nil {
		return err
	}
	for _, s := range todo {
		if err := apply(ctx, db, s); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.name, err)
		}
	}
	return nil
}

// Version 返回已应用的最高版本，未迁移时为 0
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&version)
	return version, err
}

// Pending 返回尚未应用的版本号
func Pending(db *sql.DB) ([]int, error) {
	todo, err := pending(context.Background(), db)
	if err != nil {
		return nil, err
	}
	return lo.Map(todo, func(s script, _ int) int { return s.version }), nil
}

func pending(ctx context.Context, db *sql.DB) ([]script, error) {
	all, err := scripts()
	if err != nil {
		return nil, fmt.Errorf("load migration scripts: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	defer rows.Close()

	applied := map[int]struct{}{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.Reject(all, func(s script, _ int) bool {
		_, ok := applied[s.version]
		return ok
	}), nil
}

func apply(ctx context.Context, db *sql.DB, s script) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.body); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (version, name) VALUES (?, ?)", s.version, s.name); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
