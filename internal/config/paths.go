package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv 覆盖配置目录的环境变量
const HomeEnv = "CHATLINE_HOME"

// DefaultConfigDir 返回配置目录：$CHATLINE_HOME 或 ~/.chatline
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".chatline"), nil
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// DefaultConfigPath 返回 config.yaml 路径
func DefaultConfigPath() (string, error) { return inConfigDir("config.yaml") }

// DefaultDataPath 返回 sqlite 数据库路径
func DefaultDataPath() (string, error) { return inConfigDir("data.db") }

// ExpandPath 展开 ~ 前缀和 $VAR / ${VAR} 环境变量
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
