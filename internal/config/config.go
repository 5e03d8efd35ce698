package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"chatline/internal/channel"
)

// Config 是应用配置的根结构体
type Config struct {
	Version  string            `mapstructure:"version" yaml:"version"`
	Log      LogConfig         `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Gateway  GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Models   ModelsConfig      `mapstructure:"models" yaml:"models"`
	Retry    RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Dispatch DispatchConfig    `mapstructure:"dispatch" yaml:"dispatch"`
	Tools    ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Channels []channel.Channel `mapstructure:"channels" yaml:"channels"`
	Context  ContextConfig     `mapstructure:"context" yaml:"context"`
	Prompt   PromptConfig      `mapstructure:"prompt" yaml:"prompt"`
	Presets  []PresetConfig    `mapstructure:"presets" yaml:"presets"`
	Health   HealthConfig      `mapstructure:"health" yaml:"health"`
	Scope    ScopeConfig       `mapstructure:"scope" yaml:"scope"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port int    `mapstructure:"port" yaml:"port"`
	Host string `mapstructure:"host" yaml:"host"`
	// Token 非空时要求请求携带 Authorization: Bearer <token>
	Token     string          `mapstructure:"token" yaml:"token,omitempty"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 的令牌桶限流
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ModelsConfig 各场景的全局模型
// 场景模型为空时回落到 Default
type ModelsConfig struct {
	Default   string   `mapstructure:"default" yaml:"default"`
	Chat      string   `mapstructure:"chat" yaml:"chat"`
	Tool      string   `mapstructure:"tool" yaml:"tool"`
	Dispatch  string   `mapstructure:"dispatch" yaml:"dispatch"`
	Image     string   `mapstructure:"image" yaml:"image"`
	Search    string   `mapstructure:"search" yaml:"search"`
	Roleplay  string   `mapstructure:"roleplay" yaml:"roleplay"`
	Draw      string   `mapstructure:"draw" yaml:"draw"`
	Fallbacks []string `mapstructure:"fallbacks" yaml:"fallbacks"`
}

// RetryConfig 重试与回退配置
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	EmptyRetries int           `mapstructure:"empty_retries" yaml:"empty_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	EmptyDelay   time.Duration `mapstructure:"empty_delay" yaml:"empty_delay"`
}

// DispatchConfig 工具组调度配置
type DispatchConfig struct {
	Enabled      bool      `mapstructure:"enabled" yaml:"enabled"`
	HistoryTurns int       `mapstructure:"history_turns" yaml:"history_turns"`
	Temperatures []float64 `mapstructure:"temperatures" yaml:"temperatures"`
	MaxTokens    int       `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ToolsConfig 工具配置
type ToolsConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	GroupsFile  string        `mapstructure:"groups_file" yaml:"groups_file"`
	Watch       bool          `mapstructure:"watch" yaml:"watch"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// ContextConfig 会话上下文配置
type ContextConfig struct {
	HistoryLimit      int    `mapstructure:"history_limit" yaml:"history_limit"`
	GroupIsolation    bool   `mapstructure:"group_isolation" yaml:"group_isolation"`
	SerializeRequests bool   `mapstructure:"serialize_requests" yaml:"serialize_requests"`
	AutoClean         bool   `mapstructure:"auto_clean" yaml:"auto_clean"`
	AutoCleanNotice   string `mapstructure:"auto_clean_notice" yaml:"auto_clean_notice"`
}

// PromptConfig 全局系统提示词
type PromptConfig struct {
	Global        string `mapstructure:"global" yaml:"global"`
	Mode          string `mapstructure:"mode" yaml:"mode"` // append | prepend | override
	DefaultPreset string `mapstructure:"default_preset" yaml:"default_preset"`
}

// PresetConfig 人设预设
type PresetConfig struct {
	ID                  string `mapstructure:"id" yaml:"id"`
	Name                string `mapstructure:"name" yaml:"name"`
	SystemPrompt        string `mapstructure:"system_prompt" yaml:"system_prompt"`
	Model               string `mapstructure:"model" yaml:"model,omitempty"`
	DisableSystemPrompt bool   `mapstructure:"disable_system_prompt" yaml:"disable_system_prompt,omitempty"`
	ToolsEnabled        *bool  `mapstructure:"tools_enabled" yaml:"tools_enabled,omitempty"`
}

// HealthConfig 渠道健康配置
type HealthConfig struct {
	ResetSchedule  string `mapstructure:"reset_schedule" yaml:"reset_schedule"`
	ErrorThreshold int    `mapstructure:"error_threshold" yaml:"error_threshold"`
}

// ScopeConfig 作用域设置缓存
type ScopeConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// viper 是进程级单例，Load 与 Reset 串行执行
var mu sync.Mutex

// Load 加载配置文件，path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	// 设置默认值
	SetDefaults()

	// 设置环境变量前缀
	viper.SetEnvPrefix("CHATLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		viper.SetConfigFile(expandedPath)
		// 文件不存在时只用默认值
		if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", expandedPath, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	viper.Reset()
}

// Scenario 返回场景的全局模型，未配置时为空
func (m ModelsConfig) Scenario(scenario string) string {
	switch scenario {
	case "chat":
		return m.Chat
	case "tool":
		return m.Tool
	case "dispatch":
		return m.Dispatch
	case "image", "image_understand":
		return m.Image
	case "search":
		return m.Search
	case "roleplay":
		return m.Roleplay
	case "draw":
		return m.Draw
	}
	return ""
}
