package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultAutoCleanNotice 自动清理上下文后返回给用户的提示
const DefaultAutoCleanNotice = "The conversation context was reset after an upstream failure. Please send your message again."

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Storage 配置
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.chatline/data.db")

	// Gateway 配置
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.token", "")
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	// Models 配置
	viper.SetDefault("models.default", "gpt-4o-mini")
	viper.SetDefault("models.fallbacks", []string{})

	// Retry 配置
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.empty_retries", 2)
	viper.SetDefault("retry.base_delay", 1*time.Second)
	viper.SetDefault("retry.max_delay", 10*time.Second)
	viper.SetDefault("retry.empty_delay", 500*time.Millisecond)

	// Dispatch 配置
	viper.SetDefault("dispatch.enabled", true)
	viper.SetDefault("dispatch.history_turns", 5)
	viper.SetDefault("dispatch.temperatures", []float64{0.3, 0.5, 0.7})
	viper.SetDefault("dispatch.max_tokens", 512)

	// Tools 配置
	viper.SetDefault("tools.enabled", true)
	viper.SetDefault("tools.groups_file", "~/.chatline/tool_groups.yaml")
	viper.SetDefault("tools.watch", true)
	viper.SetDefault("tools.http_timeout", 15*time.Second)

	// Context 配置
	viper.SetDefault("context.history_limit", 20)
	viper.SetDefault("context.group_isolation", false)
	viper.SetDefault("context.serialize_requests", false)
	viper.SetDefault("context.auto_clean", false)
	viper.SetDefault("context.auto_clean_notice", DefaultAutoCleanNotice)

	// Prompt 配置
	viper.SetDefault("prompt.global", "")
	viper.SetDefault("prompt.mode", "append")
	viper.SetDefault("prompt.default_preset", "default")

	// Health 配置
	viper.SetDefault("health.reset_schedule", "@every 10m")
	viper.SetDefault("health.error_threshold", 3)

	// Scope 配置
	viper.SetDefault("scope.cache_ttl", 5*time.Minute)
}
