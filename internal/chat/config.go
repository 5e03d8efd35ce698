package chat

import (
	"chatline/internal/config"
	"chatline/internal/prompt"
)

// Config holds the request-level policy of the chat service.
type Config struct {
	// HistoryLimit is the number of stored messages loaded as context.
	// Default is 20.
	HistoryLimit int `json:"history_limit"`

	// AutoClean deletes the conversation history when a request fails and
	// answers with AutoCleanNotice instead of the error.
	AutoClean bool `json:"auto_clean"`

	// AutoCleanNotice is the reply sent after an auto-clean.
	AutoCleanNotice string `json:"auto_clean_notice"`

	// GlobalPrompt is combined with every persona according to PromptMode.
	GlobalPrompt string      `json:"global_prompt,omitempty"`
	PromptMode   prompt.Mode `json:"prompt_mode"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:    20,
		AutoCleanNotice: config.DefaultAutoCleanNotice,
		PromptMode:      prompt.ModeAppend,
	}
}

// ConfigFrom maps the application configuration onto a Config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.HistoryLimit = cfg.Context.HistoryLimit
	c.AutoClean = cfg.Context.AutoClean
	c.AutoCleanNotice = cfg.Context.AutoCleanNotice
	c.GlobalPrompt = cfg.Prompt.Global
	c.PromptMode = prompt.ParseMode(cfg.Prompt.Mode)
	return c.normalize()
}

// normalize fills zero values with defaults.
func (c Config) normalize() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.AutoCleanNotice == "" {
		c.AutoCleanNotice = config.DefaultAutoCleanNotice
	}
	if c.PromptMode == "" {
		c.PromptMode = prompt.ModeAppend
	}
	return c
}
