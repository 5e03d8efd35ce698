package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chatline/internal/channel"
	"chatline/internal/config"
	"chatline/internal/tools"
	"chatline/internal/tools/builtin"
)

// InitOptions init 命令选项
type InitOptions struct {
	Force bool
	// Dir 配置目录，为空时使用 ~/.chatline
	Dir string
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize chatline configuration",
		Long:  "Write a starter config.yaml and tool_groups.yaml to the configuration directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := RunInit(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\nAdd your channel keys, then run: chatline serve\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "configuration directory (default ~/.chatline)")
	return cmd
}

// RunInit 写入默认配置，返回 config.yaml 路径
func RunInit(opts *InitOptions) (string, error) {
	configDir := opts.Dir
	if configDir == "" {
		var err error
		configDir, err = config.DefaultConfigDir()
		if err != nil {
			return "", fmt.Errorf("get config dir: %w", err)
		}
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return "", fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", configDir, err)
	}

	// 默认值来自 config.SetDefaults
	config.Reset()
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	cfg.Storage.Path = filepath.Join(configDir, "data.db")
	cfg.Tools.GroupsFile = filepath.Join(configDir, "tool_groups.yaml")
	cfg.Channels = []channel.Channel{{
		ID:          "openai",
		Name:        "OpenAI",
		AdapterType: "openai",
		BaseURL:     "https://api.openai.com/v1",
		Models:      []string{channel.WildcardModel},
		Keys:        []string{"sk-replace-me"},
		Enabled:     true,
	}}
	cfg.Presets = []config.PresetConfig{{
		ID:           "default",
		Name:         "Assistant",
		SystemPrompt: "You are a helpful assistant.",
	}}

	if err := config.SaveTo(cfg, configPath); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := writeDefaultGroups(cfg.Tools.GroupsFile); err != nil {
		return "", err
	}
	return configPath, nil
}

// writeDefaultGroups 每个内置工具一个分组，已存在时不覆盖
func writeDefaultGroups(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	groups := lo.Map(builtin.ToolNames(), func(name string, _ int) tools.Group {
		return tools.Group{Name: name, Description: "Builtin " + name + " tool", Tools: []string{name}}
	})
	data, err := yaml.Marshal(map[string][]tools.Group{"groups": groups})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write tool groups: %w", err)
	}
	return nil
}
