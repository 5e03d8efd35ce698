// Package cli implements the chatline command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"chatline/pkg/logger"
)

// ConfigEnv 指定配置文件路径的环境变量，优先级低于 --config
const ConfigEnv = "CHATLINE_CONFIG"

// 带此注解的命令不加载配置
const annotationNoConfig = "chatline/no-config"

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

type contextKey struct{}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	flags := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "chatline",
		Short: "chatline - chat orchestration engine",
		Long: `chatline routes chat messages to upstream models.
It picks a scenario and tool groups per message, runs multi-step tasks,
and falls back across models, channels and keys when a call fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Annotations[annotationNoConfig] != "" {
				return nil
			}
			cliCtx, err := loadCLIContext(flags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return logger.Close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "config file path (env "+ConfigEnv+")")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "log errors only")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(
		withoutConfig(NewVersionCmd()),
		withoutConfig(NewInitCmd()),
		NewServeCmd(),
		NewChatCmd(),
		NewUsageCmd(),
	)
	return rootCmd
}

func withoutConfig(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationNoConfig] = "true"
	return cmd
}

// GetCLIContext 从命令上下文获取 CLI 上下文，未加载配置时返回 nil
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, _ := ctx.Value(contextKey{}).(*CLIContext)
	return cliCtx
}
