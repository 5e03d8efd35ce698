package cli

import (
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"chatline/internal/config"
	"chatline/internal/storage"
	"chatline/pkg/logger"
)

// CLIContext 命令运行期间共享的配置、日志和存储
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	StoragePath string

	logger zerolog.Logger

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
}

// loadCLIContext 解析配置路径、加载配置并初始化全局日志
func loadCLIContext(flags *GlobalFlags) (*CLIContext, error) {
	configPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.LogConfig{
		Level:  logLevel(flags, cfg.Log.Level),
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return nil, err
	}

	storagePath := cfg.Storage.Path
	if storagePath == "" {
		if storagePath, err = config.DefaultDataPath(); err != nil {
			return nil, err
		}
	}

	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		StoragePath: storagePath,
		logger:      *logger.Get(),
	}, nil
}

// resolveConfigPath: --config > $CHATLINE_CONFIG > 默认路径
func resolveConfigPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(ConfigEnv); env != "" {
		return env, nil
	}
	return config.DefaultConfigPath()
}

func logLevel(flags *GlobalFlags, configured string) string {
	switch {
	case flags.Verbose:
		return "debug"
	case flags.Quiet:
		return "error"
	default:
		return configured
	}
}

// GetStorage 懒加载存储连接
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.StoragePath)
	})
	return c.storage, c.storageErr
}

// Close 关闭存储和日志文件
func (c *CLIContext) Close() error {
	var errs []error
	if c.storage != nil {
		errs = append(errs, c.storage.Close())
	}
	errs = append(errs, logger.Close())
	return errors.Join(errs...)
}

// Log 返回命令使用的 logger
func (c *CLIContext) Log() *zerolog.Logger {
	return &c.logger
}
