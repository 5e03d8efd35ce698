// Package logger provides the process-wide zerolog logger used by chatline.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // trace, debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // console, json
	File   string `json:"file" mapstructure:"file"`     // extra log file, appended to

	// Output replaces stderr as the primary sink. Used by tests and the REPL.
	Output io.Writer `json:"-" mapstructure:"-"`
}

var (
	mu      sync.RWMutex
	current = zerolog.New(os.Stderr).With().Timestamp().Logger()
	logFile *os.File
)

// parseLevel accepts zerolog level names plus "warning". Anything else,
// including the empty string, means info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// openSinks builds the writer for cfg. The returned file, if any, belongs
// to the caller.
func openSinks(cfg LogConfig) (io.Writer, *os.File, error) {
	var primary io.Writer = os.Stderr
	if cfg.Output != nil {
		primary = cfg.Output
	}
	if strings.EqualFold(cfg.Format, "console") {
		primary = zerolog.ConsoleWriter{Out: primary, TimeFormat: time.RFC3339}
	}
	if cfg.File == "" {
		return primary, nil, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
	}
	// 文件始终写 JSON，便于后续检索
	return zerolog.MultiLevelWriter(primary, f), f, nil
}

// Init replaces the global logger. A previously opened log file is closed
// once the new sinks are ready.
func Init(cfg LogConfig) error {
	w, f, err := openSinks(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	current = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// Get returns the global logger. Before Init it writes JSON to stderr.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := current
	return &l
}

// Component returns a child logger tagged with the component name.
// Constructors across chatline take the result by value.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Close closes the log file if one is open. Later writes go to the
// primary sink only.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	current = zerolog.New(os.Stderr).With().Timestamp().Logger()
	return err
}

func Debug() *zerolog.Event { return Get().Debug() }

func Info() *zerolog.Event { return Get().Info() }

func Warn() *zerolog.Event { return Get().Warn() }

func Error() *zerolog.Event { return Get().Error() }
