package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger *slog.Logger
	once         sync.Once
)

type Config struct {
	Level   string   `mapstructure:"level" yaml:"level"`     // debug/info/warn/error
	Outputs []string `mapstructure:"outputs" yaml:"outputs"` // stdout/stderr/文件路径
	Format  string   `mapstructure:"format" yaml:"format"`   // text/json
}

// ParseLevel 未知级别按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init 初始化全局日志，只有第一次调用生效
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *slog.Logger
		l, err = New(cfg)
		if err != nil {
			return
		}
		globalLogger = l
		slog.SetDefault(l)
	})
	return err
}

// New 按配置创建独立的 logger
func New(cfg Config) (*slog.Logger, error) {
	// 创建多个输出writer
	var writers []io.Writer
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			writers = append(writers, file)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	w := io.MultiWriter(writers...)
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// Logger 未初始化时返回 slog.Default()
func Logger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}
