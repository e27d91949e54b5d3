package switchkey

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLogPath 返回 ~/.switch_interface.log，取不到家目录时返回空
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".switch_interface.log")
}

// ParseLevel 把配置里的级别名转换成 slog.Level，未知的按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging 创建同时写终端和日志文件的 logger 并设为默认。
// 日志文件打不开时只写终端。返回的 closer 用于退出时关闭文件。
func SetupLogging(level, file string) (*slog.Logger, io.Closer) {
	return setupLogging(os.Stderr, level, file)
}

func setupLogging(console io.Writer, level, file string) (*slog.Logger, io.Closer) {
	var out io.Writer = console
	var closer io.Closer = nopCloser{}
	var fileErr error

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(console, f)
			closer = f
		}
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	if fileErr != nil {
		logger.Warn("log file unavailable, logging to console only", "file", file, "err", fileErr)
	}
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
