// 包 logger：统一初始化与获取日志器；缓存引擎、调度器与 HTTP 层共用同一输出配置
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// 默认日志器：进程级复用；原子切换以便调度协程与请求协程并发读取
var defaultLogger atomic.Pointer[slog.Logger]

// parseLevel：LOG_LEVEL 文本转级别，未知值回退到 info
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New：按级别与格式构造日志器
// 约束：format 仅识别 json，其余均为文本格式
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Setup：根据 LOG_LEVEL / LOG_FORMAT 初始化默认日志器
// 约束：输出目标固定为标准错误
func Setup() *slog.Logger {
	l := New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	defaultLogger.Store(l)
	return l
}

// Set：替换默认日志器（测试中用于静默或捕获输出）
func Set(l *slog.Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// L：获取默认日志器；未初始化时回退到 Setup
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return Setup()
}
