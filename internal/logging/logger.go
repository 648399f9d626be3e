// Package logging はGatewayの構造化ロガーを生成する。
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New はレベルと形式を指定してslogロガーを生成する。
// formatが "text" の場合はテキスト形式、それ以外はJSON形式で出力する。
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "gateway"))
}

// ParseLevel はログレベル名をslog.Levelに変換する。不明な値はInfoとして扱う。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
