package commbus

import (
	"log/slog"
	"os"
	"strings"
)

// SlogLogger adapts a slog.Logger to the Logger protocol.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a JSON-handler logger writing to stderr at the
// given level ("debug", "info", "warn", "error").
func NewSlogLogger(level string) *SlogLogger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return &SlogLogger{logger: slog.New(handler)}
}

// WrapSlog adapts an existing slog.Logger.
func WrapSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (s *SlogLogger) Debug(msg string, fields ...any) { s.logger.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...any)  { s.logger.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...any)  { s.logger.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...any) { s.logger.Error(msg, fields...) }

// Bind implements the Logger interface.
func (s *SlogLogger) Bind(fields ...any) Logger {
	return &SlogLogger{logger: s.logger.With(fields...)}
}

var _ Logger = (*SlogLogger)(nil)
