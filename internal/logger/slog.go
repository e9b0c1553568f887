package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes the slog-backed logger.
type Options struct {
	// JSON switches the handler from text to JSON output.
	JSON bool
	// AddSource includes file:line of the call site.
	AddSource bool
}

// FileConfig describes a rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger creates a Logger writing to w at the given minimum level.
// opts may be nil.
func NewSlogLogger(w io.Writer, level LogLevel, opts *Options) Logger {
	if opts == nil {
		opts = &Options{}
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(string(level)),
		AddSource: opts.AddSource,
	}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return &slogLogger{l: slog.New(h)}
}

// NewFileWriter returns a rotating writer for cfg. If cfg.Path is empty
// stdout is returned.
func NewFileWriter(cfg FileConfig) io.Writer {
	if cfg.Path == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case string(LogLevelDebug):
		return slog.LevelDebug
	case string(LogLevelWarn), "warning":
		return slog.LevelWarn
	case string(LogLevelError):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.l.Debug(msg, toArgs(fields)...) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.l.Info(msg, toArgs(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.l.Warn(msg, toArgs(fields)...) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.l.Error(msg, toArgs(fields)...) }

func (s *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{l: s.l.With(toArgs(fields)...)}
}

func (s *slogLogger) Module(name string) Logger {
	return s.With(String("component", name))
}

func toArgs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
