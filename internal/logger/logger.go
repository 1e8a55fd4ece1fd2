// Package logger provides structured logging for the trade collector.
// Records are written through log/slog as JSON or text, to stdout, stderr or a
// rotating file, and carry the sync run, pair and operation found in the
// context they were logged under.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/johnayoung/go-trade-collector/internal/config"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// RunIDKey is the context key for the sync run ID
	RunIDKey ContextKey = "run_id"
	// PairKey is the context key for trading pair
	PairKey ContextKey = "pair"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
)

// contextKeys lists the context values copied onto records, in output order.
var contextKeys = []ContextKey{RunIDKey, PairKey, OperationKey}

// LoggerManager owns the log output and hands out per-component loggers.
type LoggerManager struct {
	base   *slog.Logger
	writer io.WriteCloser

	mu         sync.Mutex
	components map[string]*slog.Logger
}

// ComponentLogger is a logger tagged with a component attribute.
type ComponentLogger struct {
	*slog.Logger
}

// NewLoggerManager opens the configured output and builds the base logger.
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	writer, err := openWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}
	return newLoggerManager(cfg, writer), nil
}

func newLoggerManager(cfg config.LoggingConfig, writer io.WriteCloser) *LoggerManager {
	level := parseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 && a.Value.Kind() == slog.KindTime {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	if len(cfg.ContextFields) > 0 {
		fields := make([]slog.Attr, 0, len(cfg.ContextFields))
		for key, value := range cfg.ContextFields {
			fields = append(fields, slog.String(key, value))
		}
		handler = handler.WithAttrs(fields)
	}

	return &LoggerManager{
		base:       slog.New(handler),
		writer:     writer,
		components: make(map[string]*slog.Logger),
	}
}

// openWriter returns the destination named by cfg.Output. File output rotates
// by size and age.
func openWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "", "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLogLevel maps a configured level name to a slog level. Unknown names log at info.
func parseLogLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// GetLogger returns the base logger instance
func (lm *LoggerManager) GetLogger() *slog.Logger {
	return lm.base
}

// GetComponentLogger returns the cached logger for component.
func (lm *LoggerManager) GetComponentLogger(component string) *ComponentLogger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.components[component]
	if !ok {
		l = lm.base.With(slog.String("component", component))
		lm.components[component] = l
	}
	return &ComponentLogger{Logger: l}
}

// Close flushes and closes a file output. Standard streams are left open.
func (lm *LoggerManager) Close() error {
	return lm.writer.Close()
}

// WithRunID adds a sync run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithPair adds a trading pair to the context
func WithPair(ctx context.Context, pair string) context.Context {
	return context.WithValue(ctx, PairKey, pair)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func contextAttrs(ctx context.Context) []any {
	attrs := make([]any, 0, len(contextKeys))
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// FromContext returns logger enriched with the run, pair and operation stored in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// ErrorWithContext logs err with the context attributes of ctx.
func (cl *ComponentLogger) ErrorWithContext(ctx context.Context, msg string, err error, args ...any) {
	LogErrorWithContext(ctx, cl.Logger, err, msg, args...)
}

// LogOperation runs fn and logs its outcome and duration. The error of fn is
// returned unchanged.
func (cl *ComponentLogger) LogOperation(ctx context.Context, operation string, fn func() error) error {
	ctx = WithOperation(ctx, operation)
	start := time.Now()
	cl.Debug("operation started", contextAttrs(ctx)...)

	err := fn()
	elapsed := slog.Duration("duration", time.Since(start))
	if err != nil {
		cl.ErrorWithContext(ctx, "operation failed", err, elapsed)
		return err
	}

	cl.Info("operation completed", append(contextAttrs(ctx), elapsed)...)
	return nil
}

// LogError logs err at error level with its kind and, for exchange errors,
// the messages the exchange returned.
func LogError(logger *slog.Logger, err error, msg string, attrs ...any) {
	all := make([]any, 0, len(attrs)+3)
	all = append(all,
		slog.String("error", err.Error()),
		slog.String("error_kind", string(apperrors.KindOf(err))))
	if messages := apperrors.ExchangeMessages(err); len(messages) > 0 {
		all = append(all, slog.Any("exchange_errors", messages))
	}
	logger.Error(msg, append(all, attrs...)...)
}

// LogErrorWithContext is LogError with the context attributes of ctx added.
func LogErrorWithContext(ctx context.Context, logger *slog.Logger, err error, msg string, attrs ...any) {
	LogError(logger, err, msg, append(contextAttrs(ctx), attrs...)...)
}
