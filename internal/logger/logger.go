// Package logger provides structured logging for the downloader. It wraps the
// standard library's slog package with component loggers, context propagation
// of job and asset identifiers, and rotating file output.
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

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// ComponentKey is the context key for component name
	ComponentKey ContextKey = "component"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// ExchangeKey is the context key for the exchange name
	ExchangeKey ContextKey = "exchange"
	// AssetKey is the context key for the asset identity
	AssetKey ContextKey = "asset"
	// JobIDKey is the context key for download job ID
	JobIDKey ContextKey = "job_id"
)

var contextKeys = []ContextKey{OperationKey, ExchangeKey, AssetKey, JobIDKey}

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger *slog.Logger
	config     config.LoggingConfig
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// ComponentLogger represents a logger for a specific component
type ComponentLogger struct {
	*slog.Logger
	component string
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	baseAttrs := make([]slog.Attr, 0, len(cfg.ContextFields))
	for key, value := range cfg.ContextFields {
		baseAttrs = append(baseAttrs, slog.String(key, value))
	}
	if len(baseAttrs) > 0 {
		handler = handler.WithAttrs(baseAttrs)
	}

	return &LoggerManager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "stderr", "":
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
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
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

// GetComponentLogger returns a logger for the specified component
func (lm *LoggerManager) GetComponentLogger(component string) *ComponentLogger {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	cached, ok := lm.componentCache[component]
	if !ok {
		cached = lm.baseLogger.With(slog.String("component", component))
		lm.componentCache[component] = cached
	}
	return &ComponentLogger{Logger: cached, component: component}
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

func extractContextAttributes(ctx context.Context) []any {
	var attrs []any
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithExchange adds an exchange name to the context
func WithExchange(ctx context.Context, exchange string) context.Context {
	return context.WithValue(ctx, ExchangeKey, exchange)
}

// WithAsset adds an asset identity to the context
func WithAsset(ctx context.Context, asset string) context.Context {
	return context.WithValue(ctx, AssetKey, asset)
}

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// FromContext returns logger enriched with the identifiers stored in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// Component returns the component name.
func (cl *ComponentLogger) Component() string {
	return cl.component
}

// TimedOperation logs an operation with automatic timing
func TimedOperation(logger *slog.Logger, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.Error("timed operation failed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return err
	}

	logger.Debug("timed operation completed",
		slog.String("operation", operation),
		slog.Duration("duration", duration))
	return nil
}

// LogError logs an error with structured context
func LogError(logger *slog.Logger, err error, msg string, attrs ...any) {
	allAttrs := append([]any{slog.Any("error", err)}, attrs...)
	logger.Error(msg, allAttrs...)
}

// Discard returns a logger that drops everything. Useful in tests and as a
// nil-logger fallback.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
