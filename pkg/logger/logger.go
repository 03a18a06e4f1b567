package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with our application-specific configuration
type Logger struct {
	zl zerolog.Logger
}

type ctxKey struct{}

var loggerCtxKey = ctxKey{}

var (
	// DefaultLogger is the global logger instance
	DefaultLogger *Logger
)

// Config holds logger configuration
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Format sets the output format (json, console)
	Format string
	// Output sets the output destination (defaults to stdout)
	Output io.Writer
	// File, when set, additionally writes JSON lines to a rotated file.
	File     string
	Rotation RotationConfig
}

// RotationConfig controls lumberjack rotation of the log file.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the default logger with the given configuration
func Init(cfg Config) {
	DefaultLogger = build(cfg)
	zerolog.TimeFieldFormat = time.RFC3339
}

func build(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var out io.Writer = cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
		}
	}

	if cfg.File != "" {
		maxSize := cfg.Rotation.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		}
		out = zerolog.MultiLevelWriter(out, fileWriter)
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return &Logger{zl: zl}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a standalone logger without touching DefaultLogger.
func New(cfg Config) *Logger {
	return build(cfg)
}

func (l *Logger) Debug() *zerolog.Event {
	return l.zl.Debug()
}

func (l *Logger) Info() *zerolog.Event {
	return l.zl.Info()
}

func (l *Logger) Warn() *zerolog.Event {
	return l.zl.Warn()
}

func (l *Logger) Error() *zerolog.Event {
	return l.zl.Error()
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal() *zerolog.Event {
	return l.zl.Fatal()
}

// With returns a sub-logger context with additional fields
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

// Component returns a sub-logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

func defaultLogger() *Logger {
	if DefaultLogger == nil {
		Init(Config{Level: "info", Format: "json"})
	}
	return DefaultLogger
}

// Package-level convenience functions

func Debug() *zerolog.Event {
	return defaultLogger().Debug()
}

func Info() *zerolog.Event {
	return defaultLogger().Info()
}

func Warn() *zerolog.Event {
	return defaultLogger().Warn()
}

func Error() *zerolog.Event {
	return defaultLogger().Error()
}

func Fatal() *zerolog.Event {
	return defaultLogger().Fatal()
}

// ContextWithLogger returns a new context with the logger attached
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerCtxKey).(*Logger); ok {
		return logger
	}
	return defaultLogger()
}

// Audit logs a security-sensitive operation at info level with a distinct "audit" tag.
func Audit(action string, userID string, fields map[string]string) {
	event := defaultLogger().Info().
		Str("log_type", "audit").
		Str("action", action).
		Str("user_id", userID)
	for k, v := range fields {
		event = event.Str(k, v)
	}
	event.Msg("audit event")
}

// Middleware returns a Fiber middleware that logs requests and attaches a
// request-scoped logger to the user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID, _ := c.Locals("request_id").(string)
		reqLogger := &Logger{zl: defaultLogger().zl.With().Str("request_id", requestID).Logger()}
		c.SetUserContext(ContextWithLogger(c.UserContext(), reqLogger))

		err := c.Next()

		event := reqLogger.Info()
		if err != nil {
			event = reqLogger.Error().Err(err)
		}

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Int("bytes_sent", len(c.Response().Body())).
			Str("ip", c.IP()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")

		return err
	}
}
