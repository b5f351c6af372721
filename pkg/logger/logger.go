package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradecore/pkg/errors"
)

var (
	mu           sync.RWMutex
	globalLogger *Logger
)

// Logger wraps zap.SugaredLogger and mirrors error-level entries to a tracker
type Logger struct {
	*zap.SugaredLogger
	tracker errors.Tracker
	fields  map[string]string
}

// Init initializes the global logger
func Init(level string, env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zl, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return errors.Wrap(err, "build zap logger")
	}

	mu.Lock()
	globalLogger = &Logger{SugaredLogger: zl.Sugar()}
	mu.Unlock()
	return nil
}

// SetErrorTracker attaches an error tracker to the global logger.
// Child loggers created afterwards inherit it.
func SetErrorTracker(tracker errors.Tracker) {
	l := Get()
	mu.Lock()
	l.tracker = tracker
	mu.Unlock()
}

// Get returns the global logger, falling back to a development logger
func Get() *Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		zl, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: zl.Sugar()}
	}
	return globalLogger
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// With creates a child logger with additional fields.
// String-valued fields are also attached as tags to tracked errors.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make(map[string]string, len(l.fields)+len(args)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(args); i += 2 {
		k, ok := args[i].(string)
		if !ok {
			continue
		}
		if v, ok := args[i+1].(string); ok {
			fields[k] = v
		}
	}
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		tracker:       l.tracker,
		fields:        fields,
	}
}

// WithFields creates a child logger with a map of fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.With(args...)
}

// Error logs an error and forwards it to the tracker
func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)
	l.track(fmt.Errorf("%s", fmt.Sprint(args...)))
}

// Errorf logs a formatted error and forwards it to the tracker
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
	l.track(fmt.Errorf(template, args...))
}

// Errorw logs a structured error and forwards it to the tracker
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if err, ok := keysAndValues[i+1].(error); ok {
			l.track(errors.Wrap(err, msg))
			return
		}
	}
	l.track(errors.New(msg))
}

// ErrorWithContext logs an error and sends it to the tracker with explicit tags
func (l *Logger) ErrorWithContext(ctx context.Context, err error, tags map[string]string) {
	l.SugaredLogger.Error(err)
	if l.tracker != nil {
		_ = l.tracker.CaptureError(ctx, err, tags)
	}
}

// Notice logs msg at the given level and sends it to the tracker as a
// message event. Used for operator-relevant state changes that are not errors.
func (l *Logger) Notice(level errors.Level, msg string, keysAndValues ...interface{}) {
	switch level {
	case errors.LevelDebug:
		l.SugaredLogger.Debugw(msg, keysAndValues...)
	case errors.LevelWarning:
		l.SugaredLogger.Warnw(msg, keysAndValues...)
	case errors.LevelError, errors.LevelFatal:
		l.SugaredLogger.Errorw(msg, keysAndValues...)
	default:
		l.SugaredLogger.Infow(msg, keysAndValues...)
	}
	if l.tracker == nil {
		return
	}
	tags := l.tags()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			tags[k] = fmt.Sprint(keysAndValues[i+1])
		}
	}
	_ = l.tracker.CaptureMessage(context.Background(), msg, level, tags)
}

func (l *Logger) tags() map[string]string {
	tags := make(map[string]string, len(l.fields))
	for k, v := range l.fields {
		tags[k] = v
	}
	return tags
}

func (l *Logger) track(err error) {
	if l.tracker == nil {
		return
	}
	_ = l.tracker.CaptureError(context.Background(), err, l.tags())
}

// Convenience functions that use the global logger
func Debug(args ...interface{})                   { Get().Debug(args...) }
func Debugf(template string, args ...interface{}) { Get().Debugf(template, args...) }
func Info(args ...interface{})                    { Get().Info(args...) }
func Infof(template string, args ...interface{})  { Get().Infof(template, args...) }
func Warn(args ...interface{})                    { Get().Warn(args...) }
func Warnf(template string, args ...interface{})  { Get().Warnf(template, args...) }
func Error(args ...interface{})                   { Get().Error(args...) }
func Errorf(template string, args ...interface{}) { Get().Errorf(template, args...) }
func Fatal(args ...interface{})                   { Get().Fatal(args...) }
func Fatalf(template string, args ...interface{}) { Get().Fatalf(template, args...) }

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}
