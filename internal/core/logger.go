package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelOff:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogConfig holds logging configuration from YAML.
type LogConfig struct {
	Level      string            `yaml:"level,omitempty"`
	Components map[string]string `yaml:"components,omitempty"`
}

// Logger provides per-component log level filtering on top of slog.
type Logger struct {
	mu          sync.RWMutex
	globalLevel LogLevel
	components  map[string]LogLevel // lowercase component name → level
	out         *slog.Logger
}

// ParseLevel converts a string level name to LogLevel.
// Returns LevelInfo for unrecognized values.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// NewLogger creates a Logger writing to stderr.
func NewLogger(cfg LogConfig) *Logger {
	return NewLoggerTo(os.Stderr, cfg)
}

// NewLoggerTo creates a Logger writing tint-formatted lines to w.
// Colors are enabled only when w is a terminal.
func NewLoggerTo(w io.Writer, cfg LogConfig) *Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	handler := tint.NewHandler(w, &tint.Options{
		// Filtering happens per component in levelFor.
		Level:      slog.LevelDebug,
		TimeFormat: time.StampMilli,
		NoColor:    noColor,
	})

	l := &Logger{out: slog.New(handler)}
	l.Configure(cfg)
	return l
}

// Configure replaces the level settings in place.
func (l *Logger) Configure(cfg LogConfig) {
	components := make(map[string]LogLevel, len(cfg.Components))
	for name, level := range cfg.Components {
		components[strings.ToLower(name)] = ParseLevel(level)
	}

	l.mu.Lock()
	l.globalLevel = ParseLevel(cfg.Level)
	l.components = components
	l.mu.Unlock()
}

// levelFor returns the effective log level for a component tag.
func (l *Logger) levelFor(tag string) LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.components[strings.ToLower(tag)]; ok {
		return lvl
	}
	return l.globalLevel
}

func (l *Logger) logf(level LogLevel, tag, format string, args ...any) {
	threshold := l.levelFor(tag)
	if threshold == LevelOff || level < threshold {
		return
	}
	l.out.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...), "component", tag)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(tag, format string, args ...any) {
	l.logf(LevelDebug, tag, format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(tag, format string, args ...any) {
	l.logf(LevelInfo, tag, format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(tag, format string, args ...any) {
	l.logf(LevelWarn, tag, format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(tag, format string, args ...any) {
	l.logf(LevelError, tag, format, args...)
}

// Fatalf always logs and calls os.Exit(1).
func (l *Logger) Fatalf(tag, format string, args ...any) {
	l.out.Error(fmt.Sprintf(format, args...), "component", tag)
	os.Exit(1)
}

// Log is the global logger instance. Initialized with default (info level).
var Log = NewLogger(LogConfig{})
