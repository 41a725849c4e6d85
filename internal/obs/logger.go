// Package obs provides the logging surface shared by every component: a
// slog.Logger wrapper with category-gated debug output, matching the
// conventions the rest of the tree expects (logger.With("component", ...)).
package obs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category gates high-volume debug logging by subsystem so operators can
// turn on e.g. RTP packet tracing without drowning in ICE noise.
type Category string

const (
	CatRTP      Category = "rtp"
	CatRTCP     Category = "rtcp"
	CatICE      Category = "ice"
	CatCascade  Category = "cascade"
	CatRecorder Category = "recorder"
	CatAll      Category = "all"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     Format
	OutputFile string

	mu       sync.RWMutex
	enabled  map[Category]bool
}

// NewConfig returns a Config with sane defaults (info level, text format).
func NewConfig() *Config {
	return &Config{
		Level:   LevelInfo,
		Format:  FormatText,
		enabled: make(map[Category]bool),
	}
}

// ParseLevel converts a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", s)
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory turns on debug logging for a category; CatAll enables every
// known category.
func (c *Config) EnableCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == CatAll {
		for _, k := range []Category{CatRTP, CatRTCP, CatICE, CatCascade, CatRecorder, CatAll} {
			c.enabled[k] = true
		}
		return
	}
	c.enabled[cat] = true
}

func (c *Config) isEnabled(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[cat]
}

// Logger wraps slog.Logger with category-gated Debug* helpers.
type Logger struct {
	*slog.Logger
	cfg  *Config
	file *os.File
}

// New builds a Logger from cfg, opening OutputFile if set.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var f *os.File

	if cfg.OutputFile != "" {
		var err error
		f, err = os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), cfg: cfg, file: f}, nil
}

// Close closes the backing log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying the same config/file but extra attrs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), cfg: l.cfg, file: l.file}
}

// DebugCat logs at Debug level only when cat is enabled.
func (l *Logger) DebugCat(cat Category, msg string, args ...any) {
	if l.cfg.isEnabled(cat) {
		args = append([]any{"category", string(cat)}, args...)
		l.Debug(msg, args...)
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault installs logger as the package-level default.
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default lazily builds a stdout/info default logger if none was set.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger != nil {
			return
		}
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), cfg: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
