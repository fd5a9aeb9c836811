package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process-wide zerolog logger and its sinks.
type Logger struct {
	logger   zerolog.Logger
	closer   io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // optional log file
	Console   bool
	Pretty    bool
	Redaction bool
	MaxSize   int // MB before the log file is rotated, 0 disables rotation
	MaxAge    int // days rotated files are kept
	Compress  bool
	// Stderr sends console output to stderr. Commands that speak a protocol on
	// stdout (the MCP server) must set it.
	Stderr bool
}

// New builds the logger and installs it as the global log.Logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stdout
	if cfg.Stderr {
		console = os.Stderr
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, console)
		}
	}

	var closer io.Closer
	if cfg.File != "" {
		fw, err := openFileWriter(cfg)
		if err != nil {
			return nil, err
		}
		closer = fw
		writers = append(writers, fw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = console
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		out = redactor.Wrap(out)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = zl
	zerolog.DefaultContextLogger = &log.Logger

	return &Logger{logger: zl, closer: closer, redactor: redactor}, nil
}

func openFileWriter(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSize > 0 {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, err
		}
		return rw, nil
	}
	f, err := openAppend(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   50,
		MaxAge:    7,
		Compress:  true,
	}
}
