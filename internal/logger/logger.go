package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger zerolog.Logger

	output = &swappableWriter{w: consoleWriter(os.Stdout)}
)

// Component loggers are created at package init time and keep a copy of the
// global logger, so they all write through output and follow Initialize.
func init() {
	Logger = newLogger(output)
}

// swappableWriter forwards writes to a writer that Initialize can replace.
type swappableWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *swappableWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *swappableWriter) swap(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}
}

func newLogger(out io.Writer) zerolog.Logger {
	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Initialize sets up the global logger. Console output always goes to stdout;
// every extra writer receives the same events as JSON lines.
func Initialize(logLevel string, extra ...io.Writer) {
	// Set time format to be more human-readable
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = consoleWriter(os.Stdout)
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}
	output.swap(out)
	Logger = newLogger(output)

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// OpenLogFile opens path for appending, creating it if needed. Pass the file
// to Initialize to mirror the console output into it.
func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
