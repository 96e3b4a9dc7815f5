// Package log provides structured logging for mandelgather.
// Entries have the form `ts [LEVEL] [category] message key=value ...` and are
// written only once a sink has been initialised (--debug, MANDELGATHER_DEBUG,
// or a worker subprocess logging to stderr).
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/mandelgather/internal/orchestration/events"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level. Unknown names
// fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Category groups related log messages.
type Category string

const (
	CatConfig    Category = "config"    // Configuration loading/saving
	CatPartition Category = "partition" // Row range planning
	CatWorker    Category = "worker"    // Per-rank compute loop
	CatPool      Category = "pool"      // Worker pool: spawn, status, teardown
	CatGather    Category = "gather"    // Aggregation protocol
	CatEmit      Category = "emit"      // Image emitter
	CatStore     Category = "store"     // Run ledger
	CatServe     Category = "serve"     // HTTP render server
	CatCache     Category = "cache"     // Render cache
	CatWatcher   Category = "watcher"   // Config file watcher
	CatTrace     Category = "trace"     // Tracing provider
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   io.Writer
	enabled  bool
	minLevel Level
	prefix   string
	bus      *events.Bus[string]
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

func install(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Init opens path for appending and installs it as the global sink.
// Returns a cleanup function that closes the file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: user-chosen debug log path
	if err != nil {
		return nil, err
	}
	l := newLogger(f, f, "")
	install(l)
	return func() { _ = f.Close() }, nil
}

// InitWithTeaLog uses tea.LogToFile so log output does not fight with a
// running Bubble Tea program for the terminal.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	install(newLogger(f, f, ""))
	return func() { _ = f.Close() }, nil
}

// InitWriter installs w as the sink. Worker subprocesses use it with stderr so
// the coordinator can relay their lines; prefix tags every entry with the rank.
func InitWriter(w io.Writer, prefix string) {
	install(newLogger(w, nil, prefix))
}

// Reset removes the global sink. Tests use it to restore a silent logger.
func Reset() {
	l := current()
	install(nil)
	if l != nil && l.bus != nil {
		l.bus.Close()
	}
}

func newLogger(w io.Writer, c io.Closer, prefix string) *Logger {
	return &Logger{
		closer:   c,
		writer:   w,
		enabled:  true,
		minLevel: LevelDebug,
		prefix:   prefix,
		bus:      events.NewBus[string](),
	}
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

// Relay writes a line that was already formatted by another process (a
// worker subprocess) without re-stamping it.
func Relay(line string) {
	l := current()
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.writer == nil {
		return
	}
	_, _ = io.WriteString(l.writer, line+"\n")
	l.bus.Publish(events.Created, line)
}

func format(level Level, cat Category, prefix, msg string, fields ...any) string {
	var b strings.Builder
	// 2026-01-02T10:45:00 [ERROR] [gather] message key=value key2=value2
	b.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] ", level, cat)
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(' ')
	}
	b.WriteString(msg)

	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	return b.String()
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || level < l.minLevel {
		return
	}

	entry := format(level, cat, l.prefix, msg, fields...)
	if l.writer != nil {
		_, _ = io.WriteString(l.writer, entry+"\n")
	}
	l.bus.Publish(events.Created, entry)
}

// LogEvent is a bus event carrying one formatted entry.
type LogEvent = events.Event[string]

// NewListener tails log entries for the progress view. Returns nil when no
// logger is installed.
func NewListener(ctx context.Context) *events.Listener[string] {
	l := current()
	if l == nil {
		return nil
	}
	return events.NewListener(ctx, l.bus)
}
