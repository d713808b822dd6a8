package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "console" (human readable, default) or "json".
	Format string
	// Writer defaults to stderr.
	Writer io.Writer
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	inited bool
)

// Init (re)builds the global logger. It may be called more than once; the
// last call wins. Callers that never call Init get an INFO console logger on
// stderr.
func Init(opt Options) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if !strings.EqualFold(opt.Format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: opt.Writer != nil}
	}

	l := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	inited = true
	mu.Unlock()
}

func SetLevel(l Level) {
	cur := get()
	mu.Lock()
	logger = cur.Level(parseLevel(string(l)))
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	l := get()
	emit(l.Debug(), msg, kv)
}

func Info(msg string, kv ...any) {
	l := get()
	emit(l.Info(), msg, kv)
}

func Warn(msg string, kv ...any) {
	l := get()
	emit(l.Warn(), msg, kv)
}

func Error(msg string, err error, kv ...any) {
	l := get()
	emit(l.Error().Err(err), msg, kv)
}

func get() *zerolog.Logger {
	mu.RLock()
	ok := inited
	mu.RUnlock()
	if !ok {
		Init(Options{})
	}
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	// Expect kv as pairs: key, value, key, value, ...
	// Non-string keys and a trailing odd value are ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
