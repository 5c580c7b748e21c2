// Package log provides the leveled logger used internally by reqflow.
//
// It mirrors the shape of a typical small library logger: a handful of
// printf-style methods backed by the standard log package, with an
// injectable io.Writer so host applications can redirect output.
package log

import (
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// Level controls which messages a Logger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	// FatalLevel is the highest level. No method logs at it; a Logger set
	// above it (as Discard is) emits nothing.
	FatalLevel
)

// Logger is a minimal leveled logger. The zero value is not usable; use New.
type Logger struct {
	mu     sync.Mutex
	level  Level
	std    *log.Logger
	limit  *rate.Limiter
	silent bool
}

// New constructs a Logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		level: level,
		std:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		// rate.Every(0) is rate.Inf, so a Logger from New does not limit
		// Warn/Error output; NewRateLimited installs a finite limiter.
		limit: rate.NewLimiter(rate.Every(0), 0),
	}
}

// NewRateLimited is like New but additionally rate-limits Warn/Error output
// so a single misbehaving request cannot flood the log.
func NewRateLimited(w io.Writer, level Level, every rate.Limit, burst int) *Logger {
	l := New(w, level)
	l.limit = rate.NewLimiter(every, burst)
	return l
}

// SetLevel changes the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	l.mu.Lock()
	cur := l.level
	silent := l.silent
	l.mu.Unlock()
	if silent || level < cur {
		return
	}
	if (level == WarnLevel || level == ErrorLevel) && l.limit != nil && l.limit.Limit() != rate.Inf {
		if !l.limit.Allow() {
			return
		}
	}
	l.std.Printf(prefix+format, args...)
}

func (l *Logger) Debug(format string, args ...any) { l.log(DebugLevel, "[DEBUG] ", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(InfoLevel, "[INFO] ", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(WarnLevel, "[WARN] ", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(ErrorLevel, "[ERROR] ", format, args...) }

// Silence disables all output; used by tests that want a quiet default
// handler without plumbing a discard writer through every constructor.
func (l *Logger) Silence() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.silent = true
}

// Discard returns a Logger that never writes anything.
func Discard() *Logger {
	l := New(io.Discard, FatalLevel+1)
	return l
}
