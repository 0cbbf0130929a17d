package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Level orders log severities; messages below the logger's minimum are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to info.
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

// Logger provides leveled logging throughout the application.
type Logger struct {
	out   *log.Logger
	err   *log.Logger
	min   Level
	color bool
}

// NewLogger creates a Logger writing to stdout/stderr at info level.
// Colors are only emitted when stdout is a terminal.
func NewLogger() *Logger {
	return NewLoggerWithLevel(LevelInfo)
}

func NewLoggerWithLevel(min Level) *Logger {
	fd := os.Stdout.Fd()
	return &Logger{
		out:   log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
		min:   min,
		color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

// NewLoggerTo sends every level to w without colors. Tests pass io.Discard.
func NewLoggerTo(w io.Writer, min Level) *Logger {
	l := log.New(w, "", 0)
	return &Logger{out: l, err: l, min: min}
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) emit(dst *log.Logger, lvl Level, tag, ansi, format string, args ...any) {
	if l == nil || lvl < l.min {
		return
	}
	label := tag
	if l.color {
		label = ansi + tag + "\033[0m"
	}
	dst.Printf("[%s] %s %s", l.timestamp(), label, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	if l == nil {
		return
	}
	l.emit(l.out, LevelInfo, "INFO ", "\033[32m", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	if l == nil {
		return
	}
	l.emit(l.out, LevelWarn, "WARN ", "\033[33m", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	if l == nil {
		return
	}
	l.emit(l.err, LevelError, "ERROR", "\033[31m", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if l == nil {
		return
	}
	l.emit(l.out, LevelDebug, "DEBUG", "\033[36m", format, args...)
}
