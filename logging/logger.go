package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"lconvert/config"
)

// ANSI colors, empty when disabled.
type palette struct {
	red, green, yellow, blue, cyan, reset string
}

var ansi = palette{
	red:    "\033[1;91m",
	green:  "\033[1;92m",
	yellow: "\033[1;93m",
	blue:   "\033[1;94m",
	cyan:   "\033[1;96m",
	reset:  "\033[0m",
}

// Logger provides leveled, optionally colored logging with an optional
// append-only file sink. ERROR lines go to the error writer, everything else
// to the output writer.
type Logger struct {
	mu      sync.Mutex
	colors  palette
	verbose bool
	out     io.Writer
	errOut  io.Writer
	file    *os.File
}

// New resolves colors from cfg.Color and opens cfg.LogFile if set. Call
// Close when done.
func New(cfg *config.Config) (*Logger, error) {
	l := NewWriter(os.Stdout, os.Stderr, cfg.Verbose)

	enable := false
	switch cfg.Color {
	case "always":
		enable = true
	case "auto":
		enable = IsTerminal(os.Stdout) && os.Getenv("NO_COLOR") == "" && strings.ToLower(os.Getenv("TERM")) != "dumb"
	}
	if enable {
		l.colors = ansi
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		l.file = f
	}
	return l, nil
}

// NewWriter returns an uncolored logger writing to out and errOut.
func NewWriter(out, errOut io.Writer, verbose bool) *Logger {
	return &Logger{out: out, errOut: errOut, verbose: verbose}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (l *Logger) Verbose() bool { return l.verbose }

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) line(level, color, text string) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()
	plain := ts + " [" + level + "] " + text + "\n"
	out := l.out
	if level == "ERROR" {
		out = l.errOut
	}
	if color != "" {
		_, _ = io.WriteString(out, ts+" "+color+"["+level+"]"+l.colors.reset+" "+text+"\n")
	} else {
		_, _ = io.WriteString(out, plain)
	}
	if l.file != nil {
		_, _ = io.WriteString(l.file, plain)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.line("INFO", l.colors.blue, fmt.Sprintf(format, args...))
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.line("SUCCESS", l.colors.green, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.line("WARN", l.colors.yellow, fmt.Sprintf(format, args...))
}

// Error logs at ERROR level, to the error writer.
func (l *Logger) Error(format string, args ...interface{}) {
	l.line("ERROR", l.colors.red, fmt.Sprintf(format, args...))
}

// Debug logs only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.line("DEBUG", l.colors.cyan, fmt.Sprintf(format, args...))
}
