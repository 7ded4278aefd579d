package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger handles operational logging to stderr, keeping stdout clean for data output.
// It is safe for concurrent use; loggers derived with WithPrefix share one lock.
type Logger struct {
	mu     *sync.Mutex
	writer io.Writer
	prefix string
	quiet  bool
	debug  bool
}

// New creates a new logger that writes to stderr
func New(quiet, debug bool) *Logger {
	return NewWithWriter(os.Stderr, quiet, debug)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, quiet, debug bool) *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		writer: w,
		quiet:  quiet,
		debug:  debug,
	}
}

// Discard returns a logger that prints nothing
func Discard() *Logger {
	return NewWithWriter(io.Discard, true, false)
}

// WithPrefix returns a logger that starts every line with "[prefix] "
func (l *Logger) WithPrefix(prefix string) *Logger {
	scoped := *l
	scoped.prefix = l.prefix + "[" + prefix + "] "
	return &scoped
}

// Quiet reports whether informational output is suppressed
func (l *Logger) Quiet() bool {
	return l.quiet
}

func (l *Logger) write(tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.writer, tag+l.prefix+format+"\n", args...)
}

// Infof logs an informational message
func (l *Logger) Infof(format string, args ...interface{}) {
	if !l.quiet {
		l.write("", format, args...)
	}
}

// Successf logs a success message
func (l *Logger) Successf(format string, args ...interface{}) {
	if !l.quiet {
		l.write("✓ ", format, args...)
	}
}

// Warningf logs a warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	if !l.quiet {
		l.write("Warning: ", format, args...)
	}
}

// Errorf logs an error message (always shown, even in quiet mode)
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write("Error: ", format, args...)
}

// Debugf logs a debug message (only shown when debug mode is enabled)
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.write("DEBUG: ", format, args...)
	}
}

// Println prints a blank line (for spacing)
func (l *Logger) Println() {
	if !l.quiet {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, _ = fmt.Fprintln(l.writer)
	}
}
