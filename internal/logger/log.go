package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	OFF
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "OFF"
	}
}

// ParseLevel maps a level name to a Level. Unknown names are an error.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	}
	return INFO, fmt.Errorf("unknown log level: %q", name)
}

// sink is shared by a logger and every child created with Named so that
// lines from different components never interleave.
type sink struct {
	mu       sync.Mutex
	debugLog *log.Logger
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
}

type Logger struct {
	level     Level
	component string
	out       *sink
}

// New creates a logger writing to stderr. Unknown level names fall back to INFO.
func New(level string) *Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = INFO
	}
	return NewWithWriter(lvl, os.Stderr)
}

// NewWithWriter creates a logger writing every level to w.
func NewWithWriter(level Level, w io.Writer) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds

	return &Logger{
		level: level,
		out: &sink{
			debugLog: log.New(w, "[DEBUG] ", flags),
			infoLog:  log.New(w, "[INFO] ", flags),
			warnLog:  log.New(w, "[WARN] ", flags),
			errorLog: log.New(w, "[ERROR] ", flags),
		},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(OFF, io.Discard)
}

// Named returns a child logger whose lines are tagged with component.
func (l *Logger) Named(component string) *Logger {
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return &Logger{level: l.level, component: name, out: l.out}
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return l.level != OFF && l.level <= level
}

func (l *Logger) emit(level Level, target *log.Logger, format string, args []interface{}) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		msg = "[" + l.component + "] " + msg
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	target.Output(3, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(DEBUG, l.out.debugLog, format, args)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(INFO, l.out.infoLog, format, args)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(WARN, l.out.warnLog, format, args)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(ERROR, l.out.errorLog, format, args)
}
