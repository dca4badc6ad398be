package wrshare

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel specifies the level of spew that should go to the log
type LogLevel int

const (
	// LogLevelUnknown is a default value for LogLevel. Its
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for Warning messages
	LogLevelWarning

	// LogLevelInfo is for Info messages
	LogLevelInfo

	// LogLevelDebug is for debug messages
	LogLevelDebug

	// LogLevelTrace is for trace messages, including every relayed frame
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

var nameToLogLevel = func() map[string]LogLevel {
	var result = make(map[string]LogLevel)
	for i, name := range logLevelNames {
		result[name] = LogLevel(i)
	}
	result["warn"] = LogLevelWarning
	return result
}()

// StringToLogLevel converts a string to a LogLevel. Returns LogLevelUnknown
// if the name is not recognized.
func StringToLogLevel(s string) LogLevel {
	result, ok := nameToLogLevel[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		result = LogLevelUnknown
	}
	return result
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// FromString initializes a LogLevel from a string
func (x *LogLevel) FromString(s string) error {
	result := StringToLogLevel(s)
	if result == LogLevelUnknown {
		return fmt.Errorf("Unknown log level: \"%s\"", s)
	}
	*x = result
	return nil
}

// Logger is an interface for a logging component that supports logging levels and prefix forking
type Logger interface {
	// Prefix returns the Logger's prefix string (does not include ": " trailer)
	Prefix() string

	// GetLogLevel returns the current log level
	GetLogLevel() LogLevel

	// SetLogLevel changes the log level
	SetLogLevel(logLevel LogLevel)

	// Panic outputs a log message and then panics
	Panic(args ...interface{})

	// Panicf outputs a formatted log message and then panics
	Panicf(f string, args ...interface{})

	// PanicOnError does nothing if err is nil; otherwise
	// outputs a log message and then panics
	PanicOnError(err error)

	// Logf outputs to a Logger iff logLevel is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	// ELogf outputs to a Logger iff ERROR logging level is enabled
	ELogf(f string, args ...interface{})

	// WLogf outputs to a Logger iff WARNING logging level is enabled
	WLogf(f string, args ...interface{})

	// ILogf outputs to a Logger iff INFO logging level is enabled
	ILogf(f string, args ...interface{})

	// DLogf outputs to a Logger iff DEBUG logging level is enabled
	DLogf(f string, args ...interface{})

	// TLogf outputs to a Logger iff TRACE logging level is enabled
	TLogf(f string, args ...interface{})

	// Errorf returns an error object with a description string that has the
	// Logger's prefix
	Errorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// ELogErrorf outputs an error message to a Logger iff ERROR logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	ELogErrorf(f string, args ...interface{}) error

	// DLogErrorf outputs an error message to a Logger iff DEBUG logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger that has an additional formatted string appended onto
	// an existing logger's prefix (with ": " added between)
	Fork(prefix string, args ...interface{}) Logger
}

// BasicLogger is a logical log output stream with a level filter
// and a prefix added to each output record.
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC  string
	logger   *log.Logger
	logLevel LogLevel
}

const defaultLogFlags = log.Ldate | log.Ltime

// NewLogger creates a new Logger with a given prefix and default flags,
// emitting output to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	return NewLoggerWithWriter(os.Stderr, prefix, defaultLogFlags, logLevel)
}

// NewLoggerWithWriter creates a new Logger with a given prefix and flags, emitting
// output to w
func NewLoggerWithWriter(w io.Writer, prefix string, flag int, logLevel LogLevel) Logger {
	return newBasicLogger(log.New(w, "", flag), prefix, logLevel)
}

func newBasicLogger(l *log.Logger, prefix string, logLevel LogLevel) *BasicLogger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		logger:   l,
		logLevel: logLevel,
	}
}

// emit outputs an already-prefixed message if logLevel is enabled. Then,
// if logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) emit(logLevel LogLevel, msg string) {
	if logLevel > l.logLevel && logLevel > LogLevelFatal {
		return
	}
	l.logger.Print(msg)
	switch logLevel {
	case LogLevelFatal:
		os.Exit(1)
	case LogLevelPanic:
		panic(msg)
	}
}

// Logf outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if logLevel <= l.logLevel || logLevel <= LogLevelFatal {
		l.emit(logLevel, l.Sprintf(f, args...))
	}
}

// LogErrorf outputs an error message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) LogErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	msg := l.Sprintf(f, args...)
	l.emit(logLevel, msg)
	return errors.New(msg)
}

// Panic outputs a log message and then panics
func (l *BasicLogger) Panic(args ...interface{}) {
	l.emit(LogLevelPanic, l.prefixC+fmt.Sprint(args...))
}

// PanicOnError does nothing if err is nil; otherwise
// outputs a log message and then panics
func (l *BasicLogger) PanicOnError(err error) {
	if err != nil {
		l.Panic(err)
	}
}

// Panicf outputs a formatted log message and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) {
	l.Logf(LogLevelPanic, f, args...)
}

// ELogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ELogf(f string, args ...interface{}) {
	l.Logf(LogLevelError, f, args...)
}

// WLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) WLogf(f string, args ...interface{}) {
	l.Logf(LogLevelWarning, f, args...)
}

// ILogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ILogf(f string, args ...interface{}) {
	l.Logf(LogLevelInfo, f, args...)
}

// DLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) DLogf(f string, args ...interface{}) {
	l.Logf(LogLevelDebug, f, args...)
}

// TLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) TLogf(f string, args ...interface{}) {
	l.Logf(LogLevelTrace, f, args...)
}

// Errorf returns an error object with a description string that has the
// Logger's prefix
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	return errors.New(l.Sprintf(f, args...))
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

// ELogErrorf outputs an error message to a Logger iff ERROR logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.LogErrorf(LogLevelError, f, args...)
}

// DLogErrorf outputs an error message to a Logger iff DEBUG logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.LogErrorf(LogLevelDebug, f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between). The forked logger shares
// the parent's output stream and flags.
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	newPrefix := fmt.Sprintf(prefix, args...)
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + newPrefix
	}
	return newBasicLogger(l.logger, newPrefix, l.logLevel)
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.logLevel = logLevel
}
