package gmail

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger receives the package's log entries. It must be safe for
// concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithAttrs(args ...any) Logger
}

var current atomic.Pointer[Logger]

func init() {
	SetLogger(nil)
}

// SetLogger routes log entries to logger, tagged component=gmail/imap.
// nil restores the default text logger on stderr.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = SlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}
	logger = logger.WithAttrs("component", "gmail/imap")
	current.Store(&logger)
}

// SetSlogLogger is SetLogger for a *slog.Logger.
func SetSlogLogger(logger *slog.Logger) {
	SetLogger(SlogLogger(logger))
}

// SlogLogger adapts a *slog.Logger to Logger.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return slogLogger{logger}
}

type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s slogLogger) WithAttrs(args ...any) Logger { return slogLogger{s.l.With(args...)} }

func getLogger() Logger { return *current.Load() }

// logScope is what a log entry is about. Zero fields are left out, so the
// zero value logs without connection context.
type logScope struct {
	conn    int
	user    string
	mailbox string
}

func (s logScope) logger() Logger {
	var attrs []any
	if s.conn != 0 {
		attrs = append(attrs, "conn", s.conn)
	}
	if s.user != "" {
		attrs = append(attrs, "user", s.user)
	}
	if s.mailbox != "" {
		attrs = append(attrs, "mailbox", s.mailbox)
	}
	if len(attrs) == 0 {
		return getLogger()
	}
	return getLogger().WithAttrs(attrs...)
}

// debug only logs when Verbose is set.
func (s logScope) debug(msg string, args ...any) {
	if Verbose {
		s.logger().Debug(msg, args...)
	}
}

func (s logScope) warn(msg string, args ...any) { s.logger().Warn(msg, args...) }

func (s logScope) error(msg string, args ...any) { s.logger().Error(msg, args...) }
