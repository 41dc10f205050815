package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// Level identifies the severity tag written to the session log file.
type Level string

// Session log levels. OK and STEP are provisioning statuses rather than
// severities: OK marks a completed action, STEP marks a stage banner.
const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelOK    Level = "OK"
	LevelStep  Level = "STEP"
)

const (
	// LogDirPermissions is the permission mask for the session log directory.
	LogDirPermissions = 0o755

	// LogFilePermissions is the permission mask for the session log file.
	LogFilePermissions = 0o644

	// appendFileFlags opens the install log for appending, creating it if absent.
	appendFileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

	// timestampLayout is the layout of the timestamp prefix in log file lines.
	timestampLayout = "2006-01-02 15:04:05"

	// indentWidth is the number of spaces per indentation level.
	indentWidth = 2
)

var (
	//nolint:gochecknoglobals // Console accents are process-wide by nature.
	okMark = color.New(color.FgGreen).Sprint("✓")
	//nolint:gochecknoglobals // Console accents are process-wide by nature.
	stepMark = color.New(color.FgCyan).Sprint("▶")
)

// Session mirrors every provisioning record to the console logger and
// appends it to a plain-text install log file. Records reach the file in
// call order, one line per record, unbuffered.
//
// The file format is fixed: "[yyyy-MM-dd HH:mm:ss] [LEVEL] message" with the
// record's indentation as leading spaces before the level tag.
type Session struct {
	// mu serializes file writes; shared across indented views of the session.
	mu *sync.Mutex
	// file is the install log sink. Writes to it are best-effort after open.
	file afero.File
	// indent is the indentation depth applied to records from this view.
	indent int
	// now returns the record timestamp; overridable in tests.
	now func() time.Time
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock overrides the timestamp source, mainly for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// OpenSession creates the log directory and opens the install log file for
// appending. A directory or file creation failure is returned to the caller
// and is fatal at session start; afterwards file write errors are swallowed
// so logging can never abort a provisioning stage.
func OpenSession(fs afero.Fs, logDir, fileName string, opts ...SessionOption) (*Session, error) {
	if err := fs.MkdirAll(logDir, LogDirPermissions); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := fs.OpenFile(
		filepath.Join(logDir, fileName),
		appendFileFlags,
		LogFilePermissions,
	)
	if err != nil {
		return nil, fmt.Errorf("open install log: %w", err)
	}

	s := &Session{
		mu:   new(sync.Mutex),
		file: file,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close closes the install log file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.Close()
}

// WithIndent returns a view of the session whose records are indented
// depth levels deeper. The underlying file and ordering are shared.
func (s *Session) WithIndent(depth int) *Session {
	view := *s
	view.indent += depth

	return &view
}

// Log writes one record at the given level to the console and the log file.
func (s *Session) Log(ctx context.Context, level Level, message string) {
	s.console(ctx, level, message)
	s.appendLine(level, message)
}

// Infof logs a formatted INFO record.
func (s *Session) Infof(ctx context.Context, format string, args ...any) {
	s.Log(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted WARN record.
func (s *Session) Warnf(ctx context.Context, format string, args ...any) {
	s.Log(ctx, LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted ERROR record.
func (s *Session) Errorf(ctx context.Context, format string, args ...any) {
	s.Log(ctx, LevelError, fmt.Sprintf(format, args...))
}

// OKf logs a formatted OK record marking a completed action.
func (s *Session) OKf(ctx context.Context, format string, args ...any) {
	s.Log(ctx, LevelOK, fmt.Sprintf(format, args...))
}

// Stepf logs a formatted STEP record marking a stage banner.
func (s *Session) Stepf(ctx context.Context, format string, args ...any) {
	s.Log(ctx, LevelStep, fmt.Sprintf(format, args...))
}

// console forwards the record to the context logger, colored by level.
func (s *Session) console(ctx context.Context, level Level, message string) {
	message = s.pad() + message

	switch level {
	case LevelWarn:
		Warn(ctx, message)
	case LevelError:
		Error(ctx, message)
	case LevelOK:
		Info(ctx, okMark+" "+message)
	case LevelStep:
		Info(ctx, stepMark+" "+message)
	case LevelInfo:
		Info(ctx, message)
	default:
		Info(ctx, message)
	}
}

// appendLine writes the plain log file line. Errors are intentionally
// dropped: an unwritable log file must not crash a running stage.
func (s *Session) appendLine(level Level, message string) {
	line := fmt.Sprintf(
		"[%s] %s[%s] %s\n",
		s.now().Format(timestampLayout),
		s.pad(),
		level,
		message,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.file.WriteString(line)
}

// pad returns the indentation prefix for this view.
func (s *Session) pad() string {
	if s.indent <= 0 {
		return ""
	}

	return strings.Repeat(" ", s.indent*indentWidth)
}
