// Package rlog is the reactor module's ambient logging sink: the "external
// log sink" collaborator spec.md §6 names, accepting line buffers and
// draining them on a dedicated goroutine so that no caller ever blocks on
// I/O inside a loop callback.
//
// It is built on github.com/joeycumines/logiface with
// github.com/joeycumines/stumpy as the concrete JSON event/writer
// implementation, mirroring eventloop/logging.go's own integration point
// for "logging frameworks like zerolog, logrus" within the same monorepo.
package rlog

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the six-level structured logger every reactor/tcp component
// logs through. The six spec.md §6 severities {trace, debug, info, warn,
// error, fatal} map onto logiface's syslog-style levels as Trace, Debug,
// Informational, Warning, Error and Alert (standing in for fatal).
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger, enabled at or above the given level, whose output
// lines are appended to the AsyncWriter w. Passing a nil w uses a new
// AsyncWriter draining to os.Stderr.
func New(w *AsyncWriter, level logiface.Level) *Logger {
	if w == nil {
		w = NewAsyncWriter(os.Stderr, 1024)
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// Default is the package-level logger used by components that are not
// handed an explicit Logger at construction. It is assembled once at
// process start, per DESIGN NOTES §9 "mutable global state" — this is the
// one intentional exception, matching the original library's single
// default log sink, and may be replaced wholesale via SetDefault.
var defaultLogger = New(nil, logiface.LevelInformational)

// SetDefault replaces the package default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package default logger.
func Default() *Logger { return defaultLogger }

// ExitFunc is called by Fatal after the fatal line has been logged. It
// defaults to os.Exit(1) and exists as a seam so tests can exercise the
// fatal-logging path without actually terminating the test process.
var ExitFunc = func() { os.Exit(1) }

// Fatal logs msg at LevelAlert (spec.md's "fatal") on l, flushes, and
// terminates the process, matching spec.md §6 "fatal terminates the
// process after flush".
func Fatal(l *Logger, msg string) {
	if l == nil {
		l = defaultLogger
	}
	l.Build(logiface.LevelAlert).Log(msg)
	ExitFunc()
}
