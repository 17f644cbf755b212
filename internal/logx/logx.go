// Package logx is a thin wrapper over charmbracelet/log providing five
// levels (err/warn/info/dbg/spew) with a per-module prefix,
// generalizing the DW_COLOR_*/dw_printf pair (src/textcolor.go,
// src/log.go) into real structured logging instead of ANSI
// color-coded stdout text.
package logx

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// SpewLevel is more verbose than log.DebugLevel; it is the core's
// "spew" tier for decoder-internal state dumps too noisy for routine
// -v debugging.
const SpewLevel log.Level = log.DebugLevel - 4

// Logger wraps *log.Logger with a module prefix and a Spew method.
type Logger struct {
	*log.Logger
	module string
}

// New returns a Logger prefixed with module (e.g. "vcd", "stf", "la8",
// "feed", "trigger", "session").
func New(module string) *Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          module,
	})
	return &Logger{Logger: l, module: module}
}

// Spew logs at SpewLevel: enabled only when the logger's level is set
// at or below SpewLevel.
func (l *Logger) Spew(msg string, keyvals ...any) {
	l.Logger.Log(SpewLevel, msg, keyvals...)
}

// SetLevelName parses one of "spew", "debug", "info", "warn", "error"
// (case-insensitive) and applies it, returning an error for anything
// else.
func (l *Logger) SetLevelName(name string) error {
	switch strings.ToLower(name) {
	case "spew":
		l.Logger.SetLevel(SpewLevel)
		return nil
	default:
		lvl, err := log.ParseLevel(name)
		if err != nil {
			return err
		}
		l.Logger.SetLevel(lvl)
		return nil
	}
}
