// Package logging defines the logger contract the server core writes to.
// The implementation is pluggable; the default is backed by the standard
// library log package.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/xentixar/sockeon-go/api"
)

// Logger is the four-level logging contract used across the core.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Standard returns a Logger writing to stderr via log.Logger. debug toggles
// whether Debugf lines are emitted at all.
func Standard(debug bool) Logger {
	return &stdLogger{l: log.New(os.Stderr, "", log.LstdFlags|log.Lmsgprefix), debug: debug}
}

type stdLogger struct {
	l     *log.Logger
	debug bool
}

func (s *stdLogger) Debugf(format string, args ...any) {
	if s.debug {
		s.l.Printf("[DEBUG] "+format, args...)
	}
}

func (s *stdLogger) Infof(format string, args ...any)  { s.l.Printf("[INFO] "+format, args...) }
func (s *stdLogger) Warnf(format string, args ...any)  { s.l.Printf("[WARN] "+format, args...) }
func (s *stdLogger) Errorf(format string, args ...any) { s.l.Printf("[ERROR] "+format, args...) }

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// LogError writes a structured api.Error with its phase, client id, and
// context bag on one line.
func LogError(l Logger, err *api.Error) {
	if err == nil {
		return
	}
	if len(err.Context) > 0 {
		l.Errorf("%v ctx=%s", err, formatContext(err.Context))
		return
	}
	l.Errorf("%v", err)
}

func formatContext(ctx map[string]any) string {
	out := ""
	for k, v := range ctx {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out
}
