// Package monitoring holds the process-wide diagnostic log hook.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger, for example to mute output in tests.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Writer adapts Logf to an io.Writer so per-package log streams can be
// routed through it. Each Write is logged as one line.
type Writer struct{}

func (Writer) Write(p []byte) (int, error) {
	Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
