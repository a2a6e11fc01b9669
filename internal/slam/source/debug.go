package source

import (
	"io"
	"log"
)

var opsLogger, diagLogger, traceLogger *log.Logger

// SetLogWriters configures the source package's streams: ops for frames that
// fail to decode, diag for sequence discovery and sub-stream switches, trace
// for every decoded frame. A nil writer disables its stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger(ops)
	diagLogger = newLogger(diag)
	traceLogger = newLogger(trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[source] ", log.LstdFlags|log.Lmicroseconds)
}

func logf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

func opsf(format string, args ...interface{})   { logf(opsLogger, format, args...) }
func diagf(format string, args ...interface{})  { logf(diagLogger, format, args...) }
func tracef(format string, args ...interface{}) { logf(traceLogger, format, args...) }
