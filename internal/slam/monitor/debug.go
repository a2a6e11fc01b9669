package monitor

import (
	"io"
	"log"
	"net/http"
	"time"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the monitor's streams. ops gets handler and
// rendering failures plus fusion changes made over the API, diag gets health
// transitions, trace gets one line per API request. A nil writer disables
// its stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger(ops)
	diagLogger = newLogger(diag)
	traceLogger = newLogger(trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[monitor] ", log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// traced logs the method, URI and latency of each request to the trace stream.
func traced(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if traceLogger == nil {
			h(w, r)
			return
		}
		start := time.Now()
		h(w, r)
		tracef("%s %s %v", r.Method, r.URL.RequestURI(), time.Since(start))
	}
}
