package log

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// BadgerLogger implements badger.Logger on top of a logrus entry.
// Badger's Info output (table loads, compactions) is demoted to debug.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger creates a new adapter
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry}
}

// Errorf logs an error message
func (l *BadgerLogger) Errorf(f string, v ...interface{}) { l.entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerLogger) Warningf(f string, v ...interface{}) { l.entry.Warnf(f, v...) }

// Infof logs at debug level
func (l *BadgerLogger) Infof(f string, v ...interface{}) { l.entry.Debugf(f, v...) }

// Debugf logs at trace level
func (l *BadgerLogger) Debugf(f string, v ...interface{}) { l.entry.Tracef(f, v...) }

// RequestLogger returns chi middleware that logs one line per request.
func RequestLogger(entry *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).Round(time.Microsecond),
			}
			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				fields["request_id"] = reqID
			}
			if ww.Status() >= http.StatusInternalServerError {
				entry.WithFields(fields).Warn("request failed")
				return
			}
			entry.WithFields(fields).Debug("request served")
		})
	}
}
