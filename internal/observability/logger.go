package observability

import "github.com/sirupsen/logrus"

// Logger is the structured logging surface the services and workers write to.
// WithField returns a derived logger so request- or booking-scoped fields
// accumulate without mutating the parent.
type Logger interface {
	Info(args ...interface{})
	Error(args ...interface{})
	Debug(args ...interface{})
	Warn(args ...interface{})
	WithField(key string, value interface{}) Logger
}

type jsonLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger builds a JSON-formatted logrus logger tagged with the service
// name, suitable for both the API binaries and the background workers.
func NewLogger() Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	return &jsonLogger{base: l, entry: l.WithField("service", "tours")}
}

func (l *jsonLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *jsonLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *jsonLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *jsonLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }

func (l *jsonLogger) WithField(key string, value interface{}) Logger {
	return &jsonLogger{base: l.base, entry: l.entry.WithField(key, value)}
}
