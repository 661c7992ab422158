package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Logger)
	loggersMu sync.Mutex
)

// New returns the logger for a function name, creating it on first use.
// Output is JSON on stdout so CloudWatch can index the fields.
func New(fn string) *logrus.Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[fn]; ok {
		return l
	}
	l := build(os.Stdout, os.Getenv("LOG_LEVEL"))
	l.AddHook(fnHook{fn: fn})
	loggers[fn] = l
	return l
}

func build(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps LOG_LEVEL to a logrus level, defaulting to info.
func ParseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Discard is a logger that writes nowhere, for tests and dry runs.
func Discard() *logrus.Logger {
	return build(io.Discard, "panic")
}

type fnHook struct{ fn string }

func (fnHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h fnHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["fn"]; !ok {
		e.Data["fn"] = h.fn
	}
	return nil
}
