// Package logger configures the process-wide logrus logger and hands out
// component-scoped entries.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log = newLogger()
	mu  sync.RWMutex
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	return l
}

// Init sets the level (debug, info, warn, error) and format (text, json)
// of the global logger.
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	case "text", "":
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"}
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	mu.Lock()
	defer mu.Unlock()
	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	return nil
}

// SetOutput redirects the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// For returns an entry tagged with component.
func For(component string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return log.WithField("component", component)
}
