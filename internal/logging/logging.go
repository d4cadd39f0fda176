// Package logging provides the process-wide structured logger, reconstructed
// from the upstream codebase's app/utils/logger call sites (logger.GetLogger()
// returning a *logrus.Logger used with WithFields(logrus.Fields{...})).
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Init configures the process-wide logger. level is a logrus level string
// ("debug", "info", ...); format is "json" or "text". Safe to call once at
// startup; GetLogger works even if Init was never called (falls back to
// info/json).
func Init(level, format string) {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
	})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// GetLogger returns the process-wide logger, initializing it with defaults
// on first use if Init was never called.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}
