// Package logging configures the process-wide logrus logger, the same
// way cmd/maxiofs's setupLogging does: JSON output, level parsed from
// config. The teacher's dynamic multi-output dispatch system (database-
// backed log targets, syslog/HTTP forwarders) has no analogue here — the
// engine just needs structured logging at its operation boundaries, not
// a pluggable log-shipping product — so it is not carried forward.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger for level (one of debug,
// info, warn, error) and returns it.
func Setup(level string) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}
