package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetupLevels(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"info":    logrus.InfoLevel,
		"unknown": logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}

	for level, want := range cases {
		log := Setup(level)
		assert.Equal(t, want, log.GetLevel(), "level %q", level)
		_, ok := log.Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok, "expected JSON formatter for level %q", level)
	}
}
