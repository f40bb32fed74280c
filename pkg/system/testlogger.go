package system

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger returns a sugared logger that writes through t.Log at debug
// level, so pipeline logs only show up for failing or verbose tests.
func NewTestLogger(t testing.TB) *zap.SugaredLogger {
	return NewTestZapLogger(t).Sugar()
}

// NewTestZapLogger is NewTestLogger for callers that need a *zap.Logger,
// such as the API server.
func NewTestZapLogger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t,
		zaptest.Level(zapcore.DebugLevel),
		zaptest.WrapOptions(zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel)),
	)
}
