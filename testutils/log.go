// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a logger that writes Debug+ logs through the test.
func NewTestLogger(tb testing.TB) *zap.SugaredLogger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (*zap.SugaredLogger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	testLogger := zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel))
	logger := zap.New(zapcore.NewTee(testLogger.Core(), observerCore))
	return logger.Sugar(), observedLogs
}
