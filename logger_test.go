// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewZapLogger(zap.New(core)), logs
}

func TestZapLogger(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	logger.Debug("hidden %d", 1)
	logger.Info("run %s started", "abc")
	logger.Warning("slow: %dms", 1500)
	logger.Error("failed")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "run abc started", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "slow: 1500ms", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestMutatorLogsDecodeFailure(t *testing.T) {
	logger, logs := observedLogger(zapcore.WarnLevel)
	m := NewMutator()
	m.SetLogger(logger)

	tmpl := NewRequestTemplate()
	tmpl.Query.Set(ParamsKey, "%7Bbad")
	m.Modify(tmpl, "params.page", "1")

	entries := logs.FilterMessageSnippet(`cannot decode JSON in query key "params"`).All()
	assert.Len(t, entries, 1)
}

func TestBuiltinLoggers(t *testing.T) {
	for _, l := range []Logger{NewDefaultLogger(), NewDevelopmentLogger(), NewNoopLogger()} {
		assert.NotPanics(t, func() { l.Debug("x %v", nil) })
	}
}
