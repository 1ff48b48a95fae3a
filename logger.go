// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warning(msg string, args ...any)
	Error(msg string, args ...any)
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

// NewDefaultLogger returns a production zap logger writing JSON lines to stderr.
func NewDefaultLogger() Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return NewNoopLogger()
	}
	return &zapLogger{logger: l.Sugar()}
}

// NewDevelopmentLogger returns a human readable console logger at debug level.
func NewDevelopmentLogger() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return NewNoopLogger()
	}
	return &zapLogger{logger: l.Sugar()}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{logger: l.Sugar()}
}

func (l *zapLogger) Info(msg string, args ...any) {
	l.logger.Infof(msg, args...)
}

func (l *zapLogger) Debug(msg string, args ...any) {
	l.logger.Debugf(msg, args...)
}

func (l *zapLogger) Warning(msg string, args ...any) {
	l.logger.Warnf(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...any) {
	l.logger.Errorf(msg, args...)
}

type noopLogger struct{}

func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Info(msg string, args ...any) {
}

func (noopLogger) Debug(msg string, args ...any) {
}

func (noopLogger) Warning(msg string, args ...any) {
}

func (noopLogger) Error(msg string, args ...any) {
}
