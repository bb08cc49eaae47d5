// Copyright 2025 The Conduit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the interface used throughout the project for logging.
type Logger interface {
	// Debug logs debug messages
	Debug(msg string, keysAndValues ...interface{})
	// Info logs informational messages
	Info(msg string, keysAndValues ...interface{})
	// Warn logs warning messages
	Warn(msg string, keysAndValues ...interface{})
	// Error logs error messages
	Error(msg string, keysAndValues ...interface{})
	// DebugContext logs debug messages with context
	DebugContext(ctx context.Context, msg string, keysAndValues ...interface{})
	// InfoContext logs informational messages with context
	InfoContext(ctx context.Context, msg string, keysAndValues ...interface{})
	// WarnContext logs warning messages with context
	WarnContext(ctx context.Context, msg string, keysAndValues ...interface{})
	// ErrorContext logs error messages with context
	ErrorContext(ctx context.Context, msg string, keysAndValues ...interface{})
}

// StdLogger is the standard logger
type StdLogger struct {
	outLogger *slog.Logger
	errLogger *slog.Logger
}

// NewStdLogger create a Logger that uses out and err for informational and error messages.
func NewStdLogger(outW, errW io.Writer, logLevel string) (Logger, error) {
	//Set log level
	var programLevel = new(slog.LevelVar)
	slogLevel, err := SeverityToLevel(logLevel)
	if err != nil {
		return nil, err
	}
	programLevel.Set(slogLevel)

	handlerOptions := &slog.HandlerOptions{Level: programLevel}

	return &StdLogger{
		outLogger: slog.New(newValueTextHandler(outW, handlerOptions)),
		errLogger: slog.New(newValueTextHandler(errW, handlerOptions)),
	}, nil
}

// Debug logs debug messages
func (sl *StdLogger) Debug(msg string, keysAndValues ...interface{}) {
	sl.outLogger.Debug(msg, keysAndValues...)
}

// Info logs informational messages
func (sl *StdLogger) Info(msg string, keysAndValues ...interface{}) {
	sl.outLogger.Info(msg, keysAndValues...)
}

// Warn logs warning messages
func (sl *StdLogger) Warn(msg string, keysAndValues ...interface{}) {
	sl.errLogger.Warn(msg, keysAndValues...)
}

// Error logs error messages
func (sl *StdLogger) Error(msg string, keysAndValues ...interface{}) {
	sl.errLogger.Error(msg, keysAndValues...)
}

// DebugContext logs debug messages with context
func (sl *StdLogger) DebugContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.outLogger.DebugContext(ctx, msg, keysAndValues...)
}

// InfoContext logs informational messages with context
func (sl *StdLogger) InfoContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.outLogger.InfoContext(ctx, msg, keysAndValues...)
}

// WarnContext logs warning messages with context
func (sl *StdLogger) WarnContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.errLogger.WarnContext(ctx, msg, keysAndValues...)
}

// ErrorContext logs error messages with context
func (sl *StdLogger) ErrorContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.errLogger.ErrorContext(ctx, msg, keysAndValues...)
}

// StructuredLogger is the logger that emits one JSON object per line.
type StructuredLogger struct {
	outLogger *slog.Logger
	errLogger *slog.Logger
}

// NewStructuredLogger create a Logger that logs messages in JSON format.
func NewStructuredLogger(outW, errW io.Writer, logLevel string) (Logger, error) {
	//Set log level
	var programLevel = new(slog.LevelVar)
	slogLevel, err := SeverityToLevel(logLevel)
	if err != nil {
		return nil, err
	}
	programLevel.Set(slogLevel)

	handlerOptions := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
			case slog.LevelKey:
				a.Key = "severity"
			case slog.MessageKey:
				a.Key = "message"
			}
			return a
		},
	}

	return &StructuredLogger{
		outLogger: slog.New(slog.NewJSONHandler(outW, handlerOptions)),
		errLogger: slog.New(slog.NewJSONHandler(errW, handlerOptions)),
	}, nil
}

// Debug logs debug messages
func (sl *StructuredLogger) Debug(msg string, keysAndValues ...interface{}) {
	sl.outLogger.Debug(msg, keysAndValues...)
}

// Info logs informational messages
func (sl *StructuredLogger) Info(msg string, keysAndValues ...interface{}) {
	sl.outLogger.Info(msg, keysAndValues...)
}

// Warn logs warning messages
func (sl *StructuredLogger) Warn(msg string, keysAndValues ...interface{}) {
	sl.errLogger.Warn(msg, keysAndValues...)
}

// Error logs error messages
func (sl *StructuredLogger) Error(msg string, keysAndValues ...interface{}) {
	sl.errLogger.Error(msg, keysAndValues...)
}

// DebugContext logs debug messages with context
func (sl *StructuredLogger) DebugContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.outLogger.DebugContext(ctx, msg, keysAndValues...)
}

// InfoContext logs informational messages with context
func (sl *StructuredLogger) InfoContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.outLogger.InfoContext(ctx, msg, keysAndValues...)
}

// WarnContext logs warning messages with context
func (sl *StructuredLogger) WarnContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.errLogger.WarnContext(ctx, msg, keysAndValues...)
}

// ErrorContext logs error messages with context
func (sl *StructuredLogger) ErrorContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	sl.errLogger.ErrorContext(ctx, msg, keysAndValues...)
}

const (
	Debug = "DEBUG"
	Info  = "INFO"
	Warn  = "WARN"
	Error = "ERROR"
)

// SeverityToLevel returns severity level based on string.
func SeverityToLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case Debug:
		return slog.LevelDebug, nil
	case Info:
		return slog.LevelInfo, nil
	case Warn:
		return slog.LevelWarn, nil
	case Error:
		return slog.LevelError, nil
	default:
		return slog.Level(-5), fmt.Errorf("invalid log level")
	}
}
