// Package logging builds the process logger and provides helpers for
// logging user-supplied question text safely.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxQuestionLogLength is the maximum length of a question to log.
const MaxQuestionLogLength = 120

// New builds the process logger. Local environments get the development
// console encoder; everything else gets production JSON.
func New(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// SanitizeQuestion truncates a question for logging. Question text can
// contain anything a user types, so it is never logged at full length.
func SanitizeQuestion(q string) string {
	return TruncateString(q, MaxQuestionLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
