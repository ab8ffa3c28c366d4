package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{input: "debug", expected: zapcore.DebugLevel},
		{input: " WARN ", expected: zapcore.WarnLevel},
		{input: "warning", expected: zapcore.WarnLevel},
		{input: "error", expected: zapcore.ErrorLevel},
		{input: "", expected: zapcore.InfoLevel},
		{input: "verbose", expected: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewLoggerBuilds(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}
