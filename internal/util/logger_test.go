package util

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewConfig(t *testing.T) {
	prod := newConfig("production", "warn", "json")
	if prod.Encoding != "json" || prod.EncoderConfig.TimeKey != "timestamp" {
		t.Fatalf("unexpected production config %+v", prod)
	}
	if prod.Level.Level() != zapcore.WarnLevel || !prod.DisableStacktrace {
		t.Fatalf("production level %s stacktrace disabled %v", prod.Level.Level(), prod.DisableStacktrace)
	}

	dev := newConfig("development", "debug", "console")
	if dev.Encoding != "console" || dev.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("unexpected development config %+v", dev)
	}
	if dev.OutputPaths[0] != "stdout" {
		t.Fatalf("output paths %v", dev.OutputPaths)
	}
}

func TestGetInitialisesOnce(t *testing.T) {
	first := Get()
	if first == nil {
		t.Fatal("Get returned nil")
	}
	if Init("development", "debug", "console") != first {
		t.Fatal("Init must return the logger already built")
	}
}
