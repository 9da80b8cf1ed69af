package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want *zapcore.Level
	}{
		{"debug", levelPtr(zapcore.DebugLevel)},
		{"info", levelPtr(zapcore.InfoLevel)},
		{"warn", levelPtr(zapcore.WarnLevel)},
		{"error", levelPtr(zapcore.ErrorLevel)},
		{"WARN", levelPtr(zapcore.WarnLevel)},
		{"fatal", nil},
		{"verbose", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseLevel(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, *got, *tt.want)
			}
		})
	}
}

func TestNamedAndWithCarryFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).Named("engine").With(String("context", "relay-1"))

	log.Warn("route force stopped", String("route_id", "r1"), Error(errors.New("timeout")))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "engine" {
		t.Errorf("LoggerName = %q, want engine", e.LoggerName)
	}
	fields := e.ContextMap()
	if fields["context"] != "relay-1" {
		t.Errorf("context field = %v, want relay-1", fields["context"])
	}
	if fields["route_id"] != "r1" {
		t.Errorf("route_id field = %v, want r1", fields["route_id"])
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	log := NewNop()
	log.Info("ignored", Int("n", 1), Bool("b", true), Strings("s", []string{"a"}))
	log.Debugf("ignored %d", 1)
	if err := log.Sync(); err != nil {
		t.Errorf("Sync() on nop logger returned %v", err)
	}
}

func levelPtr(l zapcore.Level) *zapcore.Level { return &l }
