package log

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr int
	}{
		{"defaults", "info", "console", 0},
		{"json debug", "debug", "json", 0},
		{"bad level", "loud", "console", 1},
		{"bad format", "info", "xml", 1},
		{"both bad", "loud", "xml", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			o.Level, o.Format = tt.level, tt.format
			if errs := o.Validate(); len(errs) != tt.wantErr {
				t.Errorf("Validate() = %v, want %d errors", errs, tt.wantErr)
			}
		})
	}
}

func TestNewFromZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core)).WithName("engine").WithValues("device", 4242)

	l.Info("cycle started", "power", 80.5)
	l.Error(errors.New("broker down"), "publish failed", "topic", "VirtualVacuumRobot_General")
	l.Logr().V(0).Info("via logr", "kind", "CLEANING")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("logged %d entries, want 3", len(entries))
	}
	if entries[0].LoggerName != "engine" {
		t.Errorf("LoggerName = %q, want engine", entries[0].LoggerName)
	}
	if got := entries[0].ContextMap()["device"]; got != int64(4242) {
		t.Errorf("device field = %v, want 4242", got)
	}
	if got := entries[1].ContextMap()["error"]; got != "broker down" {
		t.Errorf("error field = %v, want broker down", got)
	}
	if entries[2].Message != "via logr" {
		t.Errorf("Message = %q, want via logr", entries[2].Message)
	}
}

func TestNewFromZapNil(t *testing.T) {
	l := NewFromZap(nil)
	l.Info("dropped")
	if err := l.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}
