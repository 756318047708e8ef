package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikeyg42/camwatch/internal/config"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zap.DebugLevel, false},
		{"INFO", zap.InfoLevel, false},
		{"", zap.InfoLevel, false},
		{"warn", zap.WarnLevel, false},
		{"error", zap.ErrorLevel, false},
		{"verbose", zap.InfoLevel, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseLevel(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSetupInstallsGlobal(t *testing.T) {
	logger, restore, err := Setup(config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer restore()

	if zap.L() != logger {
		t.Fatal("expected global logger to be replaced")
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
}
