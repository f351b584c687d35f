package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func resetLevels(t *testing.T) {
	t.Cleanup(func() {
		mut.Lock()
		logLevel = zapcore.InfoLevel
		packageLevels = make(map[string]zapcore.Level)
		refreshLevels()
		mut.Unlock()
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", 0, true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q): unexpected error: %v", test.in, err)
			continue
		}
		if !test.wantErr && got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestPackageLevels(t *testing.T) {
	resetLevels(t)
	SetLogLevel("error")
	SetPackageLogLevel("service", "debug")
	SetPackageLogLevel("service.process", "warn")

	mut.RLock()
	defer mut.RUnlock()
	tests := []struct {
		name string
		want zapcore.Level
	}{
		{"rules", zapcore.ErrorLevel},
		{"service", zapcore.DebugLevel},
		{"service.thread", zapcore.DebugLevel},
		{"service.process", zapcore.WarnLevel},
		{"serviceX", zapcore.ErrorLevel},
	}
	for _, test := range tests {
		if got := levelFor(test.name); got != test.want {
			t.Errorf("levelFor(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestLevelChangeAppliesToExistingLoggers(t *testing.T) {
	resetLevels(t)
	SetLogLevel("info")

	var buf bytes.Buffer
	logger := NewWithDest(&buf, "storage")

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug message was logged at info level: %q", buf.String())
	}

	SetPackageLogLevel("storage", "debug")
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug message was not logged after lowering the package level: %q", buf.String())
	}
}

func BenchmarkLogger(b *testing.B) {
	SetLogLevel("error")
	logger := New("test")

	for i := 0; i < b.N; i++ {
		logger.Info("test")
	}
}
